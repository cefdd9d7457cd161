package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// SimpleWriter renders a Summary as aligned plain text.
type SimpleWriter struct {
	baseWriter

	// verbose adds paths and the template.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose adds paths and the URL template to the output.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write renders s.
func (w *SimpleWriter) Write(s *Summary) (int, error) {
	var sb strings.Builder

	w.writeState(&sb, s)
	if s.Run != nil {
		w.writeRun(&sb, s.Run)
	}
	if s.Identity != nil {
		w.writeIdentity(&sb, s.Identity)
	}

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeState(sb *strings.Builder, s *Summary) {
	sb.WriteString("Crawl state\n")
	sb.WriteString(strings.Repeat("=", 40) + "\n")
	if w.verbose && s.Template != "" {
		row(sb, "Template", s.Template)
	}
	row(sb, "Requests done", fmt.Sprintf("%d (%s)", s.RequestsDone, s.Backend))
	if !s.LastRequest.IsZero() {
		row(sb, "Last request", s.LastRequest.Format(time.RFC3339))
	}
	row(sb, "Records", fmt.Sprintf("%d raw, %d unique, %d duplicate", s.RawRecords, s.UniqueRecords, s.Duplicates()))
	exported := "not exported"
	if s.Exported {
		exported = "exported"
	}
	row(sb, "Export", fmt.Sprintf("%s (%s)", s.ExportPath, exported))
	if w.verbose {
		row(sb, "Request log", s.RequestLogPath)
		row(sb, "Record log", s.DataPath)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeRun(sb *strings.Builder, r *RunStats) {
	sb.WriteString("Run\n")
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	row(sb, "Attempted", fmt.Sprint(r.Attempted))
	row(sb, "Fetched", fmt.Sprint(r.Fetched))
	row(sb, "Skipped", fmt.Sprint(r.Skipped))
	row(sb, "Failed", fmt.Sprint(r.Failed))
	row(sb, "Records", fmt.Sprint(r.Records))
	row(sb, "Elapsed", r.Elapsed.Round(time.Millisecond).String())
	if r.Error != "" {
		row(sb, "Stopped", r.Error)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeIdentity(sb *strings.Builder, id *IdentityStats) {
	sb.WriteString("Identity\n")
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	row(sb, "Rotation mode", id.Mode)
	row(sb, "State", id.State)
	if id.Address != "" {
		row(sb, "Exit address", id.Address)
	}
	row(sb, "Rotations", fmt.Sprint(id.Rotations))
	row(sb, "Exhaustions", fmt.Sprint(id.Exhaustions))
	row(sb, "Since rotation", fmt.Sprint(id.RequestsSinceRotation))
	sb.WriteString("\n")
}

func row(sb *strings.Builder, label, value string) {
	fmt.Fprintf(sb, "  %-16s %s\n", label+":", value)
}
