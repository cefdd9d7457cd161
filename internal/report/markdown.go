package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter renders a Summary as Markdown with
// github.com/nao1215/markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write renders s.
func (w *MarkdownWriter) Write(s *Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeState(md, s)
	if s.Run != nil {
		w.writeRun(md, s.Run)
	}
	if s.Identity != nil {
		w.writeIdentity(md, s.Identity)
	}
	w.writeFooter(md, s)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeState(md *markdown.Markdown, s *Summary) {
	md.H1("Crawl Report")
	md.PlainText("")

	rows := [][]string{}
	if s.Template != "" {
		rows = append(rows, []string{"Template", "`" + s.Template + "`"})
	}
	rows = append(rows,
		[]string{"Request log", "`" + s.RequestLogPath + "` (" + s.Backend + ")"},
		[]string{"Requests done", strconv.Itoa(s.RequestsDone)},
	)
	if !s.LastRequest.IsZero() {
		rows = append(rows, []string{"Last request", s.LastRequest.Format("2006-01-02 15:04:05 MST")})
	}
	rows = append(rows,
		[]string{"Record log", "`" + s.DataPath + "`"},
		[]string{"Raw records", strconv.Itoa(s.RawRecords)},
		[]string{"Unique records", strconv.Itoa(s.UniqueRecords)},
		[]string{"Export", "`" + s.ExportPath + "`"},
	)
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	switch {
	case s.RawRecords == 0:
		md.Note("No records collected yet.")
	case !s.Exported:
		md.Importantf("%d unique record(s) have not been exported. Run `torcrawler export`.", s.UniqueRecords)
	case s.Duplicates() > 0:
		md.Tip(fmt.Sprintf("%d duplicate record(s) are removed on export.", s.Duplicates()))
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeRun(md *markdown.Markdown, r *RunStats) {
	md.H2("Run")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Attempted", strconv.Itoa(r.Attempted)},
			{"Fetched", strconv.Itoa(r.Fetched)},
			{"Skipped", strconv.Itoa(r.Skipped)},
			{"Failed", strconv.Itoa(r.Failed)},
			{"Records", strconv.Itoa(r.Records)},
			{"Elapsed", r.Elapsed.Round(time.Millisecond).String()},
		},
	})
	md.PlainText("")

	if r.Attempted > 0 {
		w.writePieChart(md, r)
	}
	if r.Error != "" {
		md.Cautionf("The run stopped early: %s", r.Error)
		md.PlainText("")
	} else if r.Failed > 0 {
		md.Warningf("%d request(s) failed and will be retried on the next run.", r.Failed)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, r *RunStats) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Request Outcomes"),
		piechart.WithShowData(true),
	)
	if r.Fetched > 0 {
		chart.LabelAndIntValue("Fetched", uint64(r.Fetched))
	}
	if r.Skipped > 0 {
		chart.LabelAndIntValue("Skipped", uint64(r.Skipped))
	}
	if r.Failed > 0 {
		chart.LabelAndIntValue("Failed", uint64(r.Failed))
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeIdentity(md *markdown.Markdown, id *IdentityStats) {
	md.H2("Identity")
	md.PlainText("")

	address := id.Address
	if address == "" {
		address = "-"
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Rotation mode", id.Mode},
			{"State", id.State},
			{"Exit address", address},
			{"Rotations", strconv.Itoa(id.Rotations)},
			{"Exhaustions", strconv.Itoa(id.Exhaustions)},
			{"Requests since rotation", strconv.Itoa(id.RequestsSinceRotation)},
		},
	})
	md.PlainText("")

	if id.Exhaustions > 0 {
		md.Warningf("Identity verification was exhausted %d time(s); some requests may share an exit address.", id.Exhaustions)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown, s *Summary) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated by torcrawler at %s*", s.Generated.Format(time.RFC3339))
}
