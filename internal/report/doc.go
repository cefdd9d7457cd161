// Package report summarizes crawl state for the status and crawl commands.
//
// Summary holds the counts. Writers render it:
//   - SimpleWriter: plain text for the terminal
//   - MarkdownWriter: Markdown for sharing
//   - JSONWriter: JSON for scripts
package report
