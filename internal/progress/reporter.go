// Package progress provides feedback during batch re-extraction runs.
package progress

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Reporter provides progress feedback while sessions are re-extracted.
type Reporter interface {
	Start(total int)
	Update(current int, message string)
	Finish()
}

// NewReporter returns a TerminalReporter, or a PlainReporter when running
// without an interactive terminal (CI, cron).
func NewReporter() Reporter {
	if os.Getenv("CI") != "" {
		return &PlainReporter{}
	}
	return &TerminalReporter{}
}

// TerminalReporter displays a progress bar in the terminal.
type TerminalReporter struct {
	bar *progressbar.ProgressBar
}

func (r *TerminalReporter) Start(total int) {
	r.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Extracting sessions"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (r *TerminalReporter) Update(current int, message string) {
	if r.bar != nil {
		r.bar.Describe(message)
		_ = r.bar.Set(current)
	}
}

func (r *TerminalReporter) Finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

// PlainReporter prints line-by-line progress suitable for log capture.
type PlainReporter struct {
	total int
}

func (r *PlainReporter) Start(total int) {
	r.total = total
	fmt.Fprintf(os.Stderr, "Re-extracting %d session(s)\n", total)
}

func (r *PlainReporter) Update(current int, message string) {
	fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", current, r.total, message)
}

func (r *PlainReporter) Finish() {
	fmt.Fprintln(os.Stderr, "Extraction complete")
}
