// Package ui renders the viewer's terminal surface.
package ui

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// ProgressBar shows the upload percentage while a conversion is in flight.
type ProgressBar struct {
	bar     *progressbar.ProgressBar
	out     io.Writer
	visible bool
}

// NewProgressBar creates a hidden 0-100 bar writing to out.
func NewProgressBar(out io.Writer, description string) *ProgressBar {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionClearOnFinish(),
	)
	return &ProgressBar{bar: bar, out: out}
}

// Set shows the bar at percent.
func (p *ProgressBar) Set(percent int) {
	p.visible = true
	_ = p.bar.Set(percent)
}

// Hide removes the bar from the terminal.
func (p *ProgressBar) Hide() {
	if !p.visible {
		return
	}
	p.visible = false
	_ = p.bar.Clear()
	fmt.Fprint(p.out, "\r")
}
