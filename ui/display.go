package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/jupark12/deck-viewer/session"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgCyan)
	mutedColor   = color.New(color.FgHiBlack)
	activeColor  = color.New(color.Bold)
)

// DisableColor turns colored output off.
func DisableColor() {
	color.NoColor = true
}

// Display writes the viewer surface.
type Display struct {
	out io.Writer
}

// NewDisplay creates a Display writing to out.
func NewDisplay(out io.Writer) *Display {
	return &Display{out: out}
}

// Error shows the error region.
func (d *Display) Error(msg string) {
	errorColor.Fprintf(d.out, "✗ %s\n", msg)
}

// Success shows a success message.
func (d *Display) Success(format string, args ...any) {
	successColor.Fprintf(d.out, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Info shows an informational message.
func (d *Display) Info(format string, args ...any) {
	infoColor.Fprintf(d.out, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Controls renders the pager line: previous/next controls, greyed out when disabled, and
// the page label.
func (d *Display) Controls(s session.Snapshot) {
	fmt.Fprintln(d.out, ControlsLine(s))
}

// ControlsLine renders the pager line.
func ControlsLine(s session.Snapshot) string {
	var b strings.Builder
	b.WriteString(control("← [p]revious", s.CanGoBack))
	b.WriteString("  ")
	b.WriteString(s.PageLabel)
	b.WriteString("  ")
	b.WriteString(control("[n]ext →", s.CanGoForward))
	return b.String()
}

func control(label string, enabled bool) string {
	if enabled {
		return activeColor.Sprint(label)
	}
	return mutedColor.Sprint(label)
}

// Download shows the link to the converted document.
func (d *Display) Download(ref string) {
	infoColor.Fprintf(d.out, "Download PDF: %s\n", ref)
}

// RenderFallback shows the viewer-only failure notice.
func (d *Display) RenderFallback(msg string) {
	errorColor.Fprintf(d.out, "%s\n", msg)
}
