package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Converter turns a slide deck into a PDF inside outDir and returns the produced path.
type Converter interface {
	Convert(ctx context.Context, sourceFile, outDir string) (string, error)
}

// OfficeConverter shells out to a LibreOffice-compatible binary running headless.
type OfficeConverter struct {
	Command string
}

// NewOfficeConverter returns a converter using command, defaulting to soffice.
func NewOfficeConverter(command string) *OfficeConverter {
	if command == "" {
		command = "soffice"
	}
	return &OfficeConverter{Command: command}
}

// Convert runs `<command> --headless --convert-to pdf --outdir outDir sourceFile`.
func (c *OfficeConverter) Convert(ctx context.Context, sourceFile, outDir string) (string, error) {
	cmd := exec.CommandContext(ctx, c.Command, "--headless", "--convert-to", "pdf", "--outdir", outDir, sourceFile)
	// a private profile dir lets several conversions run at once
	cmd.Env = append(os.Environ(), "HOME="+outDir)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("converter timed out: %w", ctx.Err())
		}
		return "", fmt.Errorf("converter failed: %v: %s", err, strings.TrimSpace(string(output)))
	}

	base := strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile))
	produced := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(produced); err != nil {
		return "", fmt.Errorf("converter produced no PDF: %s", strings.TrimSpace(string(output)))
	}
	return produced, nil
}
