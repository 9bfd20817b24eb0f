package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SlideDeckExtension is the only extension accepted for conversion. Matching is case-sensitive.
const SlideDeckExtension = ".pptx"

// InputFile is a user-supplied slide deck candidate
type InputFile struct {
	Name string
	Data []byte
}

// HasDeckExtension reports whether name ends with the slide deck extension.
func HasDeckExtension(name string) bool {
	return strings.HasSuffix(name, SlideDeckExtension)
}

// ReadInputFile loads a candidate from disk, keeping only the base name.
func ReadInputFile(path string) (InputFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return InputFile{}, fmt.Errorf("failed to read input file: %w", err)
	}
	return InputFile{Name: filepath.Base(path), Data: data}, nil
}
