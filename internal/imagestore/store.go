// Package imagestore locates input images on disk and resolves where their
// processed counterparts are written.
package imagestore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExtensions are the recognized input formats, matched case-insensitively.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
}

// outputSuffix is appended to the stem of every processed image.
const outputSuffix = "_processed"

// Store resolves input and output image paths for jobs.
type Store struct {
	inputDir  string
	outputDir string
}

// New creates a store over the given directories.
func New(inputDir, outputDir string) *Store {
	return &Store{inputDir: inputDir, outputDir: outputDir}
}

// InputDir returns the directory scanned for input images.
func (s *Store) InputDir() string { return s.inputDir }

// ListInputs returns the absolute paths of all input images, sorted by name.
// Subdirectories are not descended into.
func (s *Store) ListInputs() ([]string, error) {
	entries, err := os.ReadDir(s.inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if imageExtensions[ext] {
			images = append(images, filepath.Join(s.inputDir, entry.Name()))
		}
	}
	sort.Strings(images)

	slog.Debug("Listed input images", "dir", s.inputDir, "count", len(images))
	return images, nil
}

// OutputPath returns the destination path for a processed input image.
func (s *Store) OutputPath(input string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(s.outputDir, stem+outputSuffix+ext)
}

// EnsureOutputDir creates the output directory if it does not exist.
func (s *Store) EnsureOutputDir() error {
	return os.MkdirAll(s.outputDir, 0o755)
}

// Ready reports whether the input directory is usable. Implements the
// health checker's readiness contract.
func (s *Store) Ready(ctx context.Context) error {
	info, err := os.Stat(s.inputDir)
	if err != nil {
		return fmt.Errorf("input directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input path %s is not a directory", s.inputDir)
	}
	return nil
}
