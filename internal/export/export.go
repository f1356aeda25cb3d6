// Package export writes report artifacts as JSON, CSV and plain list files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
)

const (
	// Directory permissions.
	outputDirPerm = 0o750
	// File permissions.
	outputFilePerm = 0o600
)

// Writer writes artifacts into a single output directory.
type Writer struct {
	dir string
}

// NewWriter creates the output directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, outputDirPerm); err != nil {
		return nil, fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// JSON writes v as indented JSON.
func (w *Writer) JSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return w.write(name, append(data, '\n'))
}

// CSV writes a header and rows.
func (w *Writer) CSV(name string, header []string, rows [][]string) error {
	path := filepath.Join(w.dir, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, outputFilePerm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Printf("[WARN] Error closing %s: %v", path, err)
		}
	}()

	cw := csv.NewWriter(file)
	if len(header) > 0 {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("writing header of %s: %w", path, err)
		}
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row of %s: %w", path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	log.Printf("[INFO] Wrote %s (%d rows)", path, len(rows))
	return nil
}

// List writes one item per line, dropping blanks. With uniq set the items
// are deduplicated and sorted.
func (w *Writer) List(name string, items []string, uniq bool) error {
	if uniq {
		seen := make(map[string]bool, len(items))
		deduped := make([]string, 0, len(items))
		for _, item := range items {
			if seen[item] {
				continue
			}
			seen[item] = true
			deduped = append(deduped, item)
		}
		sort.Strings(deduped)
		items = deduped
	}

	var buf []byte
	for _, item := range items {
		if item == "" {
			continue
		}
		buf = append(buf, item...)
		buf = append(buf, '\n')
	}
	return w.write(name, buf)
}

func (w *Writer) write(name string, data []byte) error {
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, outputFilePerm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.Printf("[INFO] Wrote %s (%d bytes)", path, len(data))
	return nil
}
