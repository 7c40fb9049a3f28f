// Package ingest turns a converted document into stored media, chunks and
// embeddings in the background.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gwi.com/docqa/internal/utils"
)

// ErrInvalidMediaPath rejects an extraction whose media paths do not name
// files inside the extraction directory.
var ErrInvalidMediaPath = errors.New("media path must name a file inside the extraction directory")

// ExtractedDocument is the output of the external PDF converter: the
// document text as markdown plus the pictures and tables it found.
type ExtractedDocument struct {
	TotalPages int              `json:"total_pages"`
	Markdown   string           `json:"markdown"`
	Images     []ExtractedImage `json:"images"`
	Tables     []ExtractedTable `json:"tables"`
}

type ExtractedImage struct {
	Page     int    `json:"page"`
	Caption  string `json:"caption,omitempty"`
	FilePath string `json:"file_path"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

type ExtractedTable struct {
	Page      int             `json:"page"`
	Caption   string          `json:"caption,omitempty"`
	ImagePath string          `json:"image_path"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// LoadExtraction reads an ExtractedDocument from a JSON file.
func LoadExtraction(path string) (*ExtractedDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction file %s: %w", path, err)
	}
	var doc ExtractedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse extraction file %s: %w", path, err)
	}
	return &doc, nil
}

// ConfineMediaPaths resolves every image and table path against root and
// rewrites it to the resolved absolute path. Paths must be relative, stay
// inside root after symlinks are followed, and name an existing file. An
// empty root admits no media files at all. Empty paths are left alone.
func (d *ExtractedDocument) ConfineMediaPaths(root string) error {
	realRoot := ""
	if root != "" && d.hasMediaFiles() {
		resolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			return fmt.Errorf("failed to resolve extraction directory: %w", err)
		}
		realRoot = resolved
	}

	for i := range d.Images {
		p, err := confine(realRoot, d.Images[i].FilePath)
		if err != nil {
			return fmt.Errorf("image %d: %w", i+1, err)
		}
		d.Images[i].FilePath = p
	}
	for i := range d.Tables {
		p, err := confine(realRoot, d.Tables[i].ImagePath)
		if err != nil {
			return fmt.Errorf("table %d: %w", i+1, err)
		}
		d.Tables[i].ImagePath = p
	}
	return nil
}

func (d *ExtractedDocument) hasMediaFiles() bool {
	for _, img := range d.Images {
		if img.FilePath != "" {
			return true
		}
	}
	for _, tbl := range d.Tables {
		if tbl.ImagePath != "" {
			return true
		}
	}
	return false
}

func confine(root, p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if root == "" || !filepath.IsLocal(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaPath, p)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Join(root, p))
	if err != nil || !utils.WithinDir(root, resolved) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaPath, p)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaPath, p)
	}
	return resolved, nil
}

// tableShape derives row and column counts from record-shaped table data
// (a JSON array of objects). Other shapes count rows only.
func tableShape(data json.RawMessage) (rows, columns int) {
	if len(data) == 0 {
		return 0, 0
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil || len(records) == 0 {
		return 0, 0
	}
	rows = len(records)
	var first map[string]json.RawMessage
	if err := json.Unmarshal(records[0], &first); err == nil {
		columns = len(first)
	}
	return rows, columns
}
