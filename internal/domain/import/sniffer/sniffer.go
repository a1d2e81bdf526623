// Package sniffer loads raw statement files into documents.
// It normalizes encodings, detects CSV delimiters, extracts PDF text and reads
// spreadsheet sheets so that classification and parsing work on decoded content.
package sniffer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
)

var (
	ErrEmptyFile            = errors.New("file is empty")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
)

// Supported extensions.
const (
	ExtCSV  = ".csv"
	ExtPDF  = ".pdf"
	ExtXLSX = ".xlsx"
)

// Loader decodes raw bytes into a plugin.Document.
type Loader struct {
	pdf TextExtractor
}

// NewLoader creates a loader using the given PDF text extractor.
func NewLoader(pdf TextExtractor) *Loader {
	return &Loader{pdf: pdf}
}

// NormalizeExtension lower-cases ext and ensures a leading dot. When ext is
// empty the filename's extension is used.
func NormalizeExtension(ext, filename string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(filename))
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Load decodes data according to its extension.
func (l *Loader) Load(data []byte, extensionHint, filename string) (*plugin.Document, error) {
	ext := NormalizeExtension(extensionHint, filename)
	if len(data) == 0 {
		return nil, plugin.NewStructureError("%s: %v", filename, ErrEmptyFile)
	}

	doc := &plugin.Document{
		Filename:  filepath.Base(filename),
		Extension: ext,
		Raw:       data,
		Hash:      ContentHash(data),
	}

	var err error
	switch ext {
	case ExtCSV:
		err = loadCSV(doc)
	case ExtPDF:
		err = l.loadPDF(doc)
	case ExtXLSX:
		err = loadXLSX(doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
	if err != nil {
		var perr *plugin.ParseError
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, plugin.NewStructureError("%s: %v", doc.Filename, err)
	}
	return doc, nil
}

// ContentHash is the whole-document dedup key.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
