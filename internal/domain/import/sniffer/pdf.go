package sniffer

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
)

// TextExtractor returns the text of each page of a PDF.
type TextExtractor interface {
	ExtractPages(data []byte) ([]string, error)
}

// FitzExtractor extracts PDF text with MuPDF.
type FitzExtractor struct{}

// ExtractPages implements TextExtractor.
func (FitzExtractor) ExtractPages(data []byte) ([]string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i+1, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func (l *Loader) loadPDF(doc *plugin.Document) error {
	if l.pdf == nil {
		return fmt.Errorf("no pdf text extractor configured")
	}
	pages, err := l.pdf.ExtractPages(doc.Raw)
	if err != nil {
		return err
	}

	text := strings.Join(pages, "\n")
	lines := SplitLines(text)
	if len(lines) == 0 {
		return plugin.NewStructureError("%s: pdf has no extractable text", doc.Filename)
	}

	doc.Text = text
	doc.Lines = lines
	return nil
}

// SplitLines returns the non-blank lines of text with runs of whitespace
// collapsed to one space.
func SplitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
