package sniffer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
)

var ErrInvalidDelimiter = errors.New("could not detect delimiter")

func loadCSV(doc *plugin.Document) error {
	data := normalizeCSVBytes(doc.Raw)
	delimiter := sniffDelimiter(string(data))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // Variable field count
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if blankRecord(record) {
			continue
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return plugin.NewStructureError("%s: no rows", doc.Filename)
	}

	doc.Text = string(data)
	doc.Rows = rows
	return nil
}

// sniffDelimiter picks the delimiter of the widest line among the first 20.
// Statement exports often carry a few metadata lines above the header.
func sniffDelimiter(content string) rune {
	best := ','
	bestCount := 0
	for i, line := range strings.Split(content, "\n") {
		if i > 20 {
			break
		}
		line = cleanLine(line, i == 0)
		if line == "" {
			continue
		}
		d, count := detectDelimiter(line)
		if count > bestCount {
			best, bestCount = d, count
		}
	}
	return best
}

func blankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func normalizeCSVBytes(data []byte) []byte {
	data = stripUTF8BOM(data)
	if utf8.Valid(data) {
		return data
	}
	return decodeLatin1(data)
}

func stripUTF8BOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

func decodeLatin1(data []byte) []byte {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return []byte(string(runes))
}

func cleanLine(line string, firstLine bool) string {
	line = strings.TrimRight(line, "\r")
	if firstLine {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimSpace(line)
}

func detectDelimiter(line string) (rune, int) {
	delimiters := []rune{';', '\t', ',', '|'}
	bestDelimiter := rune(0)
	bestCount := 0
	for _, d := range delimiters {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			bestDelimiter = d
		}
	}
	return bestDelimiter, bestCount
}
