package sniffer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
)

func loadXLSX(doc *plugin.Document) error {
	f, err := excelize.OpenReader(bytes.NewReader(doc.Raw))
	if err != nil {
		return fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	var text strings.Builder
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return fmt.Errorf("failed to read sheet %s: %w", name, err)
		}

		sheet := plugin.Sheet{Name: name}
		for _, row := range rows {
			if blankRecord(row) {
				continue
			}
			sheet.Rows = append(sheet.Rows, row)
			text.WriteString(strings.Join(row, ", "))
			text.WriteByte('\n')
		}
		doc.Sheets = append(doc.Sheets, sheet)
	}

	if text.Len() == 0 {
		return plugin.NewStructureError("%s: workbook has no data", doc.Filename)
	}
	doc.Text = text.String()
	return nil
}
