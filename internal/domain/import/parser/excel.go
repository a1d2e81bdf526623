package parser

import (
	"strings"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
)

// xlsxConfig extends the table engine with worksheet selection.
type xlsxConfig struct {
	tableConfig `yaml:",inline"`

	// Sheet names the worksheet holding the transactions. When empty the
	// first sheet with a matching header row is used.
	Sheet string `yaml:"sheet"`
}

// xlsxAdapter is the spreadsheet family.
type xlsxAdapter struct {
	sheet string
	table *tableEngine
}

func newXLSXAdapter(spec plugin.AdapterSpec) (plugin.Adapter, error) {
	var cfg xlsxConfig
	if err := spec.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	table, err := newTableEngine(cfg.tableConfig)
	if err != nil {
		return nil, err
	}
	return &xlsxAdapter{sheet: cfg.Sheet, table: table}, nil
}

func (a *xlsxAdapter) Family() plugin.Family { return plugin.FamilyXLSX }

func (a *xlsxAdapter) Parse(doc *plugin.Document) (*plugin.Extraction, error) {
	sheet, err := a.findTransactionSheet(doc)
	if err != nil {
		return nil, err
	}
	return a.table.extract(sheet.Rows, doc.Text)
}

// preferredSheets are tried, in order, when no sheet is configured and the
// header row does not single one out.
var preferredSheets = []string{"transactions", "movimentos", "extrato", "statement", "data", "sheet1"}

// findTransactionSheet picks the worksheet the table engine reads.
func (a *xlsxAdapter) findTransactionSheet(doc *plugin.Document) (*plugin.Sheet, error) {
	if len(doc.Sheets) == 0 {
		return nil, plugin.NewStructureError("%s: workbook has no sheets", doc.Filename)
	}
	if a.sheet != "" {
		sheet, ok := doc.Sheet(a.sheet)
		if !ok {
			return nil, plugin.NewStructureError("sheet %q not found", a.sheet)
		}
		return sheet, nil
	}

	if names := a.table.namedColumns(); len(names) > 0 {
		for i := range doc.Sheets {
			for _, row := range doc.Sheets[i].Rows {
				if rowHasAll(row, names) {
					return &doc.Sheets[i], nil
				}
			}
		}
	}

	for _, preferred := range preferredSheets {
		for i := range doc.Sheets {
			if strings.EqualFold(doc.Sheets[i].Name, preferred) {
				return &doc.Sheets[i], nil
			}
		}
	}
	return &doc.Sheets[0], nil
}
