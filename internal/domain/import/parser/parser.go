package parser

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/pkg/money"
)

// Column addresses a table column either by header name or by zero-based index.
//
//	date_column: Posted Date   # by header
//	amount_column: 3           # by index
type Column struct {
	Name  string
	Index int
	set   bool
}

// UnmarshalYAML accepts an integer index or a header name.
func (c *Column) UnmarshalYAML(value *yaml.Node) error {
	var idx int
	if err := value.Decode(&idx); err == nil {
		*c = Column{Index: idx, set: true}
		return nil
	}
	var name string
	if err := value.Decode(&name); err != nil {
		return fmt.Errorf("column must be a header name or an index: %w", err)
	}
	*c = Column{Name: strings.TrimSpace(name), Index: -1, set: true}
	return nil
}

// IsSet reports whether the column was configured.
func (c Column) IsSet() bool { return c.set }

// tableConfig configures the column-mapped engine shared by the CSV and XLSX
// families.
type tableConfig struct {
	headerSpec `yaml:",inline"`

	// HeaderRow is the zero-based row holding column names. When omitted the
	// first row containing every named column is used, or row 0 when all
	// columns are indexes.
	HeaderRow *int `yaml:"header_row"`
	// StopAt ends the table at the first row whose leading cell contains it.
	StopAt string `yaml:"stop_at"`

	Date        Column `yaml:"date_column"`
	Description Column `yaml:"description_column"`
	Amount      Column `yaml:"amount_column"`
	Debit       Column `yaml:"debit_column"`
	Credit      Column `yaml:"credit_column"`
	Balance     Column `yaml:"balance_column"`

	DateFormats []string `yaml:"date_formats"`
	European    bool     `yaml:"european"`
	// Invert flips every amount sign, for statements that print charges as positive.
	Invert bool `yaml:"invert"`
	// NewestFirst reverses row order so records come out chronologically.
	NewestFirst bool `yaml:"newest_first"`
	// SortByDate orders records by date, keeping file order within a day.
	SortByDate bool `yaml:"sort_by_date"`
}

type tableEngine struct {
	cfg    tableConfig
	header *headerMatcher
}

func newTableEngine(cfg tableConfig) (*tableEngine, error) {
	if !cfg.Date.IsSet() {
		return nil, fmt.Errorf("date_column is required")
	}
	if !cfg.Description.IsSet() {
		return nil, fmt.Errorf("description_column is required")
	}
	if !cfg.Amount.IsSet() && !cfg.Debit.IsSet() && !cfg.Credit.IsSet() {
		return nil, fmt.Errorf("amount_column or debit_column/credit_column is required")
	}
	header, err := cfg.headerSpec.compile()
	if err != nil {
		return nil, err
	}
	return &tableEngine{cfg: cfg, header: header}, nil
}

func (e *tableEngine) columns() []*Column {
	return []*Column{&e.cfg.Date, &e.cfg.Description, &e.cfg.Amount, &e.cfg.Debit, &e.cfg.Credit, &e.cfg.Balance}
}

func (e *tableEngine) namedColumns() []string {
	var names []string
	for _, c := range e.columns() {
		if c.IsSet() && c.Name != "" {
			names = append(names, c.Name)
		}
	}
	return names
}

// columnMap resolves every configured column to an index; -1 means absent.
type columnMap struct {
	dateCol    int
	descCol    int
	amountCol  int
	debitCol   int
	creditCol  int
	balanceCol int
}

// locateHeader returns the header row index, or -1 when the table has none.
func (e *tableEngine) locateHeader(rows [][]string) (int, error) {
	if e.cfg.HeaderRow != nil {
		if *e.cfg.HeaderRow < 0 || *e.cfg.HeaderRow >= len(rows) {
			return 0, plugin.NewStructureError("header row %d out of range (%d rows)", *e.cfg.HeaderRow, len(rows))
		}
		return *e.cfg.HeaderRow, nil
	}

	names := e.namedColumns()
	if len(names) == 0 {
		return -1, nil
	}
	for i, row := range rows {
		if rowHasAll(row, names) {
			return i, nil
		}
	}
	return 0, plugin.NewStructureError("no header row with columns %s", strings.Join(names, ", "))
}

func rowHasAll(row []string, names []string) bool {
	for _, name := range names {
		if headerIndex(row, name) < 0 {
			return false
		}
	}
	return true
}

func headerIndex(headers []string, name string) int {
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func (e *tableEngine) mapColumns(headers []string) (columnMap, error) {
	resolve := func(c Column) (int, error) {
		if !c.IsSet() {
			return -1, nil
		}
		if c.Name == "" {
			return c.Index, nil
		}
		idx := headerIndex(headers, c.Name)
		if idx < 0 {
			return -1, plugin.NewStructureError("column %q not in header", c.Name)
		}
		return idx, nil
	}

	var cm columnMap
	targets := []*int{&cm.dateCol, &cm.descCol, &cm.amountCol, &cm.debitCol, &cm.creditCol, &cm.balanceCol}
	for i, c := range e.columns() {
		idx, err := resolve(*c)
		if err != nil {
			return cm, err
		}
		*targets[i] = idx
	}
	return cm, nil
}

// extract maps table rows to transactions. text is the searchable document
// content used for header patterns.
func (e *tableEngine) extract(rows [][]string, text string) (*plugin.Extraction, error) {
	ext := &plugin.Extraction{}
	if err := e.header.apply(text, e.cfg.European, &ext.Header); err != nil {
		return nil, err
	}

	headerIdx, err := e.locateHeader(rows)
	if err != nil {
		return nil, err
	}
	var headers []string
	if headerIdx >= 0 {
		headers = rows[headerIdx]
	}
	cm, err := e.mapColumns(headers)
	if err != nil {
		return nil, err
	}

	for i := headerIdx + 1; i < len(rows); i++ {
		row := rows[i]
		if e.stopsAt(row) {
			break
		}
		tx, err := e.processRecord(row, i+1, cm)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			continue
		}
		ext.Transactions = append(ext.Transactions, *tx)
	}

	if len(ext.Transactions) == 0 {
		return nil, plugin.NewStructureError("no transaction rows below header")
	}
	if e.cfg.NewestFirst {
		reverse(ext.Transactions)
	}
	if e.cfg.SortByDate {
		sort.SliceStable(ext.Transactions, func(i, j int) bool {
			return ext.Transactions[i].Date.Before(ext.Transactions[j].Date)
		})
	}
	ext.DeriveHeader()
	return ext, nil
}

func (e *tableEngine) stopsAt(row []string) bool {
	if e.cfg.StopAt == "" {
		return false
	}
	for _, cell := range row {
		if cell = strings.TrimSpace(cell); cell != "" {
			return strings.Contains(strings.ToLower(cell), strings.ToLower(e.cfg.StopAt))
		}
	}
	return false
}

// processRecord converts one table row. Rows without a date are skipped.
func (e *tableEngine) processRecord(record []string, rowNum int, cm columnMap) (*plugin.TransactionRecord, error) {
	getValue := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	dateStr := getValue(cm.dateCol)
	if dateStr == "" {
		return nil, nil
	}
	date, err := parseDate(dateStr, e.cfg.DateFormats)
	if err != nil {
		return nil, plugin.NewFieldError(rowNum, "date", dateStr, err)
	}

	var amount int64
	if cm.amountCol >= 0 {
		amountStr := getValue(cm.amountCol)
		amount, err = money.ParseCents(amountStr, e.cfg.European)
		if err != nil {
			return nil, plugin.NewFieldError(rowNum, "amount", amountStr, err)
		}
	} else {
		amount, err = e.parseDebitCredit(getValue(cm.debitCol), getValue(cm.creditCol), rowNum)
		if err != nil {
			return nil, err
		}
	}
	if e.cfg.Invert {
		amount = -amount
	}

	tx := &plugin.TransactionRecord{
		Date:        date,
		AmountCents: amount,
		Description: cleanDescription(getValue(cm.descCol)),
		Row:         rowNum,
	}

	if balanceStr := getValue(cm.balanceCol); balanceStr != "" {
		balance, err := money.ParseCents(balanceStr, e.cfg.European)
		if err != nil {
			return nil, plugin.NewFieldError(rowNum, "balance", balanceStr, err)
		}
		tx.Balance = &balance
	}
	return tx, nil
}

// parseDebitCredit handles double-entry columns: debits leave the account,
// credits enter it, whatever sign the bank printed.
func (e *tableEngine) parseDebitCredit(debitStr, creditStr string, rowNum int) (int64, error) {
	if debitStr == "" && creditStr == "" {
		return 0, plugin.NewFieldError(rowNum, "amount", "", fmt.Errorf("no debit or credit"))
	}
	var amount int64
	if debitStr != "" {
		cents, err := money.ParseCents(debitStr, e.cfg.European)
		if err != nil {
			return 0, plugin.NewFieldError(rowNum, "debit", debitStr, err)
		}
		if cents > 0 {
			cents = -cents
		}
		amount += cents
	}
	if creditStr != "" {
		cents, err := money.ParseCents(creditStr, e.cfg.European)
		if err != nil {
			return 0, plugin.NewFieldError(rowNum, "credit", creditStr, err)
		}
		if cents < 0 {
			cents = -cents
		}
		amount += cents
	}
	return amount, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// csvAdapter is the tabular-text family.
type csvAdapter struct {
	table *tableEngine
}

func newCSVAdapter(spec plugin.AdapterSpec) (plugin.Adapter, error) {
	var cfg tableConfig
	if err := spec.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	table, err := newTableEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &csvAdapter{table: table}, nil
}

func (a *csvAdapter) Family() plugin.Family { return plugin.FamilyCSV }

func (a *csvAdapter) Parse(doc *plugin.Document) (*plugin.Extraction, error) {
	if len(doc.Rows) == 0 {
		return nil, plugin.NewStructureError("%s: no csv rows", doc.Filename)
	}
	return a.table.extract(doc.Rows, doc.Text)
}
