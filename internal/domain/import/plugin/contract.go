// Package plugin defines the adapter contract shared by every statement format
// and the registry that resolves extraction identifiers to adapters.
package plugin

import (
	"fmt"
	"time"
)

// ProtocolVersion is the adapter protocol major version this host speaks.
// Manifests declaring any other version are rejected.
const ProtocolVersion = 1

// Family identifies one of the structurally different document families.
type Family string

const (
	FamilyPDF  Family = "pdf"
	FamilyCSV  Family = "csv"
	FamilyXLSX Family = "xlsx"
)

// Extension returns the file extension documents of this family carry.
func (f Family) Extension() string {
	return "." + string(f)
}

// Accepts reports whether documents with the given extension belong to the family.
func (f Family) Accepts(ext string) bool {
	return f.Extension() == ext
}

// Sheet is one worksheet of a spreadsheet document.
type Sheet struct {
	Name string
	Rows [][]string
}

// Document is a loaded statement file. Raw is always set; the decoded views
// depend on the extension.
type Document struct {
	Filename  string
	Extension string // lower case, leading dot
	Raw       []byte
	Hash      string // hex sha256 of Raw

	// Text is the searchable content used for classification.
	Text string

	// PDF: non-blank lines of extracted text, whitespace collapsed.
	Lines []string

	// CSV: all records.
	Rows [][]string

	// XLSX: every sheet in workbook order.
	Sheets []Sheet
}

// Sheet returns the named sheet, or the first one when name is empty.
func (d *Document) Sheet(name string) (*Sheet, bool) {
	if len(d.Sheets) == 0 {
		return nil, false
	}
	if name == "" {
		return &d.Sheets[0], true
	}
	for i := range d.Sheets {
		if d.Sheets[i].Name == name {
			return &d.Sheets[i], true
		}
	}
	return nil, false
}

// StatementHeader carries the statement-level values an adapter declares.
// Nil balances mean the document does not state them.
type StatementHeader struct {
	AccountNumber string
	CardLastFour  string
	StartDate     time.Time
	EndDate       time.Time
	StartBalance  *int64
	EndBalance    *int64
	Count         int
}

// TransactionRecord is one canonical ledger line extracted from a statement.
type TransactionRecord struct {
	Date        time.Time
	AmountCents int64 // Positive = money in, Negative = money out
	Balance     *int64
	Description string
	Row         int
}

// ShoppingRecord is one order-level receipt line.
type ShoppingRecord struct {
	OrderID      string
	Date         time.Time
	AmountCents  int64
	Description  string
	CardLastFour string
	Row          int
}

// Extraction is everything an adapter returns for one document.
type Extraction struct {
	Header        StatementHeader
	Transactions  []TransactionRecord
	ShoppingItems []ShoppingRecord
}

// RecordCount is the number of records extracted, of either kind.
func (e *Extraction) RecordCount() int {
	return len(e.Transactions) + len(e.ShoppingItems)
}

// DeriveHeader fills header values the document did not state. The period
// falls back to the record date span; balances fall back to the running
// balances of the first and last transaction; the count falls back to the
// number of records.
func (e *Extraction) DeriveHeader() {
	h := &e.Header
	if h.StartDate.IsZero() || h.EndDate.IsZero() {
		var first, last time.Time
		visit := func(d time.Time) {
			if first.IsZero() || d.Before(first) {
				first = d
			}
			if last.IsZero() || d.After(last) {
				last = d
			}
		}
		for _, t := range e.Transactions {
			visit(t.Date)
		}
		for _, s := range e.ShoppingItems {
			visit(s.Date)
		}
		if h.StartDate.IsZero() {
			h.StartDate = first
		}
		if h.EndDate.IsZero() {
			h.EndDate = last
		}
	}

	if n := len(e.Transactions); n > 0 {
		firstTx, lastTx := e.Transactions[0], e.Transactions[n-1]
		if h.StartBalance == nil && firstTx.Balance != nil {
			v := *firstTx.Balance - firstTx.AmountCents
			h.StartBalance = &v
		}
		if h.EndBalance == nil && lastTx.Balance != nil {
			v := *lastTx.Balance
			h.EndBalance = &v
		}
	}

	if h.Count == 0 {
		h.Count = e.RecordCount()
	}
}

// Adapter turns one loaded document into canonical records. Implementations
// must not touch the ledger.
type Adapter interface {
	Family() Family
	Parse(doc *Document) (*Extraction, error)
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc struct {
	Kind Family
	Fn   func(doc *Document) (*Extraction, error)
}

func (a AdapterFunc) Family() Family { return a.Kind }

func (a AdapterFunc) Parse(doc *Document) (*Extraction, error) { return a.Fn(doc) }

// ParseReason classifies a ParseError.
type ParseReason int

const (
	StructureNotFound ParseReason = iota + 1
	FieldUnparseable
)

func (r ParseReason) String() string {
	switch r {
	case StructureNotFound:
		return "structure not found"
	case FieldUnparseable:
		return "field unparseable"
	default:
		return "unknown"
	}
}

// ParseError is returned by adapters when the document deviates from the
// layout they expect.
type ParseError struct {
	Reason  ParseReason
	Row     int
	Column  string
	Message string
	RawData string
}

func (e *ParseError) Error() string {
	if e.Reason == FieldUnparseable {
		return fmt.Sprintf("parse: row %d, column %s: %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("parse: %s: %s", e.Reason, e.Message)
}

// Is matches another ParseError with the same reason.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Reason == e.Reason && t.Row == 0 && t.Message == ""
}

var (
	ErrStructureNotFound = &ParseError{Reason: StructureNotFound}
	ErrFieldUnparseable  = &ParseError{Reason: FieldUnparseable}
)

// NewStructureError reports a missing layout element.
func NewStructureError(format string, args ...any) *ParseError {
	return &ParseError{Reason: StructureNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewFieldError reports a value that could not be converted.
func NewFieldError(row int, column, raw string, cause error) *ParseError {
	return &ParseError{
		Reason:  FieldUnparseable,
		Row:     row,
		Column:  column,
		Message: fmt.Sprintf("invalid %s: %v", column, cause),
		RawData: raw,
	}
}
