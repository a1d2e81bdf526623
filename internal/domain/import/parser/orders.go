package parser

import (
	"io"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/pkg/money"
)

// OrdersIdentifier is the extraction identifier of the order history adapter.
const OrdersIdentifier = plugin.BuiltinPrefix + "orders:Orders"

// OrdersAccountNumber is the account number order histories are filed under.
// Register it on the shopping account to import order exports.
const OrdersAccountNumber = "amazon-orders"

// OrderRow is one line of a retailer order history export.
// gocsv matches the tags against the header row.
type OrderRow struct {
	PaymentIdentifier string `csv:"Payment Identifier"`
	OrderID           string `csv:"Order ID"`
	OrderDate         string `csv:"Order Date"`
	ItemNetTotal      string `csv:"Item Net Total"`
	Manufacturer      string `csv:"Manufacturer"`
	Commodity         string `csv:"Commodity"`
	Title             string `csv:"Title"`
}

var orderColumns = []string{"Order ID", "Order Date", "Item Net Total", "Title"}

var orderDateFormats = []string{"01/02/2006", "2006-01-02"}

// OrdersAdapter turns an order history CSV into shopping records. The
// export carries no account number; items are attached through the card
// that paid for them.
type OrdersAdapter struct{}

func (OrdersAdapter) Family() plugin.Family { return plugin.FamilyCSV }

func (OrdersAdapter) Parse(doc *plugin.Document) (*plugin.Extraction, error) {
	if len(doc.Rows) == 0 {
		return nil, plugin.NewStructureError("%s: no csv rows", doc.Filename)
	}
	if !rowHasAll(doc.Rows[0], orderColumns) {
		return nil, plugin.NewStructureError("order header must contain %s", strings.Join(orderColumns, ", "))
	}

	var rows []OrderRow
	if err := gocsv.UnmarshalCSV(&rowReader{rows: doc.Rows}, &rows); err != nil {
		return nil, plugin.NewStructureError("decode orders: %v", err)
	}

	ext := &plugin.Extraction{Header: plugin.StatementHeader{AccountNumber: OrdersAccountNumber}}
	for i, row := range rows {
		rowNum := i + 2 // 1-indexed, after header
		if strings.TrimSpace(row.OrderID) == "" {
			continue
		}

		date, err := parseDate(row.OrderDate, orderDateFormats)
		if err != nil {
			return nil, plugin.NewFieldError(rowNum, "Order Date", row.OrderDate, err)
		}
		amount, err := money.ParseCents(row.ItemNetTotal, false)
		if err != nil {
			return nil, plugin.NewFieldError(rowNum, "Item Net Total", row.ItemNetTotal, err)
		}

		ext.ShoppingItems = append(ext.ShoppingItems, plugin.ShoppingRecord{
			OrderID:      strings.TrimSpace(row.OrderID),
			Date:         date,
			AmountCents:  -amount,
			Description:  orderDescription(row),
			CardLastFour: lastFour(row.PaymentIdentifier),
			Row:          rowNum,
		})
	}

	if len(ext.ShoppingItems) == 0 {
		return nil, plugin.NewStructureError("no order rows")
	}
	ext.DeriveHeader()
	return ext, nil
}

func orderDescription(row OrderRow) string {
	parts := []string{
		row.Manufacturer,
		strings.ReplaceAll(row.Commodity, "_", " "),
		row.Title,
	}
	return cleanDescription(strings.Join(parts, " "))
}

// rowReader feeds already-decoded rows to gocsv.
type rowReader struct {
	rows [][]string
	next int
}

func (r *rowReader) Read() ([]string, error) {
	if r.next >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.next]
	r.next++
	return row, nil
}

func (r *rowReader) ReadAll() ([][]string, error) {
	rest := r.rows[r.next:]
	r.next = len(r.rows)
	return rest, nil
}
