// Package repository holds the canonical ledger schema and its persistence.
package repository

import (
	"time"

	"github.com/google/uuid"
)

// AssetClass classifies an AccountType.
type AssetClass string

const (
	AssetClassAsset    AssetClass = "asset"
	AssetClassDebt     AssetClass = "debt"
	AssetClassSpending AssetClass = "spending"
)

// DefaultCategory is assigned to transactions nobody has categorized yet.
const DefaultCategory = "Uncategorized"

type AccountType struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	AssetClass AssetClass `json:"asset_class"`
}

type Account struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	AccountTypeID uuid.UUID `json:"account_type_id"`
	Company       string    `json:"company"`
	Description   string    `json:"description"`
}

// AccountNumber links a number printed on statements to its Account.
type AccountNumber struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Number    string    `json:"number"`
}

type Card struct {
	ID         uuid.UUID `json:"id"`
	AccountID  uuid.UUID `json:"account_id"`
	CardNumber string    `json:"card_number"`
	LastFour   string    `json:"last_four"`
}

// StatementTypeRule routes documents to an adapter. SearchExpression is a
// list of lowercase terms joined by "&&" that must all occur in the document.
type StatementTypeRule struct {
	ID               uuid.UUID `json:"id"`
	Company          string    `json:"company"`
	Description      string    `json:"description,omitempty"`
	Extension        string    `json:"extension"`
	SearchExpression string    `json:"search_expression"`
	Identifier       string    `json:"identifier"`
}

// Label is a short human name for the rule.
func (r StatementTypeRule) Label() string {
	if r.Description == "" {
		return r.Company
	}
	return r.Company + " " + r.Description
}

type Statement struct {
	ID               uuid.UUID `json:"id"`
	RuleID           uuid.UUID `json:"rule_id"`
	AccountID        uuid.UUID `json:"account_id"`
	ImportedAt       time.Time `json:"imported_at"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	StartBalance     *int64    `json:"start_balance,omitempty"`
	EndBalance       *int64    `json:"end_balance,omitempty"`
	TransactionCount int       `json:"transaction_count"`
	Filename         string    `json:"filename"`
	ArchiveName      string    `json:"archive_name"`
	ContentHash      string    `json:"content_hash"`
}

type Transaction struct {
	ID          uuid.UUID `json:"id"`
	StatementID uuid.UUID `json:"statement_id"`
	AccountID   uuid.UUID `json:"account_id"`
	Date        time.Time `json:"date"`
	AmountCents int64     `json:"amount_cents"`
	Balance     *int64    `json:"balance,omitempty"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Verified    bool      `json:"verified"`
	ContentHash string    `json:"content_hash"`
}

type ShoppingItem struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   uuid.UUID  `json:"account_id"`
	CardID      *uuid.UUID `json:"card_id,omitempty"`
	StatementID *uuid.UUID `json:"statement_id,omitempty"`
	OrderID     string     `json:"order_id"`
	Date        time.Time  `json:"date"`
	AmountCents int64      `json:"amount_cents"`
	Description string     `json:"description"`
	ContentHash string     `json:"content_hash"`
}

// DateRange is a closed interval of statement dates.
type DateRange struct {
	StatementID uuid.UUID
	Filename    string
	Start       time.Time
	End         time.Time
}
