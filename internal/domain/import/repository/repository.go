package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger is the canonical store the pipeline commits into. Accounts, account
// numbers, cards and rules are maintained outside the pipeline; it only reads
// them.
type Ledger interface {
	// ResolveAccount finds the account owning an account number printed on
	// statements. Returns ErrNotFound when no account claims it.
	ResolveAccount(ctx context.Context, number string) (*Account, error)
	// ResolveCard finds a card by its last four digits. Returns ErrNotFound
	// when no card matches.
	ResolveCard(ctx context.Context, lastFour string) (*Card, error)
	// StatementByHash returns the committed statement imported from a
	// document with the given content hash, or ErrNotFound. It reads outside
	// any account transaction.
	StatementByHash(ctx context.Context, hash string) (*ImportedStatement, error)
	// StatementPeriods lists the committed statement periods of every
	// account, ordered by account and start date.
	StatementPeriods(ctx context.Context) ([]StatementPeriod, error)
	// InAccountTx runs fn inside one database transaction holding the
	// account's commit lock. The transaction commits when fn returns nil and
	// rolls back otherwise.
	InAccountTx(ctx context.Context, accountID uuid.UUID, fn func(tx LedgerTx) error) error
}

// ImportedStatement is a committed statement with the number of shopping
// items filed under it.
type ImportedStatement struct {
	Statement
	ShoppingItems int
}

// StatementPeriod is the date range one committed statement covers.
type StatementPeriod struct {
	AccountID   uuid.UUID
	AccountName string
	StatementID uuid.UUID
	Filename    string
	Start       time.Time
	End         time.Time
}

// LedgerTx is the view of the ledger available inside an account transaction.
type LedgerTx interface {
	// StatementByHash returns the statement imported from a document with
	// the given content hash, or ErrNotFound.
	StatementByHash(ctx context.Context, hash string) (*Statement, error)
	// OverlappingStatements lists the account's statements whose period
	// intersects [start, end].
	OverlappingStatements(ctx context.Context, accountID uuid.UUID, start, end time.Time) ([]DateRange, error)
	// ExistingTransactionHashes reports which of hashes are already stored.
	ExistingTransactionHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	// ExistingShoppingHashes reports which of hashes are already stored.
	ExistingShoppingHashes(ctx context.Context, hashes []string) (map[string]bool, error)

	InsertStatement(ctx context.Context, st *Statement) error
	// InsertTransactions stores txs, silently skipping rows whose content
	// hash already exists, and returns the number written.
	InsertTransactions(ctx context.Context, txs []Transaction) (int, error)
	// InsertShoppingItems stores items with the same conflict rule.
	InsertShoppingItems(ctx context.Context, items []ShoppingItem) (int, error)
}

// RuleStore serves the statement type rules the classifier is built from.
type RuleStore interface {
	ListRules(ctx context.Context) ([]StatementTypeRule, error)
}
