// Package validator checks an extraction against itself and against the
// ledger before it is committed: duplicate detection by content hash, balance
// and count reconciliation, period overlap and record-level checks.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	"github.com/FACorreiaa/ledger-ingest/pkg/money"
)

// DefaultEpsilonCents is the tolerated difference between the declared
// closing balance and the opening balance plus all amounts.
const DefaultEpsilonCents = 1

// WarningKind classifies a Warning.
type WarningKind string

const (
	BalanceMismatch  WarningKind = "balance_mismatch"
	BalanceUnknown   WarningKind = "balance_unknown"
	CountMismatch    WarningKind = "count_mismatch"
	StatementOverlap WarningKind = "statement_overlap"
	DateOutOfPeriod  WarningKind = "date_out_of_period"
	EmptyDescription WarningKind = "empty_description"
)

// Warning is a consistency finding that does not block the commit unless
// the validator is strict and the kind is enforced.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Row     int         `json:"row,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.Row > 0 {
		return fmt.Sprintf("%s (row %d): %s", w.Kind, w.Row, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

// enforced reports whether strict mode turns the warning into an error.
// Overlaps are expected between consecutive exports and unknown balances
// cannot be checked either way.
func (k WarningKind) enforced() bool {
	switch k {
	case StatementOverlap, BalanceUnknown:
		return false
	default:
		return true
	}
}

// ReconciliationError is returned in strict mode when enforced checks fail.
type ReconciliationError struct {
	Failures []Warning
}

func (e *ReconciliationError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.String()
	}
	return "reconciliation failed: " + strings.Join(msgs, "; ")
}

// Is matches any ReconciliationError.
func (e *ReconciliationError) Is(target error) bool {
	_, ok := target.(*ReconciliationError)
	return ok
}

var ErrReconciliation = &ReconciliationError{}

// Config configures a Validator.
type Config struct {
	Strict       bool
	EpsilonCents int64
}

// Validator is stateless and safe for concurrent use.
type Validator struct {
	strict  bool
	epsilon int64
}

// New creates a validator. A non-positive epsilon selects DefaultEpsilonCents.
func New(cfg Config) *Validator {
	eps := cfg.EpsilonCents
	if eps <= 0 {
		eps = DefaultEpsilonCents
	}
	return &Validator{strict: cfg.Strict, epsilon: eps}
}

// Strict reports whether enforced warnings fail validation.
func (v *Validator) Strict() bool { return v.strict }

// HashedTransaction is a record paired with its content hash.
type HashedTransaction struct {
	plugin.TransactionRecord
	Hash string
}

// HashedShoppingItem is a shopping record paired with its content hash.
type HashedShoppingItem struct {
	plugin.ShoppingRecord
	Hash string
}

// Plan is the outcome of validation: what to insert and what was skipped.
type Plan struct {
	// AlreadyImported is set when the document itself was imported before;
	// every extracted record then counts as a duplicate.
	AlreadyImported        *repository.Statement
	Transactions           []HashedTransaction
	ShoppingItems          []HashedShoppingItem
	DuplicateTransactions  int
	DuplicateShoppingItems int
	Warnings               []Warning
}

// Validate runs every check for one document inside the account
// transaction. docHash is the whole-document content hash.
func (v *Validator) Validate(ctx context.Context, tx repository.LedgerTx, accountID uuid.UUID, docHash string, ext *plugin.Extraction) (*Plan, error) {
	st, err := tx.StatementByHash(ctx, docHash)
	switch {
	case err == nil:
		return &Plan{
			AlreadyImported:        st,
			DuplicateTransactions:  len(ext.Transactions),
			DuplicateShoppingItems: len(ext.ShoppingItems),
		}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	plan := &Plan{}
	plan.Warnings = append(plan.Warnings, v.Reconcile(ext)...)
	plan.Warnings = append(plan.Warnings, v.CheckRecords(ext)...)
	if err := v.enforce(plan.Warnings); err != nil {
		return nil, err
	}

	h := ext.Header
	overlaps, err := tx.OverlappingStatements(ctx, accountID, h.StartDate, h.EndDate)
	if err != nil {
		return nil, err
	}
	for _, o := range overlaps {
		plan.Warnings = append(plan.Warnings, Warning{
			Kind: StatementOverlap,
			Message: fmt.Sprintf("period %s..%s overlaps %s (%s..%s)",
				h.StartDate.Format(dateLayout), h.EndDate.Format(dateLayout),
				o.Filename, o.Start.Format(dateLayout), o.End.Format(dateLayout)),
		})
	}

	if err := v.splitTransactions(ctx, tx, accountID, ext.Transactions, plan); err != nil {
		return nil, err
	}
	if err := v.splitShoppingItems(ctx, tx, accountID, ext.ShoppingItems, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (v *Validator) splitTransactions(ctx context.Context, tx repository.LedgerTx, accountID uuid.UUID, records []plugin.TransactionRecord, plan *Plan) error {
	if len(records) == 0 {
		return nil
	}
	hashes := HashTransactions(accountID, records)
	existing, err := tx.ExistingTransactionHashes(ctx, hashes)
	if err != nil {
		return err
	}
	for i, r := range records {
		if existing[hashes[i]] {
			plan.DuplicateTransactions++
			continue
		}
		plan.Transactions = append(plan.Transactions, HashedTransaction{TransactionRecord: r, Hash: hashes[i]})
	}
	return nil
}

func (v *Validator) splitShoppingItems(ctx context.Context, tx repository.LedgerTx, accountID uuid.UUID, records []plugin.ShoppingRecord, plan *Plan) error {
	if len(records) == 0 {
		return nil
	}
	hashes := HashShoppingItems(accountID, records)
	existing, err := tx.ExistingShoppingHashes(ctx, hashes)
	if err != nil {
		return err
	}
	for i, r := range records {
		if existing[hashes[i]] {
			plan.DuplicateShoppingItems++
			continue
		}
		plan.ShoppingItems = append(plan.ShoppingItems, HashedShoppingItem{ShoppingRecord: r, Hash: hashes[i]})
	}
	return nil
}

// Reconcile compares the declared header against the records: the opening
// balance plus every amount must reach the closing balance within epsilon,
// and the declared count must equal the number of records.
func (v *Validator) Reconcile(ext *plugin.Extraction) []Warning {
	var warnings []Warning
	h := ext.Header

	if len(ext.Transactions) > 0 {
		if h.StartBalance == nil || h.EndBalance == nil {
			warnings = append(warnings, Warning{Kind: BalanceUnknown, Message: "statement balances could not be determined"})
		} else {
			var sum int64
			for _, t := range ext.Transactions {
				sum += t.AmountCents
			}
			diff := *h.StartBalance + sum - *h.EndBalance
			if diff > v.epsilon || diff < -v.epsilon {
				warnings = append(warnings, Warning{
					Kind: BalanceMismatch,
					Message: fmt.Sprintf("opening %s + transactions %s != closing %s (off by %s)",
						money.FormatCents(*h.StartBalance), money.FormatCents(sum),
						money.FormatCents(*h.EndBalance), money.FormatCents(diff)),
				})
			}
		}
	}

	if n := ext.RecordCount(); h.Count != n {
		warnings = append(warnings, Warning{
			Kind:    CountMismatch,
			Message: fmt.Sprintf("statement declares %d records, extracted %d", h.Count, n),
		})
	}
	return warnings
}

// CheckRecords flags records dated outside the statement period and
// transactions without a description.
func (v *Validator) CheckRecords(ext *plugin.Extraction) []Warning {
	var warnings []Warning
	h := ext.Header
	outside := func(row int, d string, ok bool) {
		if !ok {
			warnings = append(warnings, Warning{
				Kind: DateOutOfPeriod,
				Row:  row,
				Message: fmt.Sprintf("date %s outside statement period %s..%s",
					d, h.StartDate.Format(dateLayout), h.EndDate.Format(dateLayout)),
			})
		}
	}

	for _, t := range ext.Transactions {
		outside(t.Row, t.Date.Format(dateLayout), !t.Date.Before(h.StartDate) && !t.Date.After(h.EndDate))
		if strings.TrimSpace(t.Description) == "" {
			warnings = append(warnings, Warning{Kind: EmptyDescription, Row: t.Row, Message: "transaction has no description"})
		}
	}
	for _, s := range ext.ShoppingItems {
		outside(s.Row, s.Date.Format(dateLayout), !s.Date.Before(h.StartDate) && !s.Date.After(h.EndDate))
	}
	return warnings
}

func (v *Validator) enforce(warnings []Warning) error {
	if !v.strict {
		return nil
	}
	var failures []Warning
	for _, w := range warnings {
		if w.Kind.enforced() {
			failures = append(failures, w)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &ReconciliationError{Failures: failures}
}
