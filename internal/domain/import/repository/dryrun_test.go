package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDryRunLedger_RollsBack(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()
	account := mem.AddAccount(Account{Name: "Checking"}, "254779")
	rule := mem.AddRule(StatementTypeRule{Company: "Example Bank", Extension: ".csv", SearchExpression: "example", Identifier: "banks/example:Checking"})
	dry := NewDryRunLedger(mem)

	got, err := dry.ResolveAccount(ctx, "254779")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	var written int
	err = dry.InAccountTx(ctx, account.ID, func(tx LedgerTx) error {
		st := &Statement{
			ID:          uuid.New(),
			RuleID:      rule.ID,
			AccountID:   account.ID,
			StartDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			EndDate:     time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
			ContentHash: "doc",
		}
		if err := tx.InsertStatement(ctx, st); err != nil {
			return err
		}
		written, err = tx.InsertTransactions(ctx, []Transaction{{
			ID: uuid.New(), StatementID: st.ID, AccountID: account.ID,
			Date: st.StartDate, AmountCents: -450, Description: "COFFEE", ContentHash: "row",
		}})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.Empty(t, mem.Statements())
	assert.Empty(t, mem.Transactions(account.ID))
}

func TestDryRunLedger_PropagatesErrors(t *testing.T) {
	mem := NewMemoryLedger()
	boom := errors.New("validation failed")
	err := NewDryRunLedger(mem).InAccountTx(context.Background(), uuid.New(), func(LedgerTx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
