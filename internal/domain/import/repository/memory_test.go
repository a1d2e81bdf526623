package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededLedger(t *testing.T) (*MemoryLedger, Account, StatementTypeRule) {
	t.Helper()
	m := NewMemoryLedger()
	account := m.AddAccount(Account{Name: "Checking", Company: "Example Bank"}, "254779")
	rule := m.AddRule(StatementTypeRule{Company: "Example Bank", Extension: ".csv", SearchExpression: "254779", Identifier: "banks/example:Checking"})
	return m, account, rule
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestMemoryLedger_Resolve(t *testing.T) {
	m, account, _ := seededLedger(t)
	ctx := context.Background()

	got, err := m.ResolveAccount(ctx, "254779")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	_, err = m.ResolveAccount(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	card := m.AddCard(Card{AccountID: account.ID, LastFour: "7083"})
	gotCard, err := m.ResolveCard(ctx, "7083")
	require.NoError(t, err)
	assert.Equal(t, card.ID, gotCard.ID)

	_, err = m.ResolveCard(ctx, "0000")
	assert.ErrorIs(t, err, ErrNotFound)

	rules, err := m.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestMemoryLedger_CommitAndDedup(t *testing.T) {
	m, account, rule := seededLedger(t)
	ctx := context.Background()

	write := func(hash string, rows ...string) (int, error) {
		var n int
		err := m.InAccountTx(ctx, account.ID, func(tx LedgerTx) error {
			st := &Statement{RuleID: rule.ID, AccountID: account.ID, StartDate: day(1), EndDate: day(31), ContentHash: hash}
			if err := tx.InsertStatement(ctx, st); err != nil {
				return err
			}
			txs := make([]Transaction, len(rows))
			for i, h := range rows {
				txs[i] = Transaction{StatementID: st.ID, AccountID: account.ID, Date: day(2), ContentHash: h}
			}
			var err error
			n, err = tx.InsertTransactions(ctx, txs)
			return err
		})
		return n, err
	}

	n, err := write("doc-1", "a", "b", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = write("doc-2", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = write("doc-1", "d")
	assert.ErrorIs(t, err, ErrConstraintViolation)

	assert.Len(t, m.Transactions(account.ID), 3)
	assert.Len(t, m.Statements(), 2)

	err = m.InAccountTx(ctx, account.ID, func(tx LedgerTx) error {
		st, err := tx.StatementByHash(ctx, "doc-2")
		require.NoError(t, err)
		assert.Equal(t, "doc-2", st.ContentHash)

		overlaps, err := tx.OverlappingStatements(ctx, account.ID, day(31), day(31))
		require.NoError(t, err)
		assert.Len(t, overlaps, 2)

		existing, err := tx.ExistingTransactionHashes(ctx, []string{"a", "z"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"a": true}, existing)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryLedger_RollbackLeavesLedgerUnchanged(t *testing.T) {
	m, account, rule := seededLedger(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.InAccountTx(ctx, account.ID, func(tx LedgerTx) error {
		st := &Statement{RuleID: rule.ID, AccountID: account.ID, StartDate: day(1), EndDate: day(2), ContentHash: "doc"}
		require.NoError(t, tx.InsertStatement(ctx, st))
		_, err := tx.InsertTransactions(ctx, []Transaction{{StatementID: st.ID, AccountID: account.ID, ContentHash: "x"}})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.Statements())
	assert.Empty(t, m.Transactions(account.ID))

	m.FailCommits(errors.New("disk full"))
	err = m.InAccountTx(ctx, account.ID, func(tx LedgerTx) error {
		return tx.InsertStatement(ctx, &Statement{RuleID: rule.ID, AccountID: account.ID, StartDate: day(1), EndDate: day(2), ContentHash: "doc"})
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Empty(t, m.Statements())
}

func TestMemoryLedger_Constraints(t *testing.T) {
	m, account, rule := seededLedger(t)
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func(tx LedgerTx) error
	}{
		{"unknown account", func(tx LedgerTx) error {
			return tx.InsertStatement(ctx, &Statement{RuleID: rule.ID, AccountID: uuid.New(), StartDate: day(1), EndDate: day(1), ContentHash: "h"})
		}},
		{"unknown rule", func(tx LedgerTx) error {
			return tx.InsertStatement(ctx, &Statement{RuleID: uuid.New(), AccountID: account.ID, StartDate: day(1), EndDate: day(1), ContentHash: "h"})
		}},
		{"inverted period", func(tx LedgerTx) error {
			return tx.InsertStatement(ctx, &Statement{RuleID: rule.ID, AccountID: account.ID, StartDate: day(2), EndDate: day(1), ContentHash: "h"})
		}},
		{"transaction without statement", func(tx LedgerTx) error {
			_, err := tx.InsertTransactions(ctx, []Transaction{{StatementID: uuid.New(), AccountID: account.ID, ContentHash: "t"}})
			return err
		}},
		{"shopping item without account", func(tx LedgerTx) error {
			_, err := tx.InsertShoppingItems(ctx, []ShoppingItem{{AccountID: uuid.New(), ContentHash: "s"}})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.InAccountTx(ctx, account.ID, tt.fn)
			assert.ErrorIs(t, err, ErrConstraintViolation)
		})
	}
}

func TestMemoryLedger_ShoppingItems(t *testing.T) {
	m, account, _ := seededLedger(t)
	ctx := context.Background()

	items := []ShoppingItem{
		{AccountID: account.ID, OrderID: "1", ContentHash: "i1"},
		{AccountID: account.ID, OrderID: "2", ContentHash: "i2"},
	}
	err := m.InAccountTx(ctx, account.ID, func(tx LedgerTx) error {
		n, err := tx.InsertShoppingItems(ctx, items)
		assert.Equal(t, 2, n)
		return err
	})
	require.NoError(t, err)

	err = m.InAccountTx(ctx, account.ID, func(tx LedgerTx) error {
		existing, err := tx.ExistingShoppingHashes(ctx, []string{"i1", "i3"})
		assert.Equal(t, map[string]bool{"i1": true}, existing)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, m.ShoppingItems(), 2)
}

func TestMemoryLedger_StatementByHash(t *testing.T) {
	m, account, rule := seededLedger(t)
	ctx := context.Background()

	st := &Statement{RuleID: rule.ID, AccountID: account.ID, StartDate: day(1), EndDate: day(31), TransactionCount: 2, ContentHash: "orders"}
	err := m.InAccountTx(ctx, account.ID, func(tx LedgerTx) error {
		if err := tx.InsertStatement(ctx, st); err != nil {
			return err
		}
		_, err := m.StatementByHash(ctx, "orders")
		assert.ErrorIs(t, err, ErrNotFound, "staged statements are not visible outside the transaction")

		_, err = tx.InsertShoppingItems(ctx, []ShoppingItem{
			{AccountID: account.ID, StatementID: &st.ID, OrderID: "1", ContentHash: "i1"},
			{AccountID: account.ID, StatementID: &st.ID, OrderID: "2", ContentHash: "i2"},
		})
		return err
	})
	require.NoError(t, err)

	got, err := m.StatementByHash(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
	assert.Equal(t, 2, got.TransactionCount)
	assert.Equal(t, 2, got.ShoppingItems)

	_, err = m.StatementByHash(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLedger_StatementPeriods(t *testing.T) {
	m, account, rule := seededLedger(t)
	savings := m.AddAccount(Account{Name: "Savings"}, "9001")
	ctx := context.Background()

	insert := func(a Account, hash string, start, end time.Time) {
		t.Helper()
		require.NoError(t, m.InAccountTx(ctx, a.ID, func(tx LedgerTx) error {
			return tx.InsertStatement(ctx, &Statement{RuleID: rule.ID, AccountID: a.ID, StartDate: start, EndDate: end, ContentHash: hash})
		}))
	}
	insert(savings, "s1", day(1), day(31))
	insert(account, "c2", day(16), day(31))
	insert(account, "c1", day(1), day(15))

	periods, err := m.StatementPeriods(ctx)
	require.NoError(t, err)
	require.Len(t, periods, 3)
	assert.Equal(t, "Checking", periods[0].AccountName)
	assert.Equal(t, day(1), periods[0].Start)
	assert.Equal(t, day(16), periods[1].Start)
	assert.Equal(t, savings.ID, periods[2].AccountID)
}

func TestMemoryLedger_SerializesPerAccount(t *testing.T) {
	m, account, rule := seededLedger(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.InAccountTx(ctx, account.ID, func(tx LedgerTx) error {
				if _, err := tx.StatementByHash(ctx, "same"); err == nil {
					return nil
				}
				return tx.InsertStatement(ctx, &Statement{RuleID: rule.ID, AccountID: account.ID, StartDate: day(1), EndDate: day(1), ContentHash: "same"})
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, m.Statements(), 1)
}
