package validator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	"github.com/FACorreiaa/ledger-ingest/pkg/money"
)

func date(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func cents(v int64) *int64 { return &v }

func extraction(start, end int64, amounts ...int64) *plugin.Extraction {
	ext := &plugin.Extraction{
		Header: plugin.StatementHeader{
			StartDate:    date(1),
			EndDate:      date(31),
			StartBalance: cents(start),
			EndBalance:   cents(end),
		},
	}
	for i, a := range amounts {
		ext.Transactions = append(ext.Transactions, plugin.TransactionRecord{
			Date:        date(i + 2),
			AmountCents: a,
			Description: "line",
			Row:         i + 1,
		})
	}
	ext.Header.Count = len(amounts)
	return ext
}

// kinds is nil for no warnings.
func kinds(ws []Warning) []WarningKind {
	var out []WarningKind
	for _, w := range ws {
		out = append(out, w.Kind)
	}
	return out
}

func TestReconcile(t *testing.T) {
	v := New(Config{})

	tests := []struct {
		name string
		ext  *plugin.Extraction
		want []WarningKind
	}{
		{"balanced", extraction(10000, 7500, -3000, 500), nil},
		{"within epsilon", extraction(10000, 7501, -3000, 500), nil},
		{"outside epsilon", extraction(10000, 7502, -3000, 500), []WarningKind{BalanceMismatch}},
		{"no transactions", extraction(10000, 10000), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kinds(v.Reconcile(tt.ext)))
		})
	}

	t.Run("count mismatch", func(t *testing.T) {
		ext := extraction(0, -100, -100)
		ext.Header.Count = 3
		assert.Equal(t, []WarningKind{CountMismatch}, kinds(v.Reconcile(ext)))
	})

	t.Run("unknown balance", func(t *testing.T) {
		ext := extraction(0, -100, -100)
		ext.Header.EndBalance = nil
		assert.Equal(t, []WarningKind{BalanceUnknown}, kinds(v.Reconcile(ext)))
	})

	t.Run("wider epsilon", func(t *testing.T) {
		loose := New(Config{EpsilonCents: 50})
		assert.Empty(t, loose.Reconcile(extraction(10000, 7550, -3000, 500)))
	})
}

func TestReconcile_GeneratedStatements(t *testing.T) {
	gen := money.NewTestDataGeneratorWithSeed(42)
	v := New(Config{Strict: true})

	for i := 0; i < 20; i++ {
		lines, closing := gen.Statement(150000, 25, date(1), date(31))
		ext := &plugin.Extraction{Header: plugin.StatementHeader{
			StartDate:    date(1),
			EndDate:      date(31),
			StartBalance: cents(150000),
			EndBalance:   cents(closing),
			Count:        len(lines),
		}}
		for j, l := range lines {
			ext.Transactions = append(ext.Transactions, plugin.TransactionRecord{
				Date: l.Date, AmountCents: l.AmountCents, Description: l.Description, Row: j + 1,
			})
		}
		assert.Empty(t, v.Reconcile(ext))
		assert.Empty(t, v.CheckRecords(ext))
	}
}

func TestCheckRecords(t *testing.T) {
	ext := extraction(0, -300, -100, -200)
	ext.Transactions[0].Date = date(1).AddDate(0, 0, -1)
	ext.Transactions[1].Description = "   "
	ext.ShoppingItems = []plugin.ShoppingRecord{{OrderID: "1", Date: date(31).AddDate(0, 0, 1), Row: 9}}

	ws := New(Config{}).CheckRecords(ext)
	require.Len(t, ws, 3)
	assert.Equal(t, DateOutOfPeriod, ws[0].Kind)
	assert.Equal(t, 1, ws[0].Row)
	assert.Equal(t, EmptyDescription, ws[1].Kind)
	assert.Equal(t, 2, ws[1].Row)
	assert.Equal(t, DateOutOfPeriod, ws[2].Kind)
	assert.Equal(t, 9, ws[2].Row)
}

func TestHashTransactions(t *testing.T) {
	accountID := uuid.New()
	r := plugin.TransactionRecord{Date: date(3), AmountCents: -450, Description: "Coffee  Shop"}

	hashes := HashTransactions(accountID, []plugin.TransactionRecord{r, r, r})
	require.Len(t, hashes, 3)
	assert.NotEqual(t, hashes[0], hashes[1])
	assert.NotEqual(t, hashes[1], hashes[2])
	assert.Equal(t, TransactionHash(accountID, r, 0), hashes[0])

	again := HashTransactions(accountID, []plugin.TransactionRecord{r, r, r})
	assert.Equal(t, hashes, again)

	spaced := r
	spaced.Description = "coffee shop"
	assert.Equal(t, hashes[0], TransactionHash(accountID, spaced, 0))

	withBalance := r
	withBalance.Balance = cents(1000)
	assert.NotEqual(t, hashes[0], TransactionHash(accountID, withBalance, 0))
	assert.NotEqual(t, hashes[0], TransactionHash(uuid.New(), r, 0))

	item := plugin.ShoppingRecord{OrderID: "111-1", Date: date(3), AmountCents: -999, Description: "Cable"}
	items := HashShoppingItems(accountID, []plugin.ShoppingRecord{item, item})
	assert.NotEqual(t, items[0], items[1])
}

type fixture struct {
	ledger  *repository.MemoryLedger
	account repository.Account
	rule    repository.StatementTypeRule
}

func newFixture() *fixture {
	m := repository.NewMemoryLedger()
	return &fixture{
		ledger:  m,
		account: m.AddAccount(repository.Account{Name: "Checking"}, "254779"),
		rule:    m.AddRule(repository.StatementTypeRule{Company: "Example Bank", Extension: ".csv", SearchExpression: "254779", Identifier: "banks/example:Checking"}),
	}
}

// commit validates ext and writes the plan, the way the pipeline does.
func (f *fixture) commit(t *testing.T, v *Validator, docHash string, ext *plugin.Extraction) (*Plan, error) {
	t.Helper()
	ctx := context.Background()
	var plan *Plan
	err := f.ledger.InAccountTx(ctx, f.account.ID, func(tx repository.LedgerTx) error {
		var err error
		plan, err = v.Validate(ctx, tx, f.account.ID, docHash, ext)
		if err != nil || plan.AlreadyImported != nil {
			return err
		}
		st := &repository.Statement{
			RuleID: f.rule.ID, AccountID: f.account.ID,
			StartDate: ext.Header.StartDate, EndDate: ext.Header.EndDate,
			TransactionCount: len(plan.Transactions), Filename: docHash, ContentHash: docHash,
		}
		if err := tx.InsertStatement(ctx, st); err != nil {
			return err
		}
		rows := make([]repository.Transaction, len(plan.Transactions))
		for i, h := range plan.Transactions {
			rows[i] = repository.Transaction{StatementID: st.ID, AccountID: f.account.ID, Date: h.Date, AmountCents: h.AmountCents, ContentHash: h.Hash}
		}
		_, err = tx.InsertTransactions(ctx, rows)
		return err
	})
	return plan, err
}

func TestValidate_Duplicates(t *testing.T) {
	f := newFixture()
	v := New(Config{})

	first := extraction(10000, 9400, -100, -200, -300)
	plan, err := f.commit(t, v, "doc-a", first)
	require.NoError(t, err)
	assert.Len(t, plan.Transactions, 3)
	assert.Zero(t, plan.DuplicateTransactions)
	assert.Empty(t, plan.Warnings)

	t.Run("same document short-circuits", func(t *testing.T) {
		plan, err := f.commit(t, v, "doc-a", first)
		require.NoError(t, err)
		require.NotNil(t, plan.AlreadyImported)
		assert.Equal(t, 3, plan.DuplicateTransactions)
		assert.Empty(t, plan.Transactions)
	})

	t.Run("overlapping export skips known rows", func(t *testing.T) {
		second := extraction(10000, 9000, -100, -200, -300, -400)
		plan, err := f.commit(t, v, "doc-b", second)
		require.NoError(t, err)
		assert.Nil(t, plan.AlreadyImported)
		assert.Equal(t, 3, plan.DuplicateTransactions)
		require.Len(t, plan.Transactions, 1)
		assert.Equal(t, int64(-400), plan.Transactions[0].AmountCents)
		assert.Equal(t, []WarningKind{StatementOverlap}, kinds(plan.Warnings))
	})

	assert.Len(t, f.ledger.Transactions(f.account.ID), 4)
}

func TestValidate_Strict(t *testing.T) {
	f := newFixture()

	unbalanced := extraction(10000, 5000, -100)
	_, err := f.commit(t, New(Config{Strict: true}), "doc-x", unbalanced)
	require.ErrorIs(t, err, ErrReconciliation)
	var rerr *ReconciliationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, []WarningKind{BalanceMismatch}, kinds(rerr.Failures))
	assert.Contains(t, err.Error(), "balance_mismatch")
	assert.Empty(t, f.ledger.Statements())

	plan, err := f.commit(t, New(Config{}), "doc-x", unbalanced)
	require.NoError(t, err)
	assert.Equal(t, []WarningKind{BalanceMismatch}, kinds(plan.Warnings))
	assert.Len(t, f.ledger.Statements(), 1)

	t.Run("unknown balance is never enforced", func(t *testing.T) {
		ext := extraction(0, 0, -100)
		ext.Header.StartBalance = nil
		ext.Header.StartDate = date(1).AddDate(0, 1, 0)
		ext.Header.EndDate = date(31).AddDate(0, 1, 0)
		ext.Transactions[0].Date = ext.Header.StartDate
		plan, err := f.commit(t, New(Config{Strict: true}), "doc-y", ext)
		require.NoError(t, err)
		assert.Equal(t, []WarningKind{BalanceUnknown}, kinds(plan.Warnings))
	})
}

func TestNew_DefaultEpsilon(t *testing.T) {
	v := New(Config{EpsilonCents: -5, Strict: true})
	assert.Equal(t, int64(DefaultEpsilonCents), v.epsilon)
	assert.True(t, v.Strict())
}
