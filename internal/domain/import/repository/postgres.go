package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the part of *pgxpool.Pool the ledger uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// insertBatchSize bounds the rows per multi-value INSERT.
const insertBatchSize = 500

var (
	statementColumns = []string{
		"id", "rule_id", "account_id", "imported_at", "start_date", "end_date",
		"start_balance_minor", "end_balance_minor", "transaction_count",
		"filename", "archive_name", "content_hash",
	}
	transactionColumns = []string{
		"id", "statement_id", "account_id", "date", "amount_minor", "balance_minor",
		"description", "category", "verified", "content_hash",
	}
	shoppingColumns = []string{
		"id", "account_id", "card_id", "statement_id", "order_id", "date",
		"amount_minor", "description", "content_hash",
	}
)

// PostgresLedger implements Ledger on PostgreSQL.
type PostgresLedger struct {
	db DB
}

// NewPostgresLedger creates a ledger over a pgx pool.
func NewPostgresLedger(db DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) ResolveAccount(ctx context.Context, number string) (*Account, error) {
	query, args, err := psql.
		Select("a.id", "a.name", "a.account_type_id", "a.company", "a.description").
		From("accounts a").
		Join("account_numbers n ON n.account_id = a.id").
		Where(squirrel.Eq{"n.number": number}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build account query: %w", err)
	}

	var a Account
	err = l.db.QueryRow(ctx, query, args...).Scan(&a.ID, &a.Name, &a.AccountTypeID, &a.Company, &a.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("resolve account", err)
	}
	return &a, nil
}

func (l *PostgresLedger) ResolveCard(ctx context.Context, lastFour string) (*Card, error) {
	query, args, err := psql.
		Select("id", "account_id", "card_number", "last_four").
		From("cards").
		Where(squirrel.Eq{"last_four": lastFour}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build card query: %w", err)
	}

	var c Card
	err = l.db.QueryRow(ctx, query, args...).Scan(&c.ID, &c.AccountID, &c.CardNumber, &c.LastFour)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("resolve card", err)
	}
	return &c, nil
}

func statementFields(st *Statement, extra ...any) []any {
	return append([]any{
		&st.ID, &st.RuleID, &st.AccountID, &st.ImportedAt, &st.StartDate, &st.EndDate,
		&st.StartBalance, &st.EndBalance, &st.TransactionCount,
		&st.Filename, &st.ArchiveName, &st.ContentHash,
	}, extra...)
}

func (l *PostgresLedger) StatementByHash(ctx context.Context, hash string) (*ImportedStatement, error) {
	columns := make([]string, 0, len(statementColumns)+1)
	for _, c := range statementColumns {
		columns = append(columns, "s."+c)
	}
	columns = append(columns, "(SELECT count(*) FROM shopping_items i WHERE i.statement_id = s.id)")

	query, args, err := psql.Select(columns...).
		From("statements s").
		Where(squirrel.Eq{"s.content_hash": hash}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build statement query: %w", err)
	}

	var imported ImportedStatement
	err = l.db.QueryRow(ctx, query, args...).Scan(statementFields(&imported.Statement, &imported.ShoppingItems)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("statement by hash", err)
	}
	return &imported, nil
}

func (l *PostgresLedger) StatementPeriods(ctx context.Context) ([]StatementPeriod, error) {
	query, args, err := psql.
		Select("s.account_id", "a.name", "s.id", "s.filename", "s.start_date", "s.end_date").
		From("statements s").
		Join("accounts a ON a.id = s.account_id").
		OrderBy("a.name", "s.account_id", "s.start_date").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build statement periods query: %w", err)
	}

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("statement periods", err)
	}
	defer rows.Close()

	var periods []StatementPeriod
	for rows.Next() {
		var p StatementPeriod
		if err := rows.Scan(&p.AccountID, &p.AccountName, &p.StatementID, &p.Filename, &p.Start, &p.End); err != nil {
			return nil, persistenceError("scan statement period", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("statement periods", err)
	}
	return periods, nil
}

// advisoryKey maps an account to the bigint key of its transaction-scoped
// advisory lock.
func advisoryKey(accountID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(accountID[:8]))
}

func (l *PostgresLedger) InAccountTx(ctx context.Context, accountID uuid.UUID, fn func(tx LedgerTx) error) (err error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return persistenceError("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryKey(accountID)); err != nil {
		return persistenceError("lock account", err)
	}
	if err = fn(&pgLedgerTx{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return persistenceError("commit", err)
	}
	return nil
}

type pgLedgerTx struct {
	q querier
}

func (t *pgLedgerTx) StatementByHash(ctx context.Context, hash string) (*Statement, error) {
	query, args, err := psql.Select(statementColumns...).
		From("statements").
		Where(squirrel.Eq{"content_hash": hash}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build statement query: %w", err)
	}

	var st Statement
	err = t.q.QueryRow(ctx, query, args...).Scan(statementFields(&st)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("statement by hash", err)
	}
	return &st, nil
}

func (t *pgLedgerTx) OverlappingStatements(ctx context.Context, accountID uuid.UUID, start, end time.Time) ([]DateRange, error) {
	query, args, err := psql.Select("id", "filename", "start_date", "end_date").
		From("statements").
		Where(squirrel.Eq{"account_id": accountID}).
		Where(squirrel.LtOrEq{"start_date": end}).
		Where(squirrel.GtOrEq{"end_date": start}).
		OrderBy("start_date").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build overlap query: %w", err)
	}

	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("overlapping statements", err)
	}
	defer rows.Close()

	var ranges []DateRange
	for rows.Next() {
		var r DateRange
		if err := rows.Scan(&r.StatementID, &r.Filename, &r.Start, &r.End); err != nil {
			return nil, persistenceError("scan statement range", err)
		}
		ranges = append(ranges, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("overlapping statements", err)
	}
	return ranges, nil
}

func (t *pgLedgerTx) ExistingTransactionHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	return t.existingHashes(ctx, "transactions", hashes)
}

func (t *pgLedgerTx) ExistingShoppingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	return t.existingHashes(ctx, "shopping_items", hashes)
}

func (t *pgLedgerTx) existingHashes(ctx context.Context, table string, hashes []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(hashes) == 0 {
		return found, nil
	}

	query, args, err := psql.Select("content_hash").
		From(table).
		Where(squirrel.Eq{"content_hash": hashes}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build hash query: %w", err)
	}

	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("existing "+table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, persistenceError("scan "+table+" hash", err)
		}
		found[h] = true
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("existing "+table, err)
	}
	return found, nil
}

func (t *pgLedgerTx) InsertStatement(ctx context.Context, st *Statement) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	if st.ImportedAt.IsZero() {
		st.ImportedAt = time.Now().UTC()
	}

	query, args, err := psql.Insert("statements").
		Columns(statementColumns...).
		Values(
			st.ID, st.RuleID, st.AccountID, st.ImportedAt, st.StartDate, st.EndDate,
			st.StartBalance, st.EndBalance, st.TransactionCount,
			st.Filename, st.ArchiveName, st.ContentHash,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build statement insert: %w", err)
	}

	if _, err := t.q.Exec(ctx, query, args...); err != nil {
		return persistenceError("insert statement", err)
	}
	return nil
}

func (t *pgLedgerTx) InsertTransactions(ctx context.Context, txs []Transaction) (int, error) {
	written := 0
	for start := 0; start < len(txs); start += insertBatchSize {
		batch := txs[start:min(start+insertBatchSize, len(txs))]

		b := psql.Insert("transactions").Columns(transactionColumns...)
		for i := range batch {
			tx := &batch[i]
			if tx.ID == uuid.Nil {
				tx.ID = uuid.New()
			}
			b = b.Values(
				tx.ID, tx.StatementID, tx.AccountID, tx.Date, tx.AmountCents, tx.Balance,
				tx.Description, tx.Category, tx.Verified, tx.ContentHash,
			)
		}
		query, args, err := b.Suffix("ON CONFLICT (content_hash) DO NOTHING").ToSql()
		if err != nil {
			return written, fmt.Errorf("build transaction insert: %w", err)
		}

		tag, err := t.q.Exec(ctx, query, args...)
		if err != nil {
			return written, persistenceError("insert transactions", err)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

func (t *pgLedgerTx) InsertShoppingItems(ctx context.Context, items []ShoppingItem) (int, error) {
	written := 0
	for start := 0; start < len(items); start += insertBatchSize {
		batch := items[start:min(start+insertBatchSize, len(items))]

		b := psql.Insert("shopping_items").Columns(shoppingColumns...)
		for i := range batch {
			item := &batch[i]
			if item.ID == uuid.Nil {
				item.ID = uuid.New()
			}
			b = b.Values(
				item.ID, item.AccountID, item.CardID, item.StatementID, item.OrderID, item.Date,
				item.AmountCents, item.Description, item.ContentHash,
			)
		}
		query, args, err := b.Suffix("ON CONFLICT (content_hash) DO NOTHING").ToSql()
		if err != nil {
			return written, fmt.Errorf("build shopping insert: %w", err)
		}

		tag, err := t.q.Exec(ctx, query, args...)
		if err != nil {
			return written, persistenceError("insert shopping items", err)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// PostgresRuleStore reads statement type rules from PostgreSQL.
type PostgresRuleStore struct {
	db DB
}

// NewPostgresRuleStore creates a rule store over a pgx pool.
func NewPostgresRuleStore(db DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

func (s *PostgresRuleStore) ListRules(ctx context.Context) ([]StatementTypeRule, error) {
	query, args, err := psql.
		Select("id", "company", "description", "extension", "search_expression", "identifier").
		From("statement_type_rules").
		OrderBy("company", "description").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build rule query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("list rules", err)
	}
	defer rows.Close()

	var rules []StatementTypeRule
	for rows.Next() {
		var r StatementTypeRule
		if err := rows.Scan(&r.ID, &r.Company, &r.Description, &r.Extension, &r.SearchExpression, &r.Identifier); err != nil {
			return nil, persistenceError("scan rule", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list rules", err)
	}
	return rules, nil
}
