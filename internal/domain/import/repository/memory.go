package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-process Ledger and RuleStore with the same
// transactional and uniqueness rules as the PostgreSQL schema. Writes made
// inside InAccountTx become visible only when the callback succeeds.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
	numbers  map[string]uuid.UUID
	cards    map[string]Card
	rules    []StatementTypeRule

	statements   map[uuid.UUID]Statement
	stmtByHash   map[string]uuid.UUID
	transactions []Transaction
	txHashes     map[string]bool
	items        []ShoppingItem
	itemHashes   map[string]bool

	commitErr error

	lockMu sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:   make(map[uuid.UUID]Account),
		numbers:    make(map[string]uuid.UUID),
		cards:      make(map[string]Card),
		statements: make(map[uuid.UUID]Statement),
		stmtByHash: make(map[string]uuid.UUID),
		txHashes:   make(map[string]bool),
		itemHashes: make(map[string]bool),
		locks:      make(map[uuid.UUID]*sync.Mutex),
	}
}

// AddAccount registers an account and the statement numbers that identify it.
func (m *MemoryLedger) AddAccount(a Account, numbers ...string) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.accounts[a.ID] = a
	for _, n := range numbers {
		m.numbers[n] = a.ID
	}
	return a
}

// AddCard registers a card of an existing account.
func (m *MemoryLedger) AddCard(c Card) Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.cards[c.LastFour] = c
	return c
}

// AddRule registers a statement type rule.
func (m *MemoryLedger) AddRule(r StatementTypeRule) StatementTypeRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.rules = append(m.rules, r)
	return r
}

// FailCommits makes every following commit fail with a StoreUnavailable
// error wrapping err. A nil err restores normal commits.
func (m *MemoryLedger) FailCommits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
}

func (m *MemoryLedger) ListRules(_ context.Context) ([]StatementTypeRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := make([]StatementTypeRule, len(m.rules))
	copy(rules, m.rules)
	return rules, nil
}

func (m *MemoryLedger) ResolveAccount(_ context.Context, number string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.numbers[number]
	if !ok {
		return nil, ErrNotFound
	}
	a := m.accounts[id]
	return &a, nil
}

func (m *MemoryLedger) ResolveCard(_ context.Context, lastFour string) (*Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[lastFour]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryLedger) StatementByHash(_ context.Context, hash string) (*ImportedStatement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.stmtByHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	imported := &ImportedStatement{Statement: m.statements[id]}
	for _, it := range m.items {
		if it.StatementID != nil && *it.StatementID == id {
			imported.ShoppingItems++
		}
	}
	return imported, nil
}

func (m *MemoryLedger) StatementPeriods(_ context.Context) ([]StatementPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	periods := make([]StatementPeriod, 0, len(m.statements))
	for _, st := range m.statements {
		periods = append(periods, StatementPeriod{
			AccountID:   st.AccountID,
			AccountName: m.accounts[st.AccountID].Name,
			StatementID: st.ID,
			Filename:    st.Filename,
			Start:       st.StartDate,
			End:         st.EndDate,
		})
	}
	sort.Slice(periods, func(i, j int) bool {
		a, b := periods[i], periods[j]
		if a.AccountName != b.AccountName {
			return a.AccountName < b.AccountName
		}
		if a.AccountID != b.AccountID {
			return a.AccountID.String() < b.AccountID.String()
		}
		return a.Start.Before(b.Start)
	})
	return periods, nil
}

func (m *MemoryLedger) accountLock(id uuid.UUID) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *MemoryLedger) InAccountTx(ctx context.Context, accountID uuid.UUID, fn func(tx LedgerTx) error) error {
	lock := m.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return &PersistenceError{Kind: StoreUnavailable, Op: "begin", Err: err}
	}

	tx := &memoryTx{ledger: m, statements: make(map[uuid.UUID]Statement)}
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

// commit applies a staged transaction atomically, re-checking uniqueness
// against writes committed by other accounts meanwhile.
func (m *MemoryLedger) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitErr != nil {
		return &PersistenceError{Kind: StoreUnavailable, Op: "commit", Err: m.commitErr}
	}
	for _, st := range tx.stmtOrder {
		if _, dup := m.stmtByHash[st.ContentHash]; dup {
			return &PersistenceError{Kind: ConstraintViolation, Op: "commit", Err: fmt.Errorf("statement content hash %s exists", st.ContentHash)}
		}
	}

	for _, st := range tx.stmtOrder {
		m.statements[st.ID] = st
		m.stmtByHash[st.ContentHash] = st.ID
	}
	for _, t := range tx.transactions {
		if m.txHashes[t.ContentHash] {
			continue
		}
		m.txHashes[t.ContentHash] = true
		m.transactions = append(m.transactions, t)
	}
	for _, it := range tx.items {
		if m.itemHashes[it.ContentHash] {
			continue
		}
		m.itemHashes[it.ContentHash] = true
		m.items = append(m.items, it)
	}
	return nil
}

// Statements returns committed statements ordered by import time.
func (m *MemoryLedger) Statements() []Statement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Statement, 0, len(m.statements))
	for _, st := range m.statements {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImportedAt.Before(out[j].ImportedAt) })
	return out
}

// Transactions returns committed transactions of an account in insert order.
func (m *MemoryLedger) Transactions(accountID uuid.UUID) []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Transaction
	for _, t := range m.transactions {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}

// ShoppingItems returns committed shopping items in insert order.
func (m *MemoryLedger) ShoppingItems() []ShoppingItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ShoppingItem, len(m.items))
	copy(out, m.items)
	return out
}

type memoryTx struct {
	ledger       *MemoryLedger
	statements   map[uuid.UUID]Statement
	stmtOrder    []Statement
	transactions []Transaction
	items        []ShoppingItem
}

func (t *memoryTx) StatementByHash(_ context.Context, hash string) (*Statement, error) {
	for _, st := range t.stmtOrder {
		if st.ContentHash == hash {
			return &st, nil
		}
	}
	m := t.ledger
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.stmtByHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	st := m.statements[id]
	return &st, nil
}

func (t *memoryTx) OverlappingStatements(_ context.Context, accountID uuid.UUID, start, end time.Time) ([]DateRange, error) {
	m := t.ledger
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ranges []DateRange
	for _, st := range m.statements {
		if st.AccountID != accountID || st.StartDate.After(end) || st.EndDate.Before(start) {
			continue
		}
		ranges = append(ranges, DateRange{StatementID: st.ID, Filename: st.Filename, Start: st.StartDate, End: st.EndDate})
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start.Before(ranges[j].Start) })
	return ranges, nil
}

func (t *memoryTx) ExistingTransactionHashes(_ context.Context, hashes []string) (map[string]bool, error) {
	staged := make(map[string]bool, len(t.transactions))
	for _, tx := range t.transactions {
		staged[tx.ContentHash] = true
	}
	return t.ledger.existing(hashes, t.ledger.txHashes, staged), nil
}

func (t *memoryTx) ExistingShoppingHashes(_ context.Context, hashes []string) (map[string]bool, error) {
	staged := make(map[string]bool, len(t.items))
	for _, it := range t.items {
		staged[it.ContentHash] = true
	}
	return t.ledger.existing(hashes, t.ledger.itemHashes, staged), nil
}

func (m *MemoryLedger) existing(hashes []string, committed, staged map[string]bool) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := make(map[string]bool)
	for _, h := range hashes {
		if committed[h] || staged[h] {
			found[h] = true
		}
	}
	return found
}

func (t *memoryTx) InsertStatement(_ context.Context, st *Statement) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	if st.ImportedAt.IsZero() {
		st.ImportedAt = time.Now().UTC()
	}
	if st.StartDate.After(st.EndDate) {
		return &PersistenceError{Kind: ConstraintViolation, Op: "insert statement", Err: fmt.Errorf("start date after end date")}
	}

	m := t.ledger
	m.mu.RLock()
	_, accountOK := m.accounts[st.AccountID]
	ruleOK := false
	for _, r := range m.rules {
		if r.ID == st.RuleID {
			ruleOK = true
			break
		}
	}
	_, dup := m.stmtByHash[st.ContentHash]
	m.mu.RUnlock()

	switch {
	case !accountOK:
		return &PersistenceError{Kind: ConstraintViolation, Op: "insert statement", Err: fmt.Errorf("account %s does not exist", st.AccountID)}
	case !ruleOK:
		return &PersistenceError{Kind: ConstraintViolation, Op: "insert statement", Err: fmt.Errorf("rule %s does not exist", st.RuleID)}
	case dup:
		return &PersistenceError{Kind: ConstraintViolation, Op: "insert statement", Err: fmt.Errorf("content hash %s exists", st.ContentHash)}
	}
	for _, staged := range t.stmtOrder {
		if staged.ContentHash == st.ContentHash {
			return &PersistenceError{Kind: ConstraintViolation, Op: "insert statement", Err: fmt.Errorf("content hash %s exists", st.ContentHash)}
		}
	}

	t.statements[st.ID] = *st
	t.stmtOrder = append(t.stmtOrder, *st)
	return nil
}

func (t *memoryTx) statementExists(id uuid.UUID) bool {
	if _, ok := t.statements[id]; ok {
		return true
	}
	m := t.ledger
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.statements[id]
	return ok
}

func (t *memoryTx) accountExists(id uuid.UUID) bool {
	m := t.ledger
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[id]
	return ok
}

func (t *memoryTx) InsertTransactions(ctx context.Context, txs []Transaction) (int, error) {
	hashes := make([]string, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.ContentHash
	}
	existing, _ := t.ExistingTransactionHashes(ctx, hashes)

	written := 0
	for i := range txs {
		tx := &txs[i]
		if !t.accountExists(tx.AccountID) || !t.statementExists(tx.StatementID) {
			return written, &PersistenceError{Kind: ConstraintViolation, Op: "insert transactions", Err: fmt.Errorf("row %d references a missing account or statement", i)}
		}
		if existing[tx.ContentHash] {
			continue
		}
		if tx.ID == uuid.Nil {
			tx.ID = uuid.New()
		}
		existing[tx.ContentHash] = true
		t.transactions = append(t.transactions, *tx)
		written++
	}
	return written, nil
}

func (t *memoryTx) InsertShoppingItems(ctx context.Context, items []ShoppingItem) (int, error) {
	hashes := make([]string, len(items))
	for i, it := range items {
		hashes[i] = it.ContentHash
	}
	existing, _ := t.ExistingShoppingHashes(ctx, hashes)

	written := 0
	for i := range items {
		it := &items[i]
		if !t.accountExists(it.AccountID) || (it.StatementID != nil && !t.statementExists(*it.StatementID)) {
			return written, &PersistenceError{Kind: ConstraintViolation, Op: "insert shopping items", Err: fmt.Errorf("row %d references a missing account or statement", i)}
		}
		if existing[it.ContentHash] {
			continue
		}
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		existing[it.ContentHash] = true
		t.items = append(t.items, *it)
		written++
	}
	return written, nil
}
