// Package service runs documents through the ingestion state machine:
// classify, resolve the adapter, parse, validate and commit.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/classifier"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/normalizer"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sniffer"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/validator"
	"github.com/FACorreiaa/ledger-ingest/pkg/metrics"
)

const tracerName = "github.com/FACorreiaa/ledger-ingest/internal/domain/import/service"

// Submission is one document handed to the pipeline.
type Submission struct {
	Filename  string
	Data      []byte
	Extension string // optional; the filename's extension is used when empty
}

// Result summarizes a committed document.
type Result struct {
	State       Stage     `json:"state"`
	StatementID uuid.UUID `json:"statement_id"`
	AccountID   uuid.UUID `json:"account_id"`
	RuleID      uuid.UUID `json:"rule_id"`
	Identifier  string    `json:"identifier"`
	Filename    string    `json:"filename"`
	ArchiveName string    `json:"archive_name"`

	AlreadyImported        bool `json:"already_imported"`
	NewTransactions        int  `json:"new_transactions"`
	DuplicateTransactions  int  `json:"duplicate_transactions"`
	NewShoppingItems       int  `json:"new_shopping_items"`
	DuplicateShoppingItems int  `json:"duplicate_shopping_items"`

	Warnings []validator.Warning `json:"warnings,omitempty"`
}

// Outcome is the per-document result of a batch. Exactly one field is set.
type Outcome struct {
	Result *Result
	Err    error
}

// Config tunes the pipeline.
type Config struct {
	// Workers bounds batch concurrency; zero means GOMAXPROCS.
	Workers      int
	Strict       bool
	EpsilonCents int64
	// DryRun marks runs whose commits are rolled back; override match counts
	// are then left untouched.
	DryRun bool
}

// Deps are the pipeline's collaborators. Categorizer and Metrics are optional.
type Deps struct {
	Loader      *sniffer.Loader
	Rules       *classifier.Provider
	Registry    *plugin.Registry
	Ledger      repository.Ledger
	Categorizer *normalizer.Categorizer
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	deps      Deps
	validator *validator.Validator
	workers   int
	dryRun    bool
	locks     *accountLocks
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New creates a pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{
		deps:      deps,
		validator: validator.New(validator.Config{Strict: cfg.Strict, EpsilonCents: cfg.EpsilonCents}),
		workers:   workers,
		dryRun:    cfg.DryRun,
		locks:     newAccountLocks(),
		tracer:    otel.Tracer(tracerName),
		logger:    deps.Logger.With(slog.String("component", "ingest_pipeline")),
	}
}

// Strict reports whether reconciliation failures abort commits.
func (p *Pipeline) Strict() bool { return p.validator.Strict() }

// Ingest runs one document to a terminal state. Once started, the document
// is not interrupted by ctx cancellation.
func (p *Pipeline) Ingest(ctx context.Context, sub Submission) (*Result, error) {
	return p.ingest(ctx, p.deps.Registry.Snapshot(), p.deps.Rules.Current(), sub)
}

// IngestBatch ingests every submission with bounded concurrency and returns
// one outcome per submission, in order. After ctx is cancelled no further
// documents are started; the ones already running finish.
func (p *Pipeline) IngestBatch(ctx context.Context, subs []Submission) []Outcome {
	snap := p.deps.Registry.Snapshot()
	rules := p.deps.Rules.Current()
	outcomes := make([]Outcome, len(subs))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, sub := range subs {
		if err := ctx.Err(); err != nil {
			outcomes[i] = Outcome{Err: p.reject(ctx, sub.Filename, StageSubmitted, err)}
			continue
		}
		g.Go(func() error {
			res, err := p.ingest(ctx, snap, rules, sub)
			outcomes[i] = Outcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Pipeline) ingest(ctx context.Context, snap *plugin.Snapshot, rules *classifier.Classifier, sub Submission) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, p.reject(ctx, sub.Filename, StageSubmitted, err)
	}
	ctx = context.WithoutCancel(ctx)

	if p.deps.Metrics != nil {
		p.deps.Metrics.InFlight.Inc()
		defer p.deps.Metrics.InFlight.Dec()
	}
	ctx, span := p.tracer.Start(ctx, "ingest", trace.WithAttributes(attribute.String("filename", sub.Filename)))
	defer span.End()

	logger := p.logger.With(slog.String("filename", sub.Filename))

	// Submitted -> Classified
	start := time.Now()
	doc, err := p.deps.Loader.Load(sub.Data, sub.Extension, sub.Filename)
	if errors.Is(err, sniffer.ErrUnsupportedExtension) {
		err = &classifier.ClassificationError{
			Reason:    classifier.NoMatch,
			Filename:  sub.Filename,
			Extension: sniffer.NormalizeExtension(sub.Extension, sub.Filename),
		}
	}
	if err != nil {
		return nil, p.reject(ctx, sub.Filename, StageClassified, err)
	}

	// Bytes committed before short-circuit to Committed whatever the current
	// rules, adapters and accounts would make of them.
	prior, err := p.deps.Ledger.StatementByHash(ctx, doc.Hash)
	switch {
	case err == nil:
		res := importedResult(prior, doc.Filename)
		p.finish(span, logger, res)
		return res, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, p.reject(ctx, sub.Filename, StageClassified, err)
	}

	rule, err := rules.Classify(doc)
	if err != nil {
		return nil, p.reject(ctx, sub.Filename, StageClassified, err)
	}
	p.deps.Metrics.ObserveStage(string(StageClassified), start)
	span.AddEvent(string(StageClassified), trace.WithAttributes(attribute.String("rule", rule.Label())))

	// Classified -> PluginResolved
	start = time.Now()
	adapter, err := snap.Resolve(ctx, rule.Identifier)
	if err == nil {
		err = plugin.CheckExtension(rule.Identifier, adapter, doc.Extension)
	}
	if err != nil {
		return nil, p.reject(ctx, sub.Filename, StagePluginResolved, err)
	}
	p.deps.Metrics.ObserveStage(string(StagePluginResolved), start)
	span.AddEvent(string(StagePluginResolved), trace.WithAttributes(attribute.String("identifier", rule.Identifier)))

	// PluginResolved -> Parsed
	start = time.Now()
	ext, err := parse(adapter, doc)
	if err != nil {
		return nil, p.reject(ctx, sub.Filename, StageParsed, err)
	}
	p.deps.Metrics.ObserveStage(string(StageParsed), start)
	span.AddEvent(string(StageParsed), trace.WithAttributes(attribute.Int("records", ext.RecordCount())))

	// Parsed -> Validated -> Committed
	start = time.Now()
	account, err := p.resolveAccount(ctx, ext.Header.AccountNumber)
	if err != nil {
		return nil, p.reject(ctx, sub.Filename, StageValidated, err)
	}
	cards, err := p.resolveCards(ctx, ext.ShoppingItems)
	if err != nil {
		return nil, p.reject(ctx, sub.Filename, StageValidated, err)
	}

	categories := p.categorize(ctx, ext.Transactions)

	res := &Result{
		AccountID:  account.ID,
		RuleID:     rule.ID,
		Identifier: rule.Identifier,
		Filename:   doc.Filename,
	}
	matched, stage, err := p.commit(ctx, doc, rule, account, cards, ext, categories, res)
	if err != nil {
		return nil, p.reject(ctx, sub.Filename, stage, err)
	}
	p.deps.Metrics.ObserveStage(string(StageCommitted), start)

	if len(matched) > 0 && !p.dryRun {
		p.deps.Categorizer.RecordMatches(ctx, matched)
	}
	p.finish(span, logger, res)
	return res, nil
}

// importedResult reports a document whose bytes were committed before. Every
// record counts as a duplicate.
func importedResult(st *repository.ImportedStatement, filename string) *Result {
	return &Result{
		StatementID:            st.ID,
		AccountID:              st.AccountID,
		RuleID:                 st.RuleID,
		Filename:               filename,
		ArchiveName:            st.ArchiveName,
		AlreadyImported:        true,
		DuplicateTransactions:  max(st.TransactionCount-st.ShoppingItems, 0),
		DuplicateShoppingItems: st.ShoppingItems,
	}
}

func (p *Pipeline) finish(span trace.Span, logger *slog.Logger, res *Result) {
	res.State = StageCommitted
	p.record(res)
	span.SetAttributes(
		attribute.Bool("already_imported", res.AlreadyImported),
		attribute.Int("new_transactions", res.NewTransactions),
		attribute.Int("duplicate_transactions", res.DuplicateTransactions),
	)
	for _, w := range res.Warnings {
		logger.Warn("statement consistency warning",
			slog.String("kind", string(w.Kind)),
			slog.Int("row", w.Row),
			slog.String("message", w.Message),
		)
	}
	logger.Info("statement committed",
		slog.String("statement_id", res.StatementID.String()),
		slog.String("identifier", res.Identifier),
		slog.Bool("already_imported", res.AlreadyImported),
		slog.Int("new_transactions", res.NewTransactions),
		slog.Int("duplicate_transactions", res.DuplicateTransactions),
		slog.Int("new_shopping_items", res.NewShoppingItems),
		slog.Int("warnings", len(res.Warnings)),
	)
}

// parse invokes the adapter and checks the result is usable.
func parse(adapter plugin.Adapter, doc *plugin.Document) (ext *plugin.Extraction, err error) {
	defer func() {
		if r := recover(); r != nil {
			ext, err = nil, plugin.NewStructureError("adapter panicked: %v", r)
		}
	}()

	ext, err = adapter.Parse(doc)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, plugin.NewStructureError("adapter returned no extraction")
	}
	h := ext.Header
	if h.StartDate.IsZero() || h.EndDate.IsZero() {
		return nil, plugin.NewStructureError("statement period could not be determined")
	}
	if h.EndDate.Before(h.StartDate) {
		return nil, plugin.NewStructureError("statement period ends %s before it starts %s",
			h.EndDate.Format(time.DateOnly), h.StartDate.Format(time.DateOnly))
	}
	return ext, nil
}

func (p *Pipeline) resolveAccount(ctx context.Context, number string) (*repository.Account, error) {
	if number == "" {
		return nil, ErrAccountMissing
	}
	account, err := p.deps.Ledger.ResolveAccount(ctx, number)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &AccountError{Reason: AccountNotFound, Number: number}
	}
	return account, err
}

// resolveCards maps card last-four digits to cards. Unknown cards are left
// out; their items are stored without a card.
func (p *Pipeline) resolveCards(ctx context.Context, items []plugin.ShoppingRecord) (map[string]uuid.UUID, error) {
	cards := make(map[string]uuid.UUID)
	seen := make(map[string]bool)
	for _, item := range items {
		if item.CardLastFour == "" || seen[item.CardLastFour] {
			continue
		}
		seen[item.CardLastFour] = true
		card, err := p.deps.Ledger.ResolveCard(ctx, item.CardLastFour)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			p.logger.Debug("card not registered", slog.String("last_four", item.CardLastFour))
		case err != nil:
			return nil, err
		default:
			cards[item.CardLastFour] = card.ID
		}
	}
	return cards, nil
}

// categorize assigns categories by description before the account
// transaction opens, so override lookups never hold a second connection.
func (p *Pipeline) categorize(ctx context.Context, records []plugin.TransactionRecord) map[string]normalizer.Assignment {
	if p.deps.Categorizer == nil || len(records) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(records))
	descriptions := make([]string, 0, len(records))
	for _, r := range records {
		if !seen[r.Description] {
			seen[r.Description] = true
			descriptions = append(descriptions, r.Description)
		}
	}

	assigned := p.deps.Categorizer.Categorize(ctx, descriptions)
	categories := make(map[string]normalizer.Assignment, len(descriptions))
	for i, d := range descriptions {
		categories[d] = assigned[i]
	}
	return categories
}

// commit validates and writes the document inside one account transaction.
// It returns the overrides that categorized the new transactions and the
// stage to blame on failure.
func (p *Pipeline) commit(ctx context.Context, doc *plugin.Document, rule *repository.StatementTypeRule, account *repository.Account, cards map[string]uuid.UUID, ext *plugin.Extraction, categories map[string]normalizer.Assignment, res *Result) ([]uuid.UUID, Stage, error) {
	unlock := p.locks.Lock(account.ID)
	defer unlock()

	var matched []uuid.UUID
	stage := StageValidated
	err := p.deps.Ledger.InAccountTx(ctx, account.ID, func(tx repository.LedgerTx) error {
		matched = nil
		plan, err := p.validator.Validate(ctx, tx, account.ID, doc.Hash, ext)
		if err != nil {
			return err
		}
		stage = StageCommitted

		res.Warnings = plan.Warnings
		res.DuplicateTransactions = plan.DuplicateTransactions
		res.DuplicateShoppingItems = plan.DuplicateShoppingItems
		if plan.AlreadyImported != nil {
			res.AlreadyImported = true
			res.StatementID = plan.AlreadyImported.ID
			res.ArchiveName = plan.AlreadyImported.ArchiveName
			return nil
		}

		h := ext.Header
		st := &repository.Statement{
			ID:               uuid.New(),
			RuleID:           rule.ID,
			AccountID:        account.ID,
			StartDate:        h.StartDate,
			EndDate:          h.EndDate,
			StartBalance:     h.StartBalance,
			EndBalance:       h.EndBalance,
			TransactionCount: h.Count,
			Filename:         doc.Filename,
			ArchiveName:      ArchiveName(account.Name, h.StartDate, h.EndDate, doc.Extension),
			ContentHash:      doc.Hash,
		}
		if err := tx.InsertStatement(ctx, st); err != nil {
			return err
		}
		res.StatementID = st.ID
		res.ArchiveName = st.ArchiveName

		if n := len(plan.Transactions); n > 0 {
			var txs []repository.Transaction
			txs, matched = buildTransactions(st, categories, plan.Transactions)
			written, err := tx.InsertTransactions(ctx, txs)
			if err != nil {
				return err
			}
			res.NewTransactions = written
			res.DuplicateTransactions += n - written
		}

		if n := len(plan.ShoppingItems); n > 0 {
			items := buildShoppingItems(st, cards, plan.ShoppingItems)
			written, err := tx.InsertShoppingItems(ctx, items)
			if err != nil {
				return err
			}
			res.NewShoppingItems = written
			res.DuplicateShoppingItems += n - written
		}
		return nil
	})
	if err != nil {
		return nil, stage, err
	}
	return matched, StageCommitted, nil
}

func buildTransactions(st *repository.Statement, categories map[string]normalizer.Assignment, records []validator.HashedTransaction) ([]repository.Transaction, []uuid.UUID) {
	var matched []uuid.UUID
	txs := make([]repository.Transaction, len(records))
	for i, r := range records {
		category := repository.DefaultCategory
		if a, ok := categories[r.Description]; ok {
			category = a.Category
			if a.OverrideID != uuid.Nil {
				matched = append(matched, a.OverrideID)
			}
		}
		txs[i] = repository.Transaction{
			ID:          uuid.New(),
			StatementID: st.ID,
			AccountID:   st.AccountID,
			Date:        r.Date,
			AmountCents: r.AmountCents,
			Balance:     r.Balance,
			Description: r.Description,
			Category:    category,
			ContentHash: r.Hash,
		}
	}
	return txs, matched
}

func buildShoppingItems(st *repository.Statement, cards map[string]uuid.UUID, records []validator.HashedShoppingItem) []repository.ShoppingItem {
	statementID := st.ID
	items := make([]repository.ShoppingItem, len(records))
	for i, r := range records {
		item := repository.ShoppingItem{
			ID:          uuid.New(),
			AccountID:   st.AccountID,
			StatementID: &statementID,
			OrderID:     r.OrderID,
			Date:        r.Date,
			AmountCents: r.AmountCents,
			Description: r.Description,
			ContentHash: r.Hash,
		}
		if id, ok := cards[r.CardLastFour]; ok {
			cardID := id
			item.CardID = &cardID
		}
		items[i] = item
	}
	return items
}

func (p *Pipeline) reject(ctx context.Context, filename string, stage Stage, err error) error {
	ierr := &IngestError{Stage: stage, Filename: filename, Err: err}

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(stage))

	if m := p.deps.Metrics; m != nil {
		m.Documents.WithLabelValues(metrics.OutcomeRejected, string(stage)).Inc()
	}
	p.logger.Warn("statement rejected",
		slog.String("filename", filename),
		slog.String("stage", string(stage)),
		slog.Any("error", err),
	)
	return ierr
}

func (p *Pipeline) record(res *Result) {
	m := p.deps.Metrics
	if m == nil {
		return
	}
	outcome := metrics.OutcomeCommitted
	if res.AlreadyImported {
		outcome = metrics.OutcomeAlreadyImported
	}
	m.Documents.WithLabelValues(outcome, string(StageCommitted)).Inc()
	m.Rows.WithLabelValues("transaction", "new").Add(float64(res.NewTransactions))
	m.Rows.WithLabelValues("transaction", "duplicate").Add(float64(res.DuplicateTransactions))
	m.Rows.WithLabelValues("shopping_item", "new").Add(float64(res.NewShoppingItems))
	m.Rows.WithLabelValues("shopping_item", "duplicate").Add(float64(res.DuplicateShoppingItems))
	for _, w := range res.Warnings {
		m.Warnings.WithLabelValues(string(w.Kind)).Inc()
	}
}

// Describe renders an outcome for logs and command output.
func (o Outcome) Describe() string {
	if o.Err != nil {
		return fmt.Sprintf("rejected: %v", o.Err)
	}
	r := o.Result
	if r.AlreadyImported {
		return fmt.Sprintf("already imported as %s (%d duplicates)", r.StatementID, r.DuplicateTransactions+r.DuplicateShoppingItems)
	}
	return fmt.Sprintf("committed %s: %d new, %d duplicates, %d warnings",
		r.StatementID, r.NewTransactions+r.NewShoppingItems, r.DuplicateTransactions+r.DuplicateShoppingItems, len(r.Warnings))
}
