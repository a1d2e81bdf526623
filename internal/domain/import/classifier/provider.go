package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

// RuleSource loads the current statement-type rules.
type RuleSource interface {
	ListRules(ctx context.Context) ([]repository.StatementTypeRule, error)
}

// Provider holds the classifier built from the latest rule load. Refresh
// replaces it wholesale; callers keep whatever classifier they already hold.
type Provider struct {
	source  RuleSource
	current atomic.Pointer[Classifier]
	logger  *slog.Logger
}

// NewProvider loads rules once and returns a ready provider.
func NewProvider(ctx context.Context, source RuleSource, logger *slog.Logger) (*Provider, error) {
	p := &Provider{source: source, logger: logger.With(slog.String("component", "rule_provider"))}
	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Current returns the classifier in use.
func (p *Provider) Current() *Classifier {
	return p.current.Load()
}

// Refresh reloads the rules. On failure the previous classifier stays active.
func (p *Provider) Refresh(ctx context.Context) error {
	rules, err := p.source.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("load statement rules: %w", err)
	}
	p.current.Store(New(rules))
	p.logger.Info("statement rules loaded", slog.Int("rules", len(rules)))
	return nil
}
