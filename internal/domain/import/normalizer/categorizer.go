package normalizer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

// OverrideSource supplies category overrides and records which were used.
type OverrideSource interface {
	ListOverrides(ctx context.Context) ([]CategoryOverride, error)
	RecordMatches(ctx context.Context, ids []uuid.UUID) error
}

// Categorizer assigns the initial category of new transactions.
type Categorizer struct {
	sanitizer *MerchantSanitizer
	overrides OverrideSource
	logger    *slog.Logger
}

// NewCategorizer creates a categorizer. overrides may be nil, in which case
// only the built-in merchant patterns apply.
func NewCategorizer(overrides OverrideSource, logger *slog.Logger) *Categorizer {
	return &Categorizer{
		sanitizer: NewMerchantSanitizer(),
		overrides: overrides,
		logger:    logger.With(slog.String("component", "categorizer")),
	}
}

type overrideMatcher struct {
	id       uuid.UUID
	category string
	match    func(description string) bool
}

// Assignment is the category chosen for one description. OverrideID is
// uuid.Nil unless a user override decided it.
type Assignment struct {
	Category   string
	OverrideID uuid.UUID
}

// Categorize returns one assignment per description. It reads overrides but
// records nothing; call RecordMatches once the categorized rows are stored.
// Categorization never blocks an import: when overrides cannot be loaded the
// built-in patterns still apply, and unrecognised descriptions get
// repository.DefaultCategory.
func (c *Categorizer) Categorize(ctx context.Context, descriptions []string) []Assignment {
	matchers := c.loadMatchers(ctx)

	assigned := make([]Assignment, len(descriptions))
	for i, d := range descriptions {
		assigned[i].Category = repository.DefaultCategory
		if m := firstMatch(matchers, d); m != nil {
			assigned[i] = Assignment{Category: m.category, OverrideID: m.id}
			continue
		}
		if info := c.sanitizer.Sanitize(d); info.Category != "" {
			assigned[i].Category = info.Category
		}
	}
	return assigned
}

// RecordMatches counts one use of each distinct override in ids. Failures
// are logged and otherwise ignored.
func (c *Categorizer) RecordMatches(ctx context.Context, ids []uuid.UUID) {
	if c.overrides == nil {
		return
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return
	}
	if err := c.overrides.RecordMatches(ctx, unique); err != nil {
		c.logger.Warn("failed to record override matches", slog.Any("error", err))
	}
}

func (c *Categorizer) loadMatchers(ctx context.Context) []overrideMatcher {
	if c.overrides == nil {
		return nil
	}
	overrides, err := c.overrides.ListOverrides(ctx)
	if err != nil {
		c.logger.Warn("category overrides unavailable, using built-in patterns", slog.Any("error", err))
		return nil
	}

	matchers := make([]overrideMatcher, 0, len(overrides))
	for _, o := range overrides {
		fn, err := compileOverride(o)
		if err != nil {
			c.logger.Warn("skipping invalid category override",
				slog.String("pattern", o.MatchPattern),
				slog.Any("error", err),
			)
			continue
		}
		matchers = append(matchers, overrideMatcher{id: o.ID, category: o.Category, match: fn})
	}
	return matchers
}

func compileOverride(o CategoryOverride) (func(string) bool, error) {
	pattern := strings.TrimSpace(o.MatchPattern)
	switch o.MatchType {
	case MatchExact:
		return func(d string) bool {
			return pattern != "" && strings.EqualFold(strings.TrimSpace(d), pattern)
		}, nil
	case MatchContains:
		upper := strings.ToUpper(pattern)
		return func(d string) bool {
			return upper != "" && strings.Contains(strings.ToUpper(d), upper)
		}, nil
	case MatchRegex:
		re, err := regexp.Compile("(?i)" + o.MatchPattern)
		if err != nil {
			return nil, err
		}
		return re.MatchString, nil
	default:
		return nil, fmt.Errorf("unknown match type %q", o.MatchType)
	}
}

func firstMatch(matchers []overrideMatcher, description string) *overrideMatcher {
	for i := range matchers {
		if matchers[i].match(description) {
			return &matchers[i]
		}
	}
	return nil
}
