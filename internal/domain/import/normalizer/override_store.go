package normalizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MatchType selects how an override pattern is compared with a description.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
)

// Valid reports whether t is a known match type.
func (t MatchType) Valid() bool {
	switch t {
	case MatchExact, MatchContains, MatchRegex:
		return true
	}
	return false
}

// CategoryOverride is an operator correction: descriptions matching
// MatchPattern get Category instead of whatever the patterns would say.
type CategoryOverride struct {
	ID            uuid.UUID  `json:"id"`
	MatchPattern  string     `json:"match_pattern"`
	MatchType     MatchType  `json:"match_type"`
	Category      string     `json:"category"`
	MatchCount    int        `json:"match_count"`
	LastMatchedAt *time.Time `json:"last_matched_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ErrOverrideNotFound is returned when deleting an unknown override.
var ErrOverrideNotFound = errors.New("category override not found")

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OverrideStore persists category overrides in PostgreSQL.
type OverrideStore struct {
	db DB
}

// NewOverrideStore creates a new override store
func NewOverrideStore(db DB) *OverrideStore {
	return &OverrideStore{db: db}
}

const overrideColumns = `id, match_pattern, match_type, category, match_count, last_matched_at, created_at, updated_at`

func scanOverride(row pgx.Row) (CategoryOverride, error) {
	var o CategoryOverride
	err := row.Scan(
		&o.ID, &o.MatchPattern, &o.MatchType, &o.Category,
		&o.MatchCount, &o.LastMatchedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

// SaveOverride creates an override or replaces the category of an existing
// one with the same pattern.
func (s *OverrideStore) SaveOverride(ctx context.Context, o CategoryOverride) (*CategoryOverride, error) {
	if !o.MatchType.Valid() {
		return nil, fmt.Errorf("invalid match type %q", o.MatchType)
	}
	query := `
		INSERT INTO category_overrides (match_pattern, match_type, category)
		VALUES ($1, $2, $3)
		ON CONFLICT (match_pattern) DO UPDATE SET
			match_type = EXCLUDED.match_type,
			category = EXCLUDED.category,
			updated_at = now()
		RETURNING ` + overrideColumns

	saved, err := scanOverride(s.db.QueryRow(ctx, query, o.MatchPattern, string(o.MatchType), o.Category))
	if err != nil {
		return nil, fmt.Errorf("failed to save category override: %w", err)
	}
	return &saved, nil
}

// ListOverrides returns every override, most used first.
func (s *OverrideStore) ListOverrides(ctx context.Context) ([]CategoryOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM category_overrides ORDER BY match_count DESC, updated_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list category overrides: %w", err)
	}
	defer rows.Close()

	var overrides []CategoryOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// RecordMatches bumps the match counter of the given overrides.
func (s *OverrideStore) RecordMatches(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE category_overrides
		SET match_count = match_count + 1, last_matched_at = now()
		WHERE id = ANY($1)
	`
	if _, err := s.db.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("failed to record override matches: %w", err)
	}
	return nil
}

// DeleteOverride removes an override.
func (s *OverrideStore) DeleteOverride(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.Exec(ctx, `DELETE FROM category_overrides WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete category override: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOverrideNotFound
	}
	return nil
}
