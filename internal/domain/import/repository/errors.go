package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("not found")

// PersistenceKind classifies a PersistenceError.
type PersistenceKind int

const (
	ConstraintViolation PersistenceKind = iota + 1
	StoreUnavailable
)

func (k PersistenceKind) String() string {
	switch k {
	case ConstraintViolation:
		return "constraint violation"
	case StoreUnavailable:
		return "store unavailable"
	default:
		return "unknown"
	}
}

// PersistenceError reports a failed write or read against the ledger. The
// enclosing transaction has been rolled back when it is returned.
type PersistenceError struct {
	Kind PersistenceKind
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("persistence: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("persistence: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is matches another PersistenceError of the same kind.
func (e *PersistenceError) Is(target error) bool {
	t, ok := target.(*PersistenceError)
	return ok && t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

var (
	ErrConstraintViolation = &PersistenceError{Kind: ConstraintViolation}
	ErrStoreUnavailable    = &PersistenceError{Kind: StoreUnavailable}
)

// integrityViolationClass is the SQLSTATE class of unique, foreign key and
// check constraint failures.
const integrityViolationClass = "23"

// persistenceError maps a driver error onto the ledger taxonomy. Errors that
// are already classified pass through unchanged.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var perr *PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == integrityViolationClass {
		return &PersistenceError{Kind: ConstraintViolation, Op: op, Err: err}
	}
	return &PersistenceError{Kind: StoreUnavailable, Op: op, Err: err}
}
