package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/classifier"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/validator"
)

// Stage is a state of the ingestion state machine.
type Stage string

const (
	StageSubmitted      Stage = "submitted"
	StageClassified     Stage = "classified"
	StagePluginResolved Stage = "plugin_resolved"
	StageParsed         Stage = "parsed"
	StageValidated      Stage = "validated"
	StageCommitted      Stage = "committed"
	StageRejected       Stage = "rejected"
)

// IngestError reports a rejected document. Stage is the state the document
// failed to reach; Err is the typed error of that stage.
type IngestError struct {
	Stage    Stage
	Filename string
	Err      error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %s: %v", e.Filename, e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// AccountReason classifies an AccountError.
type AccountReason int

const (
	AccountNotFound AccountReason = iota + 1
	AccountMissing
)

func (r AccountReason) String() string {
	switch r {
	case AccountNotFound:
		return "account not found"
	case AccountMissing:
		return "no account number in statement"
	default:
		return "unknown"
	}
}

// AccountError is returned when a statement cannot be tied to an account.
type AccountError struct {
	Reason AccountReason
	Number string
}

func (e *AccountError) Error() string {
	if e.Number == "" {
		return e.Reason.String()
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Number)
}

// Is matches another AccountError with the same reason.
func (e *AccountError) Is(target error) bool {
	t, ok := target.(*AccountError)
	return ok && t.Reason == e.Reason && t.Number == ""
}

var (
	ErrAccountNotFound = &AccountError{Reason: AccountNotFound}
	ErrAccountMissing  = &AccountError{Reason: AccountMissing}
)

// ErrorCode maps a pipeline error to a stable machine-readable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, classifier.ErrNoMatch):
		return "no_match"
	case errors.Is(err, classifier.ErrAmbiguous):
		return "ambiguous"
	case errors.Is(err, plugin.ErrNotFound):
		return "plugin_not_found"
	case errors.Is(err, plugin.ErrContractMismatch):
		return "contract_mismatch"
	case errors.Is(err, plugin.ErrVersionIncompatible):
		return "version_incompatible"
	case errors.Is(err, plugin.ErrStructureNotFound):
		return "structure_not_found"
	case errors.Is(err, plugin.ErrFieldUnparseable):
		return "field_unparseable"
	case errors.Is(err, validator.ErrReconciliation):
		return "reconciliation_failed"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrAccountMissing):
		return "account_missing"
	case errors.Is(err, repository.ErrConstraintViolation):
		return "constraint_violation"
	case errors.Is(err, repository.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
