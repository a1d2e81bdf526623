package plugin

import "fmt"

// ResolutionKind classifies a ResolutionError.
type ResolutionKind int

const (
	NotFound ResolutionKind = iota + 1
	ContractMismatch
	VersionIncompatible
)

func (k ResolutionKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case ContractMismatch:
		return "contract mismatch"
	case VersionIncompatible:
		return "version incompatible"
	default:
		return "unknown"
	}
}

// ResolutionError is returned when an extraction identifier cannot be turned
// into a usable adapter.
type ResolutionError struct {
	Kind       ResolutionKind
	Identifier string
	Detail     string
	Err        error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("plugin %q: %s", e.Identifier, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Is matches a ResolutionError of the same kind.
func (e *ResolutionError) Is(target error) bool {
	t, ok := target.(*ResolutionError)
	return ok && t.Kind == e.Kind && t.Identifier == ""
}

var (
	ErrNotFound            = &ResolutionError{Kind: NotFound}
	ErrContractMismatch    = &ResolutionError{Kind: ContractMismatch}
	ErrVersionIncompatible = &ResolutionError{Kind: VersionIncompatible}
)

func resolutionError(kind ResolutionKind, id string, err error, format string, args ...any) *ResolutionError {
	return &ResolutionError{
		Kind:       kind,
		Identifier: id,
		Detail:     fmt.Sprintf(format, args...),
		Err:        err,
	}
}

// CheckExtension verifies that an adapter can parse documents of the given
// extension.
func CheckExtension(id string, a Adapter, ext string) error {
	if a.Family().Accepts(ext) {
		return nil
	}
	return resolutionError(ContractMismatch, id, nil,
		"adapter family %s cannot parse %s documents", a.Family(), ext)
}
