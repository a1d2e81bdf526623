package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var errDryRunRollback = errors.New("dry run rollback")

// DryRunLedger runs every account transaction of the wrapped ledger to the
// end and then rolls it back, so validation and writes are exercised against
// real data without persisting anything.
type DryRunLedger struct {
	Ledger
}

// NewDryRunLedger wraps l.
func NewDryRunLedger(l Ledger) *DryRunLedger {
	return &DryRunLedger{Ledger: l}
}

func (d *DryRunLedger) InAccountTx(ctx context.Context, accountID uuid.UUID, fn func(tx LedgerTx) error) error {
	err := d.Ledger.InAccountTx(ctx, accountID, func(tx LedgerTx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errDryRunRollback
	})
	if errors.Is(err, errDryRunRollback) {
		return nil
	}
	return err
}
