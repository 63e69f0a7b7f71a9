package orchestrator

import (
	"context"

	"github.com/Iron-Ham/autopilot/internal/errors"
)

// Confirmer asks the operator whether a lease left in progress by an earlier
// run may be cleared. Only a true answer clears it.
type Confirmer interface {
	ConfirmStaleLease(ctx context.Context, warning *errors.StaleLeaseWarning) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, warning *errors.StaleLeaseWarning) (bool, error)

// ConfirmStaleLease calls f.
func (f ConfirmFunc) ConfirmStaleLease(ctx context.Context, warning *errors.StaleLeaseWarning) (bool, error) {
	return f(ctx, warning)
}

// AutoConfirm answers every prompt with answer. The CLI uses it for --yes
// and for non-interactive sessions.
func AutoConfirm(answer bool) Confirmer {
	return ConfirmFunc(func(context.Context, *errors.StaleLeaseWarning) (bool, error) {
		return answer, nil
	})
}
