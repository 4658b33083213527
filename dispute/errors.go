package dispute

import (
	"errors"
	"fmt"
	"strings"

	"disputeflow/agreement"
)

var (
	ErrNotFound     = errors.New("dispute: not found")
	ErrForbidden    = errors.New("dispute: forbidden")
	ErrInvalidState = errors.New("dispute: invalid state")
	ErrConflict     = errors.New("dispute: conflict")
	ErrInvalidInput = errors.New("dispute: invalid input")
	// ErrStale is returned by Repository.Update when the stored revision moved
	// past the one the caller read.
	ErrStale = errors.New("dispute: stale revision")
)

// classifyLedgerError maps signature ledger failures onto the dispute
// taxonomy while keeping the ledger cause visible to errors.Is.
func classifyLedgerError(err error) error {
	switch {
	case errors.Is(err, agreement.ErrVersionConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, agreement.ErrNothingToSign), errors.Is(err, agreement.ErrAlreadySigned):
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	case errors.Is(err, agreement.ErrInvalidSignature):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	default:
		return err
	}
}

func stateError(action string, status Status) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, action, status)
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
