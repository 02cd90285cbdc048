package model

import "errors"

// Domain failures, shared by repository and service layers. The HTTP
// layer maps each to a status code and a stable kind string, so a
// client can always tell "pay more" (ErrInsufficientFunds) from
// "wrong state" (ErrInvalidTransition).
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyAssigned   = errors.New("request already assigned")
	ErrAlreadySettled    = errors.New("request already settled")
	ErrInvalidCode       = errors.New("completion code mismatch")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSettlementFailed  = errors.New("settlement failed")
	ErrNotAuthorized     = errors.New("actor not authorized")
)

// ErrorKind returns the stable machine-readable kind for a domain
// error, or "internal" for anything outside the taxonomy.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	// Checked before ErrInsufficientFunds: a failed deliver wraps both,
	// and the client-facing kind for the transition is settlement_failed.
	case errors.Is(err, ErrSettlementFailed):
		return "settlement_failed"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	default:
		return "internal"
	}
}
