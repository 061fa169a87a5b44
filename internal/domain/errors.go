package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors switched on at the handler boundary.
var (
	ErrUnauthorized     = errors.New("no valid session")
	ErrForbidden        = errors.New("account mismatch")
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountDisabled  = errors.New("account disabled")
	ErrRequestNotFound  = errors.New("generation request not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrDuplicateEvent   = errors.New("billing event already processed")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrNegativeBalance  = errors.New("entry would drive balance negative")
	ErrBadTransition    = errors.New("invalid request status transition")
	ErrInconsistent     = errors.New("ledger state partially applied")
)

// InsufficientCreditsError carries the deficit so callers can surface
// an actionable purchase prompt instead of a generic failure.
type InsufficientCreditsError struct {
	Deficit int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: short by %d", e.Deficit)
}

// ProviderError wraps a document-generation provider failure.
// Transient errors (rate limit, timeout, 5xx) may be retried;
// fatal errors must not be.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation provider: %s (status %d)", e.Message, e.StatusCode)
	}
	return "generation provider: " + e.Message
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
