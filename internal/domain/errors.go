package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already exists")
	ErrSessionBusy       = errors.New("session has a call in flight")
	ErrSessionFinished   = errors.New("session already has a report")
	ErrInvalidMode       = errors.New("invalid mode")
	ErrInvalidIntensity  = errors.New("invalid intensity")
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrMissingCredential = errors.New("no API key configured for provider")
	ErrNotFinishEligible = errors.New("session is not eligible for a report yet")
	ErrTurnPending       = errors.New("previous reply is still awaiting a response; retry it first")
	ErrNoPendingTurn     = errors.New("no pending reply to retry")
	ErrEmptyHistory      = errors.New("history has no prior exchange")
	ErrEmptyMessage      = errors.New("message text is empty")
	ErrMalformedReport   = errors.New("generator returned a malformed report")
	ErrEmptyResponse     = errors.New("generator returned no text")
)

// ProviderError wraps a failure reported by an external generator so that
// callers can tell quota exhaustion apart from fatal errors.
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Status     string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Status != "":
		return fmt.Sprintf("%s: status %d %s: %v", e.Provider, e.StatusCode, e.Status, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimited reports whether the provider signalled quota or rate exhaustion.
func (e *ProviderError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED"
}

// Unauthorized reports a rejected credential.
func (e *ProviderError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
