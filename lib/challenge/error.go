package challenge

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrFailed            = errors.New("challenge: user failed challenge")
	ErrMissingField      = errors.New("challenge: missing field")
	ErrInvalidFormat     = errors.New("challenge: field has invalid format")
	ErrUnknown           = errors.New("challenge: no pending challenge for key")
	ErrExpired           = errors.New("challenge: challenge expired")
	ErrMalformedProof    = fmt.Errorf("%w: malformed proof", ErrFailed)
	ErrSignerMismatch    = fmt.Errorf("%w: proof was made by a different signer", ErrFailed)
	ErrSignatureMismatch = fmt.Errorf("%w: signature does not match challenge", ErrFailed)
	// ErrProvider marks a transient crypto or ledger failure. The challenge
	// stays redeemable.
	ErrProvider = fmt.Errorf("%w: crypto provider error", ErrFailed)
	// ErrFatal marks a broken authenticator instance.
	ErrFatal = errors.New("challenge: fatal error in confirmation loop")
)

func NewError(verb, publicReason string, privateReason error) *Error {
	return &Error{
		Verb:          verb,
		PublicReason:  publicReason,
		PrivateReason: privateReason,
		StatusCode:    http.StatusForbidden,
	}
}

// Error carries a reason that is safe to show to the user next to the real one.
type Error struct {
	PrivateReason error
	Verb          string
	PublicReason  string
	StatusCode    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("challenge: error when processing challenge: %s: %v", e.Verb, e.PrivateReason)
}

func (e *Error) Unwrap() error {
	return e.PrivateReason
}

// Reason maps a verification error to a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedProof):
		return "malformed"
	case errors.Is(err, ErrSignerMismatch):
		return "signer_mismatch"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, ErrProvider):
		return "provider"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUnknown):
		return "unknown"
	default:
		return "other"
	}
}
