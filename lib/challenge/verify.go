package challenge

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/TecharoHQ/torauth/lib/signature"
)

// Result is the outcome of verifying one Attempt against its Record.
type Result struct {
	Valid  bool
	Attrs  Attrs // what the proof revealed, only set when Valid
	Reason error // why the proof was rejected, nil when Valid
}

func invalid(reason error) Result {
	return Result{Reason: reason}
}

// Verifier checks that a proof signs the digest of a challenge's random.
type Verifier struct {
	Provider signature.Provider
}

// Digest is what the signer signs: Hash(random ++ pin).
func (v Verifier) Digest(rec Record) ([]byte, error) {
	return v.Provider.Hash([]byte(rec.Random + rec.Pin))
}

// Verify never fails loudly. Malformed input and provider failures come back
// as an invalid Result with a reason wrapping ErrFailed.
func (v Verifier) Verify(rec Record, at Attempt) Result {
	attrs, err := resolveSigner(rec, at)
	if err != nil {
		return invalid(err)
	}

	publicKey, err := decodeHex(attrs.PublicKey)
	if err != nil {
		return invalid(fmt.Errorf("%w: public key: %w", ErrMalformedProof, err))
	}
	if len(publicKey) != signature.PublicKeySize {
		return invalid(fmt.Errorf("%w: public key is %d bytes, want %d", ErrMalformedProof, len(publicKey), signature.PublicKeySize))
	}

	sig, err := decodeBinary(at.Signature)
	if err != nil {
		return invalid(fmt.Errorf("%w: signature: %w", ErrMalformedProof, err))
	}
	if len(sig) < signature.Size {
		return invalid(fmt.Errorf("%w: signature is %d bytes, need at least %d", ErrMalformedProof, len(sig), signature.Size))
	}

	digest, err := v.Digest(rec)
	if err != nil {
		return invalid(fmt.Errorf("%w: hash: %w", ErrProvider, err))
	}

	signed := sig
	if len(sig) == signature.Size {
		signed = make([]byte, 0, len(sig)+len(digest))
		signed = append(signed, sig...)
		signed = append(signed, digest...)
	}

	payload, err := v.Provider.SignOpen(signed, publicKey)
	switch {
	case err == nil:
	case errors.Is(err, signature.ErrBadSignature):
		return invalid(fmt.Errorf("%w: %w", ErrSignatureMismatch, err))
	default:
		return invalid(fmt.Errorf("%w: sign open: %w", ErrProvider, err))
	}

	if subtle.ConstantTimeCompare(payload, digest) != 1 {
		return invalid(fmt.Errorf("%w: signed payload is not the challenge digest", ErrSignatureMismatch))
	}

	return Result{Valid: true, Attrs: attrs}
}

func resolveSigner(rec Record, at Attempt) (Attrs, error) {
	attrs := rec.Expected

	if at.PublicKey != "" {
		if attrs.PublicKey != "" && !strings.EqualFold(trimHex(attrs.PublicKey), trimHex(at.PublicKey)) {
			return Attrs{}, fmt.Errorf("%w: public key", ErrSignerMismatch)
		}
		attrs.PublicKey = at.PublicKey
	}

	if at.WalletAddress != "" {
		if attrs.WalletAddress != "" && attrs.WalletAddress != at.WalletAddress {
			return Attrs{}, fmt.Errorf("%w: wallet address", ErrSignerMismatch)
		}
		attrs.WalletAddress = at.WalletAddress
	}

	if attrs.PublicKey == "" {
		return Attrs{}, fmt.Errorf("%w: no public key to verify against", ErrMalformedProof)
	}

	return attrs, nil
}

func trimHex(s string) string {
	return strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(trimHex(s))
}

// decodeBinary accepts hex, which ledger messages use, and standard base64,
// which some signer apps post to the webhook.
func decodeBinary(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrMissingField
	}

	if data, err := decodeHex(s); err == nil {
		return data, nil
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: neither hex nor base64", ErrInvalidFormat)
	}

	return data, nil
}
