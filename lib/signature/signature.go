// Package signature is the boundary between torauth and the cryptography a
// signer app uses: random generation, hashing and NaCl style signatures.
package signature

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/sign"
)

const (
	// Size is the length of a detached signature.
	Size = sign.Overhead

	PublicKeySize = 32
	SecretKeySize = 64
)

var (
	ErrBadKeyLength = errors.New("signature: key has the wrong length")
	ErrBadSignature = errors.New("signature: signed message does not verify")
	ErrRandom       = errors.New("signature: can't read random bytes")
)

// Provider is everything the challenge engine needs from a crypto library.
// SignDetached is only used by signers, the verifier has to match its output.
type Provider interface {
	RandomBytes(n int) ([]byte, error)
	Hash(data []byte) ([]byte, error)
	SignOpen(signed, publicKey []byte) ([]byte, error)
	SignDetached(payload, secretKey []byte) ([]byte, error)
}

// NaCl implements Provider with SHA-256 and golang.org/x/crypto/nacl/sign,
// the scheme TON wallets use for nacl_sign / nacl_sign_open.
type NaCl struct {
	// Rand is the entropy source. crypto/rand is used when nil.
	Rand io.Reader
}

func (n NaCl) reader() io.Reader {
	if n.Rand != nil {
		return n.Rand
	}
	return rand.Reader
}

func (n NaCl) RandomBytes(size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(n.reader(), buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRandom, err)
	}
	return buf, nil
}

func (NaCl) Hash(data []byte) ([]byte, error) {
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// SignOpen verifies signed (signature followed by the payload) and returns the
// payload.
func (NaCl) SignOpen(signed, publicKey []byte) ([]byte, error) {
	if len(publicKey) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes", ErrBadKeyLength, len(publicKey))
	}

	var pk [PublicKeySize]byte
	copy(pk[:], publicKey)

	payload, ok := sign.Open(nil, signed, &pk)
	if !ok {
		return nil, ErrBadSignature
	}

	return payload, nil
}

// SignDetached returns only the signature part of sign.Sign.
func (NaCl) SignDetached(payload, secretKey []byte) ([]byte, error) {
	if len(secretKey) != SecretKeySize {
		return nil, fmt.Errorf("%w: secret key is %d bytes", ErrBadKeyLength, len(secretKey))
	}

	var sk [SecretKeySize]byte
	copy(sk[:], secretKey)

	signed := sign.Sign(nil, payload, &sk)
	return signed[:Size], nil
}

// GenerateKey creates a signer keypair from r, or crypto/rand when r is nil.
func GenerateKey(r io.Reader) (publicKey, secretKey []byte, err error) {
	if r == nil {
		r = rand.Reader
	}

	pk, sk, err := sign.GenerateKey(r)
	if err != nil {
		return nil, nil, fmt.Errorf("signature: can't generate key: %w", err)
	}

	return pk[:], sk[:], nil
}
