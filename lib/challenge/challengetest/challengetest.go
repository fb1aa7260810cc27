// Package challengetest has helpers that play the signer app in tests.
package challengetest

import (
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	"github.com/TecharoHQ/torauth/lib/challenge"
	"github.com/TecharoHQ/torauth/lib/signature"
	"github.com/google/uuid"
)

// Signer is a wallet keypair that can answer challenges.
type Signer struct {
	PublicKey []byte
	SecretKey []byte
	Provider  signature.NaCl
}

func NewSigner(t *testing.T) *Signer {
	t.Helper()

	pk, sk, err := signature.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	return &Signer{PublicKey: pk, SecretKey: sk}
}

func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.PublicKey)
}

func (s *Signer) digest(t *testing.T, random, pin string) []byte {
	t.Helper()

	digest, err := s.Provider.Hash([]byte(random + pin))
	if err != nil {
		t.Fatal(err)
	}
	return digest
}

// Sign returns a hex encoded detached signature over Hash(random ++ pin), the
// way a wallet answers through the ledger.
func (s *Signer) Sign(t *testing.T, random, pin string) string {
	t.Helper()

	sig, err := s.Provider.SignDetached(s.digest(t, random, pin), s.SecretKey)
	if err != nil {
		t.Fatal(err)
	}
	return hex.EncodeToString(sig)
}

// SignEmbedded returns a base64 signed blob (signature followed by the digest),
// the way some signer apps post to the webhook.
func (s *Signer) SignEmbedded(t *testing.T, random, pin string) string {
	t.Helper()

	digest := s.digest(t, random, pin)
	sig, err := s.Provider.SignDetached(digest, s.SecretKey)
	if err != nil {
		t.Fatal(err)
	}
	signed := make([]byte, 0, len(sig)+len(digest))
	signed = append(signed, sig...)
	signed = append(signed, digest...)
	return base64.StdEncoding.EncodeToString(signed)
}

// Random returns a fresh challenge random in the text form StartChallenge uses.
func Random(t *testing.T) string {
	t.Helper()

	id := uuid.Must(uuid.NewV7())
	return base64.StdEncoding.EncodeToString(id[:])
}

// NewRecord makes a record for key that s is expected to sign.
func NewRecord(t *testing.T, key string, s *Signer, ctx any) challenge.Record {
	t.Helper()

	return challenge.Record{
		Key:       key,
		Random:    Random(t),
		Context:   ctx,
		Expected:  challenge.Attrs{PublicKey: s.PublicKeyHex()},
		Retention: time.Hour,
	}
}
