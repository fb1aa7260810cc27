package signature

import (
	"bytes"
	"errors"
	"testing"
)

func TestNaClRoundTrip(t *testing.T) {
	var p NaCl

	pk, sk, err := GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	digest, err := p.Hash([]byte("random-text"))
	if err != nil {
		t.Fatal(err)
	}

	sig, err := p.SignDetached(digest, sk)
	if err != nil {
		t.Fatal(err)
	}

	if len(sig) != Size {
		t.Fatalf("detached signature is %d bytes, want %d", len(sig), Size)
	}

	got, err := p.SignOpen(append(bytes.Clone(sig), digest...), pk)
	if err != nil {
		t.Fatalf("can't open a freshly signed payload: %v", err)
	}

	if !bytes.Equal(got, digest) {
		t.Errorf("opened payload %x, want %x", got, digest)
	}
}

func TestNaClSignOpenFailures(t *testing.T) {
	var p NaCl

	pk, sk, err := GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	otherPK, _, err := GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("payload")
	sig, err := p.SignDetached(payload, sk)
	if err != nil {
		t.Fatal(err)
	}
	signed := append(bytes.Clone(sig), payload...)

	flipped := bytes.Clone(signed)
	flipped[3] ^= 0x01

	for _, tt := range []struct {
		name   string
		signed []byte
		pk     []byte
		err    error
	}{
		{name: "wrong key", signed: signed, pk: otherPK, err: ErrBadSignature},
		{name: "flipped bit", signed: flipped, pk: pk, err: ErrBadSignature},
		{name: "truncated", signed: signed[:10], pk: pk, err: ErrBadSignature},
		{name: "short key", signed: signed, pk: pk[:31], err: ErrBadKeyLength},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.SignOpen(tt.signed, tt.pk); !errors.Is(err, tt.err) {
				t.Errorf("SignOpen error = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestNaClRandomBytes(t *testing.T) {
	p := NaCl{Rand: bytes.NewReader(bytes.Repeat([]byte{7}, 24))}

	got, err := p.RandomBytes(24)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{7}, 24)) {
		t.Errorf("RandomBytes did not read from the configured source: %x", got)
	}

	if _, err := p.RandomBytes(1); !errors.Is(err, ErrRandom) {
		t.Errorf("exhausted source should fail with ErrRandom, got %v", err)
	}
}
