// Package results journals the final outcome of every challenge so whoever
// holds its random can read it back, and mints pass tokens for the successful
// ones.
package results

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/TecharoHQ/torauth"
	"github.com/TecharoHQ/torauth/internal"
	"github.com/TecharoHQ/torauth/lib/challenge"
	"github.com/TecharoHQ/torauth/lib/store"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoKey        = errors.New("results: journal has no signing key")
	ErrInvalidToken = errors.New("results: invalid pass token")
)

// Outcome is the journaled verdict for one challenge.
type Outcome struct {
	Key           string    `json:"key"`
	OK            bool      `json:"ok"`
	PublicKey     string    `json:"publicKey,omitempty"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	ResolvedAt    time.Time `json:"resolvedAt"`
	Token         string    `json:"token,omitempty"` // pass token, only when OK
}

// entryKey addresses one issuance of key. Re-issuing a key gets a new random,
// so outcomes of replaced challenges never overwrite their successors, and
// only someone who saw the deep link can find the entry.
func entryKey(key, random string) string {
	return key + ":" + internal.SHA256sum(random)
}

// Journal writes outcomes into a store with a TTL.
type Journal struct {
	db   store.JSON[Outcome]
	priv ed25519.PrivateKey
	ttl  time.Duration
}

// New builds a journal on st. A nil priv disables pass tokens, and a ttl of
// zero means torauth.DefaultOutcomeTTL.
func New(st store.Interface, priv ed25519.PrivateKey, ttl time.Duration) *Journal {
	if ttl <= 0 {
		ttl = torauth.DefaultOutcomeTTL
	}

	return &Journal{
		db:   store.JSON[Outcome]{Underlying: st, Prefix: "outcome:"},
		priv: priv,
		ttl:  ttl,
	}
}

// Record journals the final verdict for rec.
func (j *Journal) Record(ctx context.Context, rec challenge.Record, ok bool, attrs challenge.Attrs) (Outcome, error) {
	now := time.Now()
	out := Outcome{
		Key:        rec.Key,
		OK:         ok,
		ResolvedAt: now,
	}
	if ok {
		out.PublicKey = attrs.PublicKey
		out.WalletAddress = attrs.WalletAddress

		if j.priv != nil {
			token, err := j.signToken(rec.Key, attrs, now)
			if err != nil {
				return Outcome{}, fmt.Errorf("results: can't sign pass token: %w", err)
			}
			out.Token = token
		}
	}

	if err := j.db.Set(ctx, entryKey(rec.Key, rec.Random), out, j.ttl); err != nil {
		return Outcome{}, fmt.Errorf("results: can't journal outcome: %w", err)
	}

	return out, nil
}

// Lookup returns the journaled outcome of the challenge issued for key with
// random. The error wraps store.ErrNotFound when there is none.
func (j *Journal) Lookup(ctx context.Context, key, random string) (Outcome, error) {
	if random == "" {
		return Outcome{}, fmt.Errorf("results: no random given: %w", store.ErrNotFound)
	}
	return j.db.Get(ctx, entryKey(key, random))
}

func (j *Journal) signToken(key string, attrs challenge.Attrs, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":       attrs.PublicKey,
		"challenge": key,
		"iat":       now.Unix(),
		"nbf":       now.Add(-1 * time.Minute).Unix(),
		"exp":       now.Add(j.ttl).Unix(),
	}
	if attrs.WalletAddress != "" {
		claims["wallet"] = attrs.WalletAddress
	}

	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(j.priv)
}

// VerifyToken checks a pass token minted by this journal and returns the
// attributes it proves.
func (j *Journal) VerifyToken(tokenString string) (challenge.Attrs, error) {
	if j.priv == nil {
		return challenge.Attrs{}, ErrNoKey
	}

	pub := j.priv.Public()
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (any, error) {
		return pub, nil
	}, jwt.WithExpirationRequired(), jwt.WithStrictDecoding(), jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil || !token.Valid {
		return challenge.Attrs{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return challenge.Attrs{}, fmt.Errorf("%w: wrong claims type", ErrInvalidToken)
	}

	sub, _ := claims["sub"].(string)
	wallet, _ := claims["wallet"].(string)
	if sub == "" {
		return challenge.Attrs{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	return challenge.Attrs{PublicKey: sub, WalletAddress: wallet}, nil
}
