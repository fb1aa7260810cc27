package challenge

import "time"

// Attrs are the signer attributes a challenge expects or a proof reveals.
type Attrs struct {
	PublicKey     string `json:"publicKey,omitempty"`     // hex encoded ed25519 public key
	WalletAddress string `json:"walletAddress,omitempty"` // ledger address of the signer's wallet
}

// Record is the server side state of one outstanding challenge.
type Record struct {
	Key       string        // correlates the challenge with its proof
	Random    string        // text form of the secret random, as carried in the deep link
	Pin       string        // extra shared secret mixed into the digest, empty when unused
	Context   any           // caller data handed back verbatim in the result callback
	Expected  Attrs         // signer attributes the proof must match, if set
	CreatedAt time.Time     // set by Cache.Add
	Retention time.Duration // validity window starting at CreatedAt

	gen uint64
}

func (r Record) ExpiresAt() time.Time {
	return r.CreatedAt.Add(r.Retention)
}

// Expired reports whether the validity window is over at now. The window is
// half open: a record is already expired at exactly CreatedAt+Retention, so a
// zero retention expires on the first sweep.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt())
}

// Attempt is an inbound proof offered to redeem a challenge. It is never stored.
type Attempt struct {
	Key           string    // claimed challenge key
	Signature     string    // hex or base64; detached signature or signed blob
	PublicKey     string    // claimed signer public key, hex; falls back to Record.Expected
	WalletAddress string    // claimed wallet address, optional
	Source        string    // intake that delivered the attempt, for logs and metrics
	ReceivedAt    time.Time // when the intake saw it
}

// Handler receives every outcome: each failed proof while the challenge stays
// redeemable, and exactly one final outcome that removes it.
type Handler interface {
	OnAuthResult(ctx any, ok bool, attrs Attrs)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx any, ok bool, attrs Attrs)

func (f HandlerFunc) OnAuthResult(ctx any, ok bool, attrs Attrs) {
	f(ctx, ok, attrs)
}
