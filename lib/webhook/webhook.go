// Package webhook accepts proofs that signer apps post to the callback target
// from the deep link.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/TecharoHQ/torauth/internal"
	"github.com/TecharoHQ/torauth/lib/challenge"
	"github.com/TecharoHQ/torauth/lib/confirm"
	"github.com/TecharoHQ/torauth/lib/localization"
)

// SourceName labels proofs and metrics coming from the webhook.
const SourceName = "webhook"

// MaxBodySize caps a proof submission.
const MaxBodySize = 64 << 10

// Request is the body signer apps post.
type Request struct {
	Seq           string `json:"seq"`
	PublicKey     string `json:"public_key"`
	WalletAddress string `json:"wallet_address"`
	SignedMessage string `json:"signed_message"`
}

type Response struct {
	Status string `json:"status"`
}

// Handler hands every well formed submission to Submit, which is normally
// Authenticator.OnInboundProof. A 202 only means the proof was queued; the
// verdict goes to the result handler.
type Handler struct {
	Submit func(challenge.Attempt) error
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	localizer := localization.GetLocalizer(r)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		internal.WriteError(w, http.StatusMethodNotAllowed, localizer.T("method_not_allowed"))
		return
	}

	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err := dec.Decode(&req); err != nil {
		h.fail(w, lg, challenge.NewError("decode", localizer.T("invalid_request_body"), errors.Join(challenge.ErrInvalidFormat, err)), http.StatusBadRequest)
		return
	}

	// without a sequence token there is no challenge to report to
	if req.Seq == "" {
		h.fail(w, lg, challenge.NewError("decode", localizer.T("missing_seq"), fmt.Errorf("%w: seq", challenge.ErrMissingField)), http.StatusBadRequest)
		return
	}

	at := challenge.Attempt{
		Key:           req.Seq,
		Signature:     req.SignedMessage,
		PublicKey:     req.PublicKey,
		WalletAddress: req.WalletAddress,
		Source:        SourceName,
	}

	if err := h.Submit(at); err != nil {
		lg.Warn("can't queue webhook proof", "key", internal.Fingerprint(req.Seq), "err", err)

		switch {
		case errors.Is(err, confirm.ErrQueueFull), errors.Is(err, confirm.ErrStopped):
			w.Header().Set("Retry-After", "1")
			internal.WriteError(w, http.StatusServiceUnavailable, localizer.T("try_again_later"))
		default:
			internal.WriteError(w, http.StatusInternalServerError, localizer.T("internal_error"))
		}
		return
	}

	internal.WriteJSON(w, http.StatusAccepted, Response{Status: "accepted"})
}

// fail logs the private reason and shows the client the public one.
func (h Handler) fail(w http.ResponseWriter, lg *slog.Logger, err *challenge.Error, status int) {
	err.StatusCode = status
	lg.Debug("webhook proof rejected", "verb", err.Verb, "err", err)
	internal.WriteError(w, err.StatusCode, err.PublicReason)
}
