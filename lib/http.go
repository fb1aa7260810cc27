package lib

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/TecharoHQ/torauth"
	"github.com/TecharoHQ/torauth/internal"
	"github.com/TecharoHQ/torauth/lib/challenge"
	"github.com/TecharoHQ/torauth/lib/deeplink"
	"github.com/TecharoHQ/torauth/lib/localization"
	"github.com/TecharoHQ/torauth/lib/results"
	"github.com/TecharoHQ/torauth/lib/store"
	"github.com/TecharoHQ/torauth/lib/webhook"
)

const maxIssueBody = 16 << 10

// IssueRequest is the body of POST /api/challenge.
type IssueRequest struct {
	Key              string          `json:"key,omitempty"`
	PublicKey        string          `json:"publicKey,omitempty"`
	WalletAddress    string          `json:"walletAddress,omitempty"`
	Pin              string          `json:"pin,omitempty"`
	RetentionSeconds int             `json:"retentionSeconds,omitempty"`
	Context          json.RawMessage `json:"context,omitempty"` // handed to the result handler as is
}

type IssueResponse struct {
	Key       string    `json:"key"`
	DeepLink  string    `json:"deepLink"`
	QRCode    string    `json:"qrCode"` // base64 PNG
	ExpiresAt time.Time `json:"expiresAt"`
}

// StatusResponse is the body of GET /api/challenge/{key}.
type StatusResponse struct {
	Status  string           `json:"status"` // pending, passed or failed
	Outcome *results.Outcome `json:"outcome,omitempty"`
}

func (a *Authenticator) routes() http.Handler {
	mux := http.NewServeMux()

	prefix := strings.TrimSuffix(torauth.APIPrefix, "/")
	mux.HandleFunc("POST "+prefix+"/challenge", a.serveIssue)
	mux.HandleFunc("GET "+prefix+"/challenge/{key}", a.serveStatus)
	mux.Handle("POST "+prefix+"/webhook", webhook.Handler{Submit: a.OnInboundProof})

	return internal.XRealIP(mux)
}

func (a *Authenticator) serveIssue(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	localizer := localization.GetLocalizer(r)

	var req IssueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIssueBody)).Decode(&req); err != nil {
		lg.Debug("can't decode challenge request", "err", err)
		internal.WriteError(w, http.StatusBadRequest, localizer.T("invalid_request_body"))
		return
	}

	if req.RetentionSeconds < 0 {
		internal.WriteError(w, http.StatusBadRequest, localizer.T("negative_retention"))
		return
	}

	issued, err := a.StartChallenge(r.Context(), ChallengeRequest{
		Key:           req.Key,
		PublicKey:     req.PublicKey,
		WalletAddress: req.WalletAddress,
		Pin:           req.Pin,
		Context:       req.Context,
		Retention:     time.Duration(req.RetentionSeconds) * time.Second,
	})
	switch {
	case errors.Is(err, challenge.ErrInvalidFormat):
		internal.WriteError(w, http.StatusBadRequest, localizer.T("key_has_commas"))
		return
	case err != nil:
		lg.Error("can't issue challenge", "err", err)
		internal.WriteError(w, http.StatusInternalServerError, localizer.T("internal_error"))
		return
	}

	qr, err := issued.Payload.QRCodeBase64(deeplink.DefaultQRSize)
	if err != nil {
		lg.Error("can't render QR code", "err", err)
		internal.WriteError(w, http.StatusInternalServerError, localizer.T("internal_error"))
		return
	}

	internal.WriteJSON(w, http.StatusCreated, IssueResponse{
		Key:       issued.Key,
		DeepLink:  issued.Payload.String(),
		QRCode:    qr,
		ExpiresAt: issued.ExpiresAt,
	})
}

// serveStatus needs the challenge random in the query, so only the party that
// saw the deep link learns the outcome and its pass token. A cached challenge
// is pending even after failed proofs, because it can still be redeemed.
func (a *Authenticator) serveStatus(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	localizer := localization.GetLocalizer(r)
	key := r.PathValue("key")
	random := r.URL.Query().Get("random")

	if random == "" {
		internal.WriteError(w, http.StatusNotFound, localizer.T("no_such_challenge"))
		return
	}

	if rec, ok := a.Pending(key); ok && subtle.ConstantTimeCompare([]byte(rec.Random), []byte(random)) == 1 {
		internal.WriteJSON(w, http.StatusOK, StatusResponse{Status: "pending"})
		return
	}

	if a.journal != nil {
		out, err := a.journal.Lookup(r.Context(), key, random)
		switch {
		case err == nil:
			status := "failed"
			if out.OK {
				status = "passed"
			}
			internal.WriteJSON(w, http.StatusOK, StatusResponse{Status: status, Outcome: &out})
			return
		case !errors.Is(err, store.ErrNotFound):
			lg.Error("can't look up challenge outcome", "key", internal.Fingerprint(key), "err", err)
			internal.WriteError(w, http.StatusInternalServerError, localizer.T("internal_error"))
			return
		}
	}

	internal.WriteError(w, http.StatusNotFound, localizer.T("no_such_challenge"))
}
