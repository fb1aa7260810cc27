package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/TecharoHQ/torauth/internal"
	"github.com/TecharoHQ/torauth/lib/challenge"
	"github.com/TecharoHQ/torauth/lib/confirm"
)

func TestHandler(t *testing.T) {
	for _, tt := range []struct {
		name      string
		method    string
		body      string
		submitErr error
		status    int
		submitted bool
	}{
		{
			name:      "accepted",
			method:    http.MethodPost,
			body:      `{"seq":"s1","public_key":"ab","wallet_address":"0:w","signed_message":"cd"}`,
			status:    http.StatusAccepted,
			submitted: true,
		},
		{
			name:   "missing seq",
			method: http.MethodPost,
			body:   `{"public_key":"ab","signed_message":"cd"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "not json",
			method: http.MethodPost,
			body:   `seq=s1`,
			status: http.StatusBadRequest,
		},
		{
			name:   "body too large",
			method: http.MethodPost,
			body:   `{"seq":"s1","signed_message":"` + strings.Repeat("a", MaxBodySize) + `"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "wrong method",
			method: http.MethodGet,
			status: http.StatusMethodNotAllowed,
		},
		{
			name:      "queue full",
			method:    http.MethodPost,
			body:      `{"seq":"s1","signed_message":"cd"}`,
			submitErr: confirm.ErrQueueFull,
			status:    http.StatusServiceUnavailable,
			submitted: true,
		},
		{
			name:      "authenticator closed",
			method:    http.MethodPost,
			body:      `{"seq":"s1","signed_message":"cd"}`,
			submitErr: confirm.ErrStopped,
			status:    http.StatusServiceUnavailable,
			submitted: true,
		},
		{
			name:      "unexpected error",
			method:    http.MethodPost,
			body:      `{"seq":"s1","signed_message":"cd"}`,
			submitErr: errors.New("disk on fire"),
			status:    http.StatusInternalServerError,
			submitted: true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var got *challenge.Attempt
			h := Handler{Submit: func(at challenge.Attempt) error {
				got = &at
				return tt.submitErr
			}}

			req := httptest.NewRequest(tt.method, "/api/webhook", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body: %s)", rec.Code, tt.status, rec.Body.String())
			}
			if (got != nil) != tt.submitted {
				t.Fatalf("submitted = %v, want %v", got != nil, tt.submitted)
			}

			if tt.status >= 400 {
				var resp internal.ErrorResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error == "" {
					t.Errorf("error response without a reason: %v", err)
				}
			}
		})
	}
}

func TestHandlerMapsFields(t *testing.T) {
	var got challenge.Attempt
	h := Handler{Submit: func(at challenge.Attempt) error {
		got = at
		return nil
	}}

	body := `{"seq":"0195f3c1","public_key":"0xAB","wallet_address":"0:w","signed_message":"c2ln"}`
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(body)))

	want := challenge.Attempt{
		Key:           "0195f3c1",
		Signature:     "c2ln",
		PublicKey:     "0xAB",
		WalletAddress: "0:w",
		Source:        SourceName,
	}
	if got != want {
		t.Errorf("attempt = %+v, want %+v", got, want)
	}
}

func TestHandlerLocalizesErrors(t *testing.T) {
	h := Handler{Submit: func(challenge.Attempt) error { return nil }}

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{}`))
	req.Header.Set("Accept-Language", "de")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp internal.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "seq fehlt" {
		t.Errorf("error = %q, want the German message", resp.Error)
	}
}

func TestHandlerLogsPrivateReason(t *testing.T) {
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(internal.NewLogger(&buf, "DEBUG"))
	t.Cleanup(func() { slog.SetDefault(old) })

	h := Handler{Submit: func(challenge.Attempt) error { return nil }}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"public_key":"ab"}`)))

	logged := buf.String()
	for _, want := range []string{"webhook proof rejected", challenge.ErrMissingField.Error(), `"verb":"decode"`} {
		if !strings.Contains(logged, want) {
			t.Errorf("log line does not mention %q: %s", want, logged)
		}
	}
}
