package ledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/TecharoHQ/torauth/lib/challenge"
)

func TestDecodeSignedOTP(t *testing.T) {
	for _, tt := range []struct {
		name string
		msg  Message
		want challenge.Attempt
		err  error
	}{
		{
			name: "authentication reply",
			msg:  Message{ID: "m1", Source: "0:abc", Body: []byte(`{"signedOTP":"deadbeef"}`)},
			want: challenge.Attempt{Key: "0:abc", Signature: "deadbeef", WalletAddress: "0:abc", Source: SourceName},
		},
		{
			name: "other contract call",
			msg:  Message{ID: "m2", Source: "0:abc", Body: []byte(`{"deploy":true}`)},
			err:  ErrUnrelated,
		},
		{
			name: "not json",
			msg:  Message{ID: "m3", Source: "0:abc", Body: []byte{0xb5, 0xee, 0x9c, 0x72}},
			err:  ErrUnrelated,
		},
		{
			name: "no sender",
			msg:  Message{ID: "m4", Body: []byte(`{"signedOTP":"deadbeef"}`)},
			err:  ErrUnrelated,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSignedOTP(tt.msg)
			if !errors.Is(err, tt.err) {
				t.Fatalf("error = %v, want %v", err, tt.err)
			}
			if got != tt.want {
				t.Errorf("attempt = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("dst"); got != "0:root" {
			t.Errorf("dst = %q, want 0:root", got)
		}

		switch r.URL.Query().Get("after") {
		case "":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"messages":[{"id":"m1","src":"0:abc","body":"eyJzaWduZWRPVFAiOiJhYiJ9"}],"cursor":"c1"}`))
		case "c1":
			w.Write([]byte(`{"messages":[]}`))
		default:
			http.Error(w, "bad cursor", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	src := HTTPSource{URL: srv.URL + "/messages", Destination: "0:root", Client: srv.Client()}

	msgs, next, err := src.Fetch(t.Context(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || next != "c1" {
		t.Fatalf("got %d messages and cursor %q, want 1 and c1", len(msgs), next)
	}
	if string(msgs[0].Body) != `{"signedOTP":"ab"}` || msgs[0].Source != "0:abc" {
		t.Errorf("message = %+v", msgs[0])
	}

	msgs, next, err = src.Fetch(t.Context(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 || next != "c1" {
		t.Errorf("empty page: got %d messages and cursor %q, want 0 and c1", len(msgs), next)
	}

	if _, next, err := src.Fetch(t.Context(), "bogus"); !errors.Is(err, ErrUpstream) || next != "bogus" {
		t.Errorf("error page: got cursor %q and error %v, want bogus and ErrUpstream", next, err)
	}
}

type scriptedSource struct {
	lock    sync.Mutex
	cursors []string
	pages   []func() ([]Message, string, error)
}

func (s *scriptedSource) Fetch(_ context.Context, cursor string) ([]Message, string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.cursors = append(s.cursors, cursor)
	if len(s.pages) == 0 {
		return nil, cursor, nil
	}

	next := s.pages[0]
	s.pages = s.pages[1:]
	return next()
}

func TestPoller(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		src := &scriptedSource{
			pages: []func() ([]Message, string, error){
				func() ([]Message, string, error) {
					return nil, "", errors.New("indexer unavailable")
				},
				func() ([]Message, string, error) {
					return []Message{
						{ID: "m1", Source: "0:abc", Body: []byte(`{"signedOTP":"ab"}`)},
						{ID: "m2", Source: "0:def", Body: []byte(`{"transfer":1}`)},
						{ID: "m3", Source: "0:fed", Body: []byte(`{"signedOTP":"cd"}`)},
					}, "c1", nil
				},
			},
		}

		var (
			lock      sync.Mutex
			submitted []challenge.Attempt
		)
		submit := func(at challenge.Attempt) error {
			lock.Lock()
			defer lock.Unlock()
			submitted = append(submitted, at)
			if at.Key == "0:fed" {
				return errors.New("queue full")
			}
			return nil
		}

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error)
		p := &Poller{Source: src, Interval: time.Second}
		go func() { done <- p.Run(ctx, submit) }()

		time.Sleep(2500 * time.Millisecond)
		synctest.Wait()
		cancel()

		if err := <-done; err != nil {
			t.Errorf("Run returned %v after cancellation", err)
		}

		want := []string{"", "", "c1"}
		if len(src.cursors) != len(want) {
			t.Fatalf("fetched with cursors %v, want %v", src.cursors, want)
		}
		for i := range want {
			if src.cursors[i] != want[i] {
				t.Errorf("fetch %d used cursor %q, want %q", i, src.cursors[i], want[i])
			}
		}

		if len(submitted) != 2 {
			t.Fatalf("submitted %d proofs, want 2", len(submitted))
		}
		if submitted[0].Key != "0:abc" || submitted[0].Source != SourceName {
			t.Errorf("first proof = %+v", submitted[0])
		}
	})
}
