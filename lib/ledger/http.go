package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/TecharoHQ/torauth"
)

const maxPageSize = 4 << 20

var ErrUpstream = errors.New("ledger: indexer returned an error")

// HTTPSource reads messages addressed to Destination from an indexer that
// answers GET <URL>?dst=<destination>&after=<cursor> with
//
//	{"messages": [{"id": "...", "src": "...", "body": "<base64>"}], "cursor": "..."}
type HTTPSource struct {
	URL         string
	Destination string
	Client      *http.Client
}

type page struct {
	Messages []struct {
		ID   string `json:"id"`
		Src  string `json:"src"`
		Body []byte `json:"body"`
	} `json:"messages"`
	Cursor string `json:"cursor"`
}

func (s HTTPSource) Fetch(ctx context.Context, cursor string) ([]Message, string, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, cursor, fmt.Errorf("ledger: can't parse indexer URL: %w", err)
	}

	q := u.Query()
	q.Set("dst", s.Destination)
	if cursor != "" {
		q.Set("after", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, cursor, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "torauth/"+torauth.Version)

	cli := s.Client
	if cli == nil {
		cli = http.DefaultClient
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, cursor, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, cursor, fmt.Errorf("%w: %s", ErrUpstream, resp.Status)
	}

	var p page
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageSize)).Decode(&p); err != nil {
		return nil, cursor, fmt.Errorf("ledger: can't decode indexer page: %w", err)
	}

	msgs := make([]Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		msgs = append(msgs, Message{ID: m.ID, Source: m.Src, Body: m.Body})
	}

	next := p.Cursor
	if next == "" {
		next = cursor
	}

	return msgs, next, nil
}
