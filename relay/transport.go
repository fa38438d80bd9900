// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
)

// ErrRateLimited is returned by HTTPTransport.Push when the server reports
// 429; the caller (the Session Engine's finalize step, via Client) is
// expected to treat this as recoverable and retry later rather than fail
// the whole session.
var ErrRateLimited = fmt.Errorf("relay: %w", bdp.ErrRateLimited)

// HTTPTransport is the production Transport, talking to a relayserver (or
// any server implementing the same three routes) over plain HTTP/JSON.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTransport returns a Transport pointed at baseURL (e.g.
// "https://relay.example.com").
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{BaseURL: strings.TrimRight(baseURL, "/"), Client: http.DefaultClient}
}

type pushBody struct {
	PairID       string `json:"pairId"`
	FromDeviceID string `json:"fromDeviceId"`
	Nonce        string `json:"nonce"`
	Ciphertext   string `json:"ciphertext"`
	AuthTag      string `json:"authTag"`
}

type pushReply struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (t *HTTPTransport) Push(env bdp.RelayEnvelope) (time.Time, error) {
	body := pushBody{
		PairID:       env.PairID.String(),
		FromDeviceID: env.FromDeviceID.String(),
		Nonce:        base64.StdEncoding.EncodeToString(env.Nonce[:]),
		Ciphertext:   base64.StdEncoding.EncodeToString(env.Ciphertext),
		AuthTag:      base64.StdEncoding.EncodeToString(env.AuthTag[:]),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "relay: encoding push body")
	}

	resp, err := t.Client.Post(t.BaseURL+"/bdp/relay/push", "application/json", strings.NewReader(string(raw)))
	if err != nil {
		return time.Time{}, errors.Wrap(err, "relay: push request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return time.Time{}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusCreated {
		return time.Time{}, errors.Newf("relay: push returned %d", resp.StatusCode)
	}

	var reply pushReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return time.Time{}, errors.Wrap(err, "relay: decoding push reply")
	}
	return reply.ExpiresAt, nil
}

type pullReply struct {
	Envelopes  []wireEnvelope `json:"envelopes"`
	ServerTime time.Time      `json:"serverTime"`
}

type wireEnvelope struct {
	ID           string    `json:"ID"`
	PairID       string    `json:"PairID"`
	FromDeviceID string    `json:"FromDeviceID"`
	Nonce        [12]byte  `json:"Nonce"`
	Ciphertext   []byte    `json:"Ciphertext"`
	AuthTag      [16]byte  `json:"AuthTag"`
	CreatedAt    time.Time `json:"CreatedAt"`
	ExpiresAt    time.Time `json:"ExpiresAt"`
}

func (t *HTTPTransport) Pull(pairID bdp.PairID, since time.Time) ([]bdp.RelayEnvelope, time.Time, error) {
	q := url.Values{}
	q.Set("pairId", pairID.String())
	if !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	}
	resp, err := t.Client.Get(fmt.Sprintf("%s/bdp/relay/pull?%s", t.BaseURL, q.Encode()))
	if err != nil {
		return nil, time.Time{}, errors.Wrap(err, "relay: pull request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, time.Time{}, errors.Newf("relay: pull returned %d", resp.StatusCode)
	}

	var reply pullReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, time.Time{}, errors.Wrap(err, "relay: decoding pull reply")
	}

	out := make([]bdp.RelayEnvelope, 0, len(reply.Envelopes))
	for _, w := range reply.Envelopes {
		env := bdp.RelayEnvelope{
			ID:         w.ID,
			Nonce:      w.Nonce,
			Ciphertext: w.Ciphertext,
			AuthTag:    w.AuthTag,
			CreatedAt:  w.CreatedAt,
			ExpiresAt:  w.ExpiresAt,
		}
		out = append(out, env)
	}
	return out, reply.ServerTime, nil
}

func (t *HTTPTransport) Clear(pairID bdp.PairID, upTo time.Time) (int, error) {
	q := url.Values{}
	q.Set("pairId", pairID.String())
	q.Set("upTo", strconv.FormatInt(upTo.UnixMilli(), 10))

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/bdp/relay/clear?%s", t.BaseURL, q.Encode()), nil)
	if err != nil {
		return 0, errors.Wrap(err, "relay: building clear request")
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "relay: clear request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Newf("relay: clear returned %d", resp.StatusCode)
	}

	var reply struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return 0, errors.Wrap(err, "relay: decoding clear reply")
	}
	return reply.Deleted, nil
}
