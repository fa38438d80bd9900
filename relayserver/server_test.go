// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package relayserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validPushBody() pushRequest {
	return pushRequest{
		PairID:       "pair-1",
		FromDeviceID: "device-1",
		Nonce:        base64.StdEncoding.EncodeToString(make([]byte, 12)),
		Ciphertext:   base64.StdEncoding.EncodeToString([]byte("ciphertext")),
		AuthTag:      base64.StdEncoding.EncodeToString(make([]byte, 16)),
	}
}

func doPush(t *testing.T, ts *httptest.Server, body pushRequest) *http.Response {
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/bdp/relay/push", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestPushThenPullRoundTrips(t *testing.T) {
	ts := httptest.NewServer(New().Mux())
	defer ts.Close()

	resp := doPush(t, ts, validPushBody())
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created pushResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	pullResp, err := http.Get(ts.URL + "/bdp/relay/pull?pairId=pair-1")
	require.NoError(t, err)
	defer pullResp.Body.Close()
	require.Equal(t, http.StatusOK, pullResp.StatusCode)

	var pulled pullResponse
	require.NoError(t, json.NewDecoder(pullResp.Body).Decode(&pulled))
	require.Len(t, pulled.Envelopes, 1)
	require.Equal(t, created.ID, pulled.Envelopes[0].ID)
}

func TestPushRejectsOversizeCiphertext(t *testing.T) {
	ts := httptest.NewServer(New().Mux())
	defer ts.Close()

	body := validPushBody()
	body.Ciphertext = base64.StdEncoding.EncodeToString(make([]byte, MaxEnvelopeBytes+1))

	resp := doPush(t, ts, body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestPushRejectsMalformedNonceLength(t *testing.T) {
	ts := httptest.NewServer(New().Mux())
	defer ts.Close()

	body := validPushBody()
	body.Nonce = base64.StdEncoding.EncodeToString(make([]byte, 4))

	resp := doPush(t, ts, body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPushEnforcesHourlyRateLimit(t *testing.T) {
	srv := New()
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	var last *http.Response
	for i := 0; i < MaxPushesPerHour+1; i++ {
		body := validPushBody()
		body.Ciphertext = base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("msg-%d", i)))
		last = doPush(t, ts, body)
		if i < MaxPushesPerHour {
			require.Equal(t, http.StatusCreated, last.StatusCode)
		}
		last.Body.Close()
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)
}

func TestPushEvictsOldestEnvelopePastCap(t *testing.T) {
	srv := New()
	// Space requests a minute apart so the hourly push limit never trips
	// before the envelope cap does.
	clock := time.Now()
	srv.nowFunc = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	var firstID string
	for i := 0; i < MaxEnvelopesPerPair+1; i++ {
		body := validPushBody()
		body.Ciphertext = base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("msg-%d", i)))
		resp := doPush(t, ts, body)
		var created pushResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
		resp.Body.Close()
		if i == 0 {
			firstID = created.ID
		}
	}

	pullResp, err := http.Get(ts.URL + "/bdp/relay/pull?pairId=pair-1")
	require.NoError(t, err)
	defer pullResp.Body.Close()
	var pulled pullResponse
	require.NoError(t, json.NewDecoder(pullResp.Body).Decode(&pulled))
	require.Len(t, pulled.Envelopes, MaxEnvelopesPerPair)
	for _, env := range pulled.Envelopes {
		require.NotEqual(t, firstID, env.ID)
	}
}

func TestClearDeletesEnvelopesUpToCutoff(t *testing.T) {
	ts := httptest.NewServer(New().Mux())
	defer ts.Close()

	resp := doPush(t, ts, validPushBody())
	var created pushResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+fmt.Sprintf("/bdp/relay/clear?pairId=pair-1&upTo=%d", created.ExpiresAt.UnixMilli()), nil)
	require.NoError(t, err)
	clearResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer clearResp.Body.Close()
	require.Equal(t, http.StatusOK, clearResp.StatusCode)

	var cleared clearResponse
	require.NoError(t, json.NewDecoder(clearResp.Body).Decode(&cleared))
	require.Equal(t, 1, cleared.Deleted)
}
