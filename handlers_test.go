package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/lagren/certwatch/persistence"
	"github.com/lagren/certwatch/tls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signingKey = "8f742231b10e8888abcd99yyyzzz85a5"

func signedSlackRequest(t *testing.T, f *fixture, text string) *http.Request {
	t.Helper()

	body := url.Values{"channel_id": {"C123"}, "text": {text}}.Encode()
	timestamp := strconv.FormatInt(f.clk.Now().Unix(), 10)

	mac := hmac.New(sha256.New, []byte(signingKey))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)

	r := httptest.NewRequest(http.MethodPost, "/slack", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Slack-Request-Timestamp", timestamp)
	r.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))

	return r
}

func slackText(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "in_channel", resp["response_type"])

	return resp["text"]
}

func TestStatusHandler(t *testing.T) {
	f := newFixture(persistence.Watcher{URL: "https://example.com", Thresholds: []int{30}})
	f.checker.set.EmailSettings.SMTPPassword = "secret"
	f.fetcher.expires("https://example.com", now.AddDate(0, 0, 40))

	require.NoError(t, f.checker.RunCycle(context.Background()))

	w := httptest.NewRecorder()
	newRouter(f.checker, "", f.clk).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")

	var statuses []watcherStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "https://example.com", statuses[0].URL)
	assert.Equal(t, "Test CA", statuses[0].Issuer)
	require.NotNil(t, statuses[0].Expiration)
}

func TestRunHandler(t *testing.T) {
	f := newFixture(persistence.Watcher{URL: "https://example.com"})
	router := newRouter(f.checker, "", f.clk)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"scheduled": true}`, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.JSONEq(t, `{"scheduled": false}`, w.Body.String(), "triggers coalesce")
}

func TestMetricsHandler(t *testing.T) {
	f := newFixture(persistence.Watcher{URL: "https://example.com"})
	f.fetcher.expires("https://example.com", now.AddDate(0, 0, 40))
	require.NoError(t, f.checker.RunCycle(context.Background()))

	w := httptest.NewRecorder()
	newRouter(f.checker, "", f.clk).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `certwatch_certificate_expiration_timestamp_seconds{url="https://example.com"}`)
}

func TestSlackDispatch(t *testing.T) {
	f := newFixture(
		persistence.Watcher{URL: "https://example.com", Thresholds: []int{30}},
		persistence.Watcher{URL: "https://down.example.com", Thresholds: []int{30}},
	)
	f.fetcher.expires("https://example.com", now.AddDate(0, 0, 3))

	router := newRouter(f.checker, signingKey, f.clk)

	serve := func(text string) string {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, signedSlackRequest(t, f, text))

		return slackText(t, w)
	}

	t.Run("check", func(t *testing.T) {
		text := serve("check https://example.com")

		assert.Contains(t, text, "https://example.com's certificate is issued by Test CA and expires 3 days from now")
		assert.Equal(t, 0, f.store.count(), "check must not touch the watcher set")
	})

	t.Run("check_details", func(t *testing.T) {
		f.fetcher.set("https://details.example.com", &tls.Result{
			Authority: "https://details.example.com",
			NotAfter:  now.AddDate(0, 0, 3),
			NotBefore: now.AddDate(0, -3, 0),
			Issuer:    "Test CA",
			Subject:   "details.example.com",
			DNSNames:  []string{"details.example.com", "www.details.example.com"},
		}, nil)

		text := serve("check https://details.example.com")
		assert.Contains(t, text, "Subject: details.example.com")
		assert.Contains(t, text, "Names: details.example.com, www.details.example.com")
		assert.Contains(t, text, "Valid from: 2026-07-15T12:00:00Z")
	})

	t.Run("check_failure", func(t *testing.T) {
		assert.Contains(t, serve("check https://down.example.com"), "connection refused")
	})

	t.Run("check_missing_url", func(t *testing.T) {
		assert.Contains(t, serve("check"), "Missing url")
	})

	t.Run("status", func(t *testing.T) {
		require.NoError(t, f.checker.RunCycle(context.Background()))

		text := serve("status")
		assert.Contains(t, text, "https://example.com: expires 3 days from now")
		assert.Contains(t, text, "https://down.example.com: request to https://down.example.com failed: connection refused")
	})

	t.Run("run", func(t *testing.T) {
		assert.Equal(t, "Check cycle scheduled", serve("run"))
		assert.Equal(t, "A check cycle is already scheduled", serve("run"))
	})

	t.Run("help", func(t *testing.T) {
		assert.Equal(t, slackHelp, serve("frobnicate"))
		assert.Equal(t, slackHelp, serve(""))
	})

	t.Run("unsigned_is_rejected", func(t *testing.T) {
		r := signedSlackRequest(t, f, "run")
		r.Header.Set("X-Slack-Signature", "v0=deadbeef")

		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSlackRouteDisabledWithoutKey(t *testing.T) {
	f := newFixture(persistence.Watcher{URL: "https://example.com"})

	w := httptest.NewRecorder()
	newRouter(f.checker, "", f.clk).ServeHTTP(w, signedSlackRequest(t, f, "run"))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
