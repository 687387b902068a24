package slack

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jmhodges/clock"
	"github.com/sirupsen/logrus"
)

// MaxRequestAge bounds how old a signed request may be before it is treated
// as a replay.
const MaxRequestAge = 5 * time.Minute

func AuthCheck(signingKey string, clk clock.Clock) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timestamp := r.Header.Get("X-Slack-Request-Timestamp")

			if !fresh(timestamp, clk.Now()) {
				logrus.Warnf("Rejecting slack request with stale timestamp %q", timestamp)

				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				logrus.Errorf("Could not read request body: %s", err)

				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			expected := "v0=" + requestHmacHash(b, timestamp, signingKey)

			if !hmac.Equal([]byte(r.Header.Get("X-Slack-Signature")), []byte(expected)) {
				logrus.Warn("Invalid request signature")

				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(b)) // Body already consumed, must re-initialize

			next.ServeHTTP(w, r)
		})
	}
}

func fresh(timestamp string, now time.Time) bool {
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}

	age := now.Sub(time.Unix(sec, 0))
	if age < 0 {
		age = -age
	}

	return age <= MaxRequestAge
}

func requestHmacHash(payload []byte, timestamp string, signingKey string) string {
	hs := fmt.Sprintf("v0:%s:%s", timestamp, string(payload))

	hash := hmac.New(sha256.New, []byte(signingKey))
	hash.Write([]byte(hs))

	return hex.EncodeToString(hash.Sum(nil))
}
