package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lagren/certwatch/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		if got["channel"] == "C-missing" {
			w.Write([]byte(`{"ok": false, "error": "channel_not_found"}`))
			return
		}

		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	n := NewNotifier("xoxb-token", "C123")
	n.Endpoint = srv.URL

	m := notify.Message{Subject: "Certificate Expiration Alert for https://example.com", Body: "expires soon"}

	require.NoError(t, n.Notify(context.Background(), m))
	assert.Equal(t, "C123", got["channel"])
	assert.Contains(t, got["text"], "Certificate Expiration Alert for https://example.com")

	n.ChannelID = "C-missing"
	assert.ErrorContains(t, n.Notify(context.Background(), m), "channel_not_found")
}
