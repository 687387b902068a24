package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notifierFunc func(ctx context.Context, m Message) error

func (f notifierFunc) Notify(ctx context.Context, m Message) error { return f(ctx, m) }

func TestNewMessage(t *testing.T) {
	now := time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)

	m := NewMessage("https://example.com", now.AddDate(0, 0, 10), 30, now)

	assert.Equal(t, "Certificate Expiration Alert for https://example.com", m.Subject)
	assert.Contains(t, m.Body, "is set to expire 1 week from now")
	assert.Contains(t, m.Body, "Sun, 25 Oct 2026 12:00:00 UTC")
	assert.Contains(t, m.Body, "notification 30 days before expiration")
	assert.Equal(t, "Notification sent 30 days before expiration for https://example.com", m.Marker())

	expired := NewMessage("https://example.com", now.Add(-48*time.Hour), 1, now)
	assert.Contains(t, expired.Body, "expired 2 days ago")
}

func TestParseMarker(t *testing.T) {
	m := NewMessage("https://example.com", time.Now(), 7, time.Now())

	days, ok := ParseMarker(m.Marker(), "https://example.com")
	assert.True(t, ok)
	assert.Equal(t, 7, days)

	_, ok = ParseMarker(m.Marker(), "https://other.example.com")
	assert.False(t, ok, "marker of another authority")

	_, ok = ParseMarker("Certificate expiration date for https://example.com", "https://example.com")
	assert.False(t, ok)

	_, ok = ParseMarker("", "https://example.com")
	assert.False(t, ok)
}

func TestFanout(t *testing.T) {
	ctx := context.Background()
	m := Message{Authority: "https://example.com", ThresholdDays: 7}

	t.Run("delivers_to_every_channel", func(t *testing.T) {
		var got []string

		var f Fanout
		f.Add("email", notifierFunc(func(ctx context.Context, m Message) error {
			got = append(got, "email")
			return errors.New("smtp down")
		}))
		f.Add("slack", notifierFunc(func(ctx context.Context, m Message) error {
			got = append(got, "slack")
			return nil
		}))

		err := f.Notify(ctx, m)
		require.Error(t, err)

		assert.Equal(t, []string{"email", "slack"}, got)

		var dfe *DeliveryFailedError
		require.ErrorAs(t, err, &dfe)
		assert.Equal(t, "email", dfe.Channel)
		assert.Contains(t, err.Error(), "smtp down")
	})

	t.Run("no_channels", func(t *testing.T) {
		var f Fanout

		assert.NoError(t, f.Notify(ctx, m))
		assert.Equal(t, 0, f.Len())
	})
}
