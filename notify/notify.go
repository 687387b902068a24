package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
)

// Message is one threshold notification for one certificate.
type Message struct {
	Authority     string
	Expiration    time.Time
	ThresholdDays int
	Subject       string
	Body          string
}

func NewMessage(authority string, expiration time.Time, days int, now time.Time) Message {
	var status string
	if now.Before(expiration) {
		status = fmt.Sprintf("is set to expire %s, on %s", humanize.RelTime(expiration, now, "ago", "from now"), expiration.UTC().Format(time.RFC1123))
	} else {
		status = fmt.Sprintf("expired %s, on %s", humanize.RelTime(expiration, now, "ago", "from now"), expiration.UTC().Format(time.RFC1123))
	}

	return Message{
		Authority:     authority,
		Expiration:    expiration,
		ThresholdDays: days,
		Subject:       fmt.Sprintf("Certificate Expiration Alert for %s", authority),
		Body: fmt.Sprintf("The certificate for %s %s.\n\nThis is a notification %d days before expiration.",
			authority, status, days),
	}
}

// Marker is the human readable record of a delivered notification.
func (m Message) Marker() string {
	return fmt.Sprintf("Notification sent %d days before expiration for %s", m.ThresholdDays, m.Authority)
}

// ParseMarker returns the threshold recorded by a Marker for authority.
func ParseMarker(marker, authority string) (int, bool) {
	var (
		days int
		got  string
	)

	n, err := fmt.Sscanf(marker, "Notification sent %d days before expiration for %s", &days, &got)
	if err != nil || n != 2 || got != authority || days <= 0 {
		return 0, false
	}

	return days, true
}

type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

type DeliveryFailedError struct {
	Channel string
	Err     error
}

func (e *DeliveryFailedError) Error() string {
	return fmt.Sprintf("could not deliver notification via %s: %s", e.Channel, e.Err)
}

func (e *DeliveryFailedError) Unwrap() error { return e.Err }

type channel struct {
	name     string
	notifier Notifier
}

// Fanout delivers every message to all registered channels.
type Fanout struct {
	channels []channel
}

func (f *Fanout) Add(name string, n Notifier) {
	f.channels = append(f.channels, channel{name: name, notifier: n})
}

func (f *Fanout) Len() int {
	return len(f.channels)
}

// Notify tries every channel; one failing channel does not prevent delivery
// through the others. The returned error aggregates every failure.
func (f *Fanout) Notify(ctx context.Context, m Message) error {
	var result *multierror.Error

	for _, c := range f.channels {
		if err := c.notifier.Notify(ctx, m); err != nil {
			result = multierror.Append(result, &DeliveryFailedError{Channel: c.name, Err: err})
		}
	}

	return result.ErrorOrNil()
}
