package persistence

import (
	"time"

	"github.com/lagren/certwatch/expiry"
)

// Watcher is the persisted state of one monitored endpoint.
type Watcher struct {
	URL        string `json:"url" gorm:"primaryKey"`
	Thresholds []int  `json:"thresholds" gorm:"serializer:json;type:text"`

	Expiration       *time.Time   `json:"expiration,omitempty"`
	Issuer           string       `json:"issuer,omitempty"`
	LastNotification string       `json:"lastNotification,omitempty"`
	Fired            []expiry.Key `json:"fired,omitempty" gorm:"serializer:json;type:text"`

	// Latest is the human readable outcome of the last check.
	Latest      string     `json:"latest,omitempty"`
	LastChecked *time.Time `json:"lastChecked,omitempty"`
}

type EmailSettings struct {
	SMTPServer   string `json:"smtpServer"`
	SMTPPort     int    `json:"smtpPort"`
	SMTPUser     string `json:"smtpUser"`
	SMTPPassword string `json:"smtpPassword"`
	FromEmail    string `json:"fromEmail"`
	ToEmail      string `json:"toEmail"`
}

func (s EmailSettings) Configured() bool {
	return s.SMTPServer != "" && s.FromEmail != "" && s.ToEmail != ""
}

type WatcherSet struct {
	EmailSettings EmailSettings `json:"emailSettings"`
	Watchers      []Watcher     `json:"watchers"`
}

// Clone returns a deep copy of s.
func (s *WatcherSet) Clone() *WatcherSet {
	c := &WatcherSet{
		EmailSettings: s.EmailSettings,
		Watchers:      make([]Watcher, len(s.Watchers)),
	}

	for i, w := range s.Watchers {
		c.Watchers[i] = w.clone()
	}

	return c
}

func (w Watcher) clone() Watcher {
	c := w
	c.Thresholds = append([]int(nil), w.Thresholds...)
	c.Fired = append([]expiry.Key(nil), w.Fired...)

	if w.Expiration != nil {
		t := *w.Expiration
		c.Expiration = &t
	}

	if w.LastChecked != nil {
		t := *w.LastChecked
		c.LastChecked = &t
	}

	return c
}
