package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/lagren/certwatch/tls"
	"github.com/sirupsen/logrus"
)

var (
	ErrConfigMissing = errors.New("configuration file not found")
	ErrConfigEmpty   = errors.New("no watchers configured")
)

// Store loads and saves the complete watcher set. Save must be atomic: a
// failed or interrupted Save leaves the previously saved set intact.
type Store interface {
	Load(ctx context.Context) (*WatcherSet, error)
	Save(ctx context.Context, set *WatcherSet) error
}

// Validate normalises watcher URLs and drops non-positive thresholds. It
// fails on an empty set, an invalid URL or a URL configured twice.
func (s *WatcherSet) Validate() error {
	if s == nil || len(s.Watchers) == 0 {
		return ErrConfigEmpty
	}

	seen := make(map[string]bool, len(s.Watchers))

	for i := range s.Watchers {
		w := &s.Watchers[i]

		u, err := tls.Normalize(w.URL)
		if err != nil {
			return fmt.Errorf("watcher %d: invalid url: %w", i, err)
		}
		w.URL = u

		if seen[u] {
			return fmt.Errorf("watcher %d: %s is configured more than once", i, u)
		}
		seen[u] = true

		thresholds := w.Thresholds[:0:0]
		for _, d := range w.Thresholds {
			if d <= 0 {
				logrus.Warnf("Ignoring threshold %d for %s: thresholds must be positive", d, u)
				continue
			}
			thresholds = append(thresholds, d)
		}
		w.Thresholds = thresholds

		if len(w.Thresholds) == 0 {
			logrus.Warnf("%s has no notification thresholds and will never notify", u)
		}
	}

	return nil
}

// Merge combines configured definitions with previously stored state. The
// configuration decides which watchers exist and their thresholds; check
// results and de-duplication keys are carried over from state by URL.
func Merge(defs *WatcherSet, state []Watcher) *WatcherSet {
	byURL := make(map[string]Watcher, len(state))
	for _, w := range state {
		byURL[w.URL] = w
	}

	merged := defs.Clone()

	for i := range merged.Watchers {
		w := &merged.Watchers[i]

		prev, ok := byURL[w.URL]
		if !ok {
			continue
		}

		prev = prev.clone()
		w.Expiration = prev.Expiration
		w.Issuer = prev.Issuer
		w.LastNotification = prev.LastNotification
		w.Fired = prev.Fired
		w.Latest = prev.Latest
		w.LastChecked = prev.LastChecked
	}

	return merged
}
