package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/lagren/certwatch/expiry"
	"github.com/lagren/certwatch/metrics"
	"github.com/lagren/certwatch/notify"
	"github.com/lagren/certwatch/persistence"
	"github.com/lagren/certwatch/tls"
	"github.com/sirupsen/logrus"
)

type fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*tls.Result, error)
}

type fetchResult struct {
	result *tls.Result
	err    error
}

// certWatcher owns the watcher set. Only the goroutine running Start (or
// RunCycle) mutates it; mu guards it against concurrent readers.
type certWatcher struct {
	store       persistence.Store
	fetcher     fetcher
	notifier    notify.Notifier
	clk         clock.Clock
	interval    time.Duration
	concurrency int

	mu  sync.Mutex
	set *persistence.WatcherSet

	trigger chan struct{}
}

func newCertWatcher(set *persistence.WatcherSet, store persistence.Store, f fetcher, n notify.Notifier, clk clock.Clock) *certWatcher {
	return &certWatcher{
		store:       store,
		fetcher:     f,
		notifier:    n,
		clk:         clk,
		interval:    12 * time.Hour,
		concurrency: 4,
		set:         set,
		trigger:     make(chan struct{}, 1),
	}
}

// Start runs a cycle immediately and then every interval until ctx is
// done. A cycle always completes before the next wait begins.
func (c *certWatcher) Start(ctx context.Context) error {
	for {
		if err := c.RunCycle(ctx); err != nil {
			logrus.Errorf("Check cycle failed: %s", err)
		}

		timer := c.clk.NewTimer(c.interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-c.trigger:
			timer.Stop()
			logrus.Infof("Check cycle triggered manually")
		}
	}
}

// RunNow asks Start to begin the next cycle without waiting for the
// interval. It returns false if a trigger is already pending.
func (c *certWatcher) RunNow() bool {
	select {
	case c.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunCycle checks every watcher, sends the notifications that became due and
// saves the whole set.
func (c *certWatcher) RunCycle(ctx context.Context) error {
	logrus.Infof("Initiate check cycle...")
	defer logrus.Infof("Check cycle finished")

	start := c.clk.Now()

	urls := c.urls()
	results := c.fetchAll(ctx, urls)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cycle interrupted, state not saved: %w", err)
	}

	pending := c.apply(c.clk.Now(), urls, results)

	c.deliver(ctx, pending)

	if err := c.store.Save(context.WithoutCancel(ctx), c.Snapshot()); err != nil {
		return fmt.Errorf("could not save watchers: %w", err)
	}

	metrics.LastSave.SetToCurrentTime()
	metrics.CycleDuration.Observe(c.clk.Now().Sub(start).Seconds())

	return nil
}

func (c *certWatcher) urls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	urls := make([]string, len(c.set.Watchers))
	for i, w := range c.set.Watchers {
		urls[i] = w.URL
	}

	return urls
}

// fetchAll fetches every url with at most c.concurrency requests in flight.
// results[i] belongs to urls[i].
func (c *certWatcher) fetchAll(ctx context.Context, urls []string) []fetchResult {
	results := make([]fetchResult, len(urls))
	work := make(chan int)

	workers := c.concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(urls) {
		workers = len(urls)
	}

	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := range work {
				logrus.Debugf("Checking %s...", urls[i])

				res, err := c.fetcher.Fetch(ctx, urls[i])
				results[i] = fetchResult{result: res, err: err}
			}
		}()
	}

	for i := range urls {
		work <- i
	}
	close(work)
	wg.Wait()

	return results
}

func (c *certWatcher) apply(now time.Time, urls []string, results []fetchResult) []notify.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []notify.Message

	for i := range c.set.Watchers {
		w := &c.set.Watchers[i]
		if i >= len(urls) || w.URL != urls[i] {
			continue
		}

		pending = append(pending, c.applyOne(now, w, results[i])...)
	}

	return pending
}

func (c *certWatcher) applyOne(now time.Time, w *persistence.Watcher, r fetchResult) []notify.Message {
	log := logrus.WithField("url", w.URL)

	checked := now
	w.LastChecked = &checked

	if r.err != nil {
		w.Latest = r.err.Error()
		metrics.CheckErrors.WithLabelValues(tls.Kind(r.err)).Inc()
		log.Warnf("Check failed: %s", w.Latest)

		return nil
	}

	expires := r.result.NotAfter.UTC()

	if w.Expiration == nil || !w.Expiration.Equal(expires) {
		if w.Expiration != nil {
			log.Infof("Certificate changed, expiration %s -> %s", w.Expiration.Format(time.RFC3339), expires.Format(time.RFC3339))
		}

		w.Fired = expiry.Rearm(w.Fired, expires)
		w.LastNotification = ""
	} else if len(w.Fired) == 0 {
		w.Fired = firedFromMarker(w, r.result.Authority, expires)
	}

	w.Expiration = &expires
	w.Issuer = r.result.Issuer
	w.Latest = fmt.Sprintf("Certificate expiration date for %s : %s", r.result.Authority, expires.Format(time.RFC3339))
	metrics.CertificateExpiration.WithLabelValues(w.URL).Set(float64(expires.Unix()))

	eval := expiry.Evaluate(now, expires, w.Thresholds, w.Fired)
	if eval.Expired {
		log.Warnf("%s, certificate has expired", w.Latest)
	} else {
		log.Infof("%s (%d days left)", w.Latest, eval.DaysLeft)
	}

	var pending []notify.Message
	for _, days := range eval.Due {
		m := notify.NewMessage(r.result.Authority, expires, days, now)

		// Recorded regardless of the delivery outcome; failed deliveries are not retried.
		w.Fired = append(w.Fired, expiry.Key{Days: days, Expiration: expires})
		w.LastNotification = m.Marker()
		log.Info(w.LastNotification)

		pending = append(pending, m)
	}

	return pending
}

// firedFromMarker rebuilds the fired keys of a watcher that only carries a
// lastNotification marker. Thresholds fire furthest out first, so every
// threshold at or above the recorded one has been sent.
func firedFromMarker(w *persistence.Watcher, authority string, expires time.Time) []expiry.Key {
	days, ok := notify.ParseMarker(w.LastNotification, authority)
	if !ok {
		return nil
	}

	var fired []expiry.Key
	for _, t := range w.Thresholds {
		if t >= days {
			fired = append(fired, expiry.Key{Days: t, Expiration: expires})
		}
	}

	return fired
}

func (c *certWatcher) deliver(ctx context.Context, pending []notify.Message) {
	for _, m := range pending {
		if c.notifier == nil {
			logrus.Infof("Would have sent %q if a notifier had been configured", m.Subject)
			continue
		}

		if err := c.notifier.Notify(ctx, m); err != nil {
			metrics.Notifications.WithLabelValues("failed").Inc()
			logrus.Errorf("Failed to send notification for %s: %s", m.Authority, err)

			continue
		}

		metrics.Notifications.WithLabelValues("sent").Inc()
	}
}

// Snapshot returns a deep copy of the current watcher set.
func (c *certWatcher) Snapshot() *persistence.WatcherSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.set.Clone()
}

// Check fetches rawURL once without touching the watcher set.
func (c *certWatcher) Check(ctx context.Context, rawURL string) (*tls.Result, error) {
	return c.fetcher.Fetch(ctx, rawURL)
}
