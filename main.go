package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/jmhodges/clock"
	"github.com/lagren/certwatch/config"
	"github.com/lagren/certwatch/mail"
	"github.com/lagren/certwatch/notify"
	"github.com/lagren/certwatch/persistence"
	"github.com/lagren/certwatch/slack"
	"github.com/lagren/certwatch/tls"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Could not load configuration: %s", err)
	}
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fileStore := persistence.NewFileStore(cfg.ConfigPath)

	set, err := fileStore.Load(ctx)
	if err != nil {
		logrus.Fatalf("Could not load watchers: %s", err)
	}

	if err := set.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration in %s: %s", cfg.ConfigPath, err)
	}

	var store persistence.Store = fileStore

	if cfg.State == config.StateSQLite {
		sqlStore, err := persistence.OpenSQLStore(cfg.DBPath)
		if err != nil {
			logrus.Fatalf("Could not open state database: %s", err)
		}
		defer sqlStore.Close()

		state, err := sqlStore.Load(ctx)
		if err != nil {
			logrus.Fatalf("Could not load state: %s", err)
		}

		set = persistence.Merge(set, state.Watchers)
		store = sqlStore
	}

	clk := clock.New()

	fetcher := tls.NewFetcher(cfg.FetchTimeout)
	if cfg.FetchProxy {
		fetcher.Proxy = http.ProxyFromEnvironment
	}

	checker := newCertWatcher(set, store, fetcher, notifierFor(cfg, set.EmailSettings), clk)
	checker.interval = cfg.CheckInterval
	checker.concurrency = cfg.FetchConcurrency

	logrus.Infof("Watching %d endpoints every %s", len(set.Watchers), cfg.CheckInterval)

	var srv *http.Server
	if cfg.ListenAddr != "" {
		accessLog := logrus.StandardLogger().Writer()
		defer accessLog.Close()

		srv = &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handlers.LoggingHandler(accessLog, newRouter(checker, cfg.SlackSigningKey, clk)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if cfg.ListensPublicly() {
			logrus.Warnf("Listening on non-loopback address %s: /run and /status are unauthenticated", cfg.ListenAddr)
		}

		go func() {
			logrus.Infof("Listening on %s", cfg.ListenAddr)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("HTTP server failed: %s", err)
			}
		}()
	}

	if err := checker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Errorf("Watcher stopped: %s", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("Could not shut down HTTP server: %s", err)
		}
	}

	logrus.Infof("Stopped")
}

// notifierFor returns nil when no notification channel is configured.
func notifierFor(cfg *config.Config, email persistence.EmailSettings) notify.Notifier {
	var fanout notify.Fanout

	if cfg.SMTPPassword != "" {
		email.SMTPPassword = cfg.SMTPPassword
	}

	if email.Configured() {
		mailer, err := mail.New(email)
		if err != nil {
			logrus.Fatalf("Could not set up e-mail notifications: %s", err)
		}

		fanout.Add("email", mailer)
	}

	if cfg.SlackNotifications() {
		fanout.Add("slack", slack.NewNotifier(cfg.SlackMessageKey, cfg.SlackChannel))
	}

	if fanout.Len() == 0 {
		logrus.Warn("No notification channel configured, notifications will only be logged")
		return nil
	}

	return &fanout
}
