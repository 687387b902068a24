package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/jmhodges/clock"
	"github.com/lagren/certwatch/persistence"
	"github.com/lagren/certwatch/slack"
	"github.com/lagren/certwatch/tls"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const slackHelp = "Usage: `check <url>` reads a certificate, `status` lists watched endpoints, `run` starts a check cycle"

func newRouter(checker *certWatcher, slackSigningKey string, clk clock.Clock) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/status", statusHandler(checker)).Methods(http.MethodGet)
	r.HandleFunc("/run", runHandler(checker)).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if slackSigningKey != "" {
		r.Handle("/slack", slack.AuthCheck(slackSigningKey, clk)(dispatchHandler(checker, clk))).Methods(http.MethodPost)
	}

	return r
}

type watcherStatus struct {
	URL              string     `json:"url"`
	Thresholds       []int      `json:"thresholds"`
	Expiration       *time.Time `json:"expiration,omitempty"`
	Issuer           string     `json:"issuer,omitempty"`
	LastNotification string     `json:"lastNotification,omitempty"`
	Latest           string     `json:"latest,omitempty"`
	LastChecked      *time.Time `json:"lastChecked,omitempty"`
}

func statusOf(set *persistence.WatcherSet) []watcherStatus {
	statuses := make([]watcherStatus, 0, len(set.Watchers))

	for _, w := range set.Watchers {
		statuses = append(statuses, watcherStatus{
			URL:              w.URL,
			Thresholds:       w.Thresholds,
			Expiration:       w.Expiration,
			Issuer:           w.Issuer,
			LastNotification: w.LastNotification,
			Latest:           w.Latest,
			LastChecked:      w.LastChecked,
		})
	}

	return statuses
}

func statusHandler(checker *certWatcher) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusOf(checker.Snapshot()))
	}
}

func runHandler(checker *certWatcher) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]bool{"scheduled": checker.RunNow()})
	}
}

func dispatchHandler(checker *certWatcher, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		tokens := strings.Fields(r.Form.Get("text"))
		if len(tokens) == 0 {
			sendSlackResponse(w, slackHelp)
			return
		}

		action := tokens[0]
		args := tokens[1:]

		switch action {
		case "check":
			if len(args) == 0 {
				sendSlackResponse(w, "Missing url. "+slackHelp)
				return
			}

			res, err := checker.Check(ctx, args[0])
			if err != nil {
				logrus.Warnf("Could not check %s: %s", args[0], err)
				sendSlackResponse(w, "Could not check "+args[0]+": "+err.Error())
				return
			}

			sendSlackResponse(w, describeCertificate(res, clk.Now()))
		case "status":
			var lines []string
			for _, s := range statusOf(checker.Snapshot()) {
				if s.Expiration == nil {
					lines = append(lines, fmt.Sprintf("%s: %s", s.URL, s.Latest))
					continue
				}

				lines = append(lines, fmt.Sprintf("%s: expires %s", s.URL, humanize.RelTime(*s.Expiration, clk.Now(), "ago", "from now")))
			}

			sendSlackResponse(w, strings.Join(lines, "\n"))
		case "run":
			if checker.RunNow() {
				sendSlackResponse(w, "Check cycle scheduled")
			} else {
				sendSlackResponse(w, "A check cycle is already scheduled")
			}
		default:
			sendSlackResponse(w, slackHelp)
		}
	}
}

func describeCertificate(res *tls.Result, now time.Time) string {
	lines := []string{fmt.Sprintf("%s's certificate is issued by %s and expires %s (%s)",
		res.Authority, res.Issuer, humanize.RelTime(res.NotAfter, now, "ago", "from now"), res.NotAfter.Format(time.RFC3339))}

	if res.Subject != "" {
		lines = append(lines, "Subject: "+res.Subject)
	}
	if len(res.DNSNames) > 0 {
		lines = append(lines, "Names: "+strings.Join(res.DNSNames, ", "))
	}
	if !res.NotBefore.IsZero() {
		lines = append(lines, "Valid from: "+res.NotBefore.Format(time.RFC3339))
	}

	return strings.Join(lines, "\n")
}

func sendSlackResponse(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{
		"response_type": "in_channel",
		"text":          message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Could not write response: %s", err)
	}
}
