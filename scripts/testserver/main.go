// testserver is a webhook receiver for manual testing. It verifies the
// X-Webhook-Signature of every delivery against a configured secret and
// can simulate failures to exercise the retry machinery.
//
// Usage:
//
//	testserver -addr :9090 -secret <hex secret> -fail-rate 0.3
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"

	"github.com/sitestock/webhooks/internal/signature"
)

func main() {
	var (
		addr     = flag.String("addr", ":9090", "listen address")
		secret   = flag.String("secret", "", "subscription secret for signature verification")
		failRate = flag.Float64("fail-rate", 0, "fraction of requests answered with 500")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	http.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var envelope struct {
			ID        string          `json:"id"`
			EventType string          `json:"eventType"`
			Data      json.RawMessage `json:"data"`
			Attempt   int             `json:"attempt"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			logger.Warn("malformed envelope", "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if *secret != "" {
			sig := r.Header.Get("X-Webhook-Signature")
			if !signature.Verify(envelope.Data, sig, *secret) {
				logger.Warn("signature mismatch",
					"event_id", envelope.ID,
					"subscription_id", r.Header.Get("X-Webhook-ID"),
				)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		if *failRate > 0 && rand.Float64() < *failRate {
			logger.Info("simulating failure", "event_id", envelope.ID, "attempt", envelope.Attempt)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		logger.Info("delivery received",
			"event_id", envelope.ID,
			"event_type", envelope.EventType,
			"attempt", envelope.Attempt,
		)
		w.WriteHeader(http.StatusOK)
	})

	logger.Info("test server listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
