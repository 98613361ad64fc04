package main

import (
	"net/http"

	"github.com/mcdev12/matchday/go/internal/companion"
	"github.com/mcdev12/matchday/go/internal/metrics"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// setupServer exposes health, status and metrics for local overlays and scrapers.
func setupServer(addr string, app *companion.App) *http.Server {
	mux := http.NewServeMux()

	// Overlays read status straight from the browser
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	mux.Handle("/status", companion.StatusHandler(app))
	mux.Handle("/metrics", metrics.Handler(app.Registry()))
	setupHealthCheck(mux)

	handler := c.Handler(mux)

	return &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
