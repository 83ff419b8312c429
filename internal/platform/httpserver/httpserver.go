package httpserver

import (
	"net/http"
	"time"
)

// New builds an http.Server with sane production timeouts. Kept in one place
// so cmd/server stays wiring-only.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
