// Package httpserver configures the server gate devices and the ticketing
// platform talk to.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the HTTP server. Timeouts are short: scan requests must
// resolve quickly or the device falls back to its offline queue, and
// webhook batches are capped at 1 MB so slow writers gain nothing from
// holding a connection open.
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
