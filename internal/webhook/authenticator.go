// Package webhook verifies inbound ticket-admission events: HMAC
// signature, timestamp freshness, and replay detection, in that order of
// cheapness. Header parsing rejects before any cryptographic work.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"turnstile/pkg/platform/audit"
)

// Header names carried on every signed request.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"

	signaturePrefix = "sha256="
)

// RejectReason is the machine-readable error token returned to the sender.
type RejectReason string

const (
	ReasonMissingHeaders   RejectReason = "MISSING_HEADERS"
	ReasonInvalidSignature RejectReason = "INVALID_SIGNATURE"
	ReasonTimestampExpired RejectReason = "TIMESTAMP_EXPIRED"
	ReasonTimestampFuture  RejectReason = "TIMESTAMP_FUTURE"
	ReasonReplayDetected   RejectReason = "REPLAY_DETECTED"
)

// Rejection is a failed verification. Reason maps to the response body;
// the HTTP status is decided by the handler.
type Rejection struct {
	Reason RejectReason
}

func (r *Rejection) Error() string {
	return "webhook rejected: " + string(r.Reason)
}

// AsRejection unwraps a Rejection from err, if any.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	ok := errors.As(err, &rej)
	return rej, ok
}

// Authenticator verifies signature, freshness, and non-replay.
type Authenticator struct {
	secret    []byte
	freshness time.Duration
	skew      time.Duration
	retention time.Duration
	nonces    NonceStore
	logger    *slog.Logger
	metrics   *Metrics
	alerts    *AlertTracker
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) AuthOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithMetrics sets the webhook metrics collector.
func WithMetrics(m *Metrics) AuthOption {
	return func(a *Authenticator) {
		a.metrics = m
	}
}

// WithAlertTracker sets the rejection escalation tracker.
func WithAlertTracker(t *AlertTracker) AuthOption {
	return func(a *Authenticator) {
		a.alerts = t
	}
}

// NewAuthenticator creates an Authenticator. The replay retention must be
// at least the freshness window, otherwise a request could expire out of
// the nonce store while its timestamp is still acceptable.
func NewAuthenticator(secret string, freshness, skew, retention time.Duration, nonces NonceStore, opts ...AuthOption) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if nonces == nil {
		return nil, errors.New("nonce store is required")
	}
	if retention < freshness {
		return nil, fmt.Errorf("replay retention %s is shorter than the freshness window %s", retention, freshness)
	}

	a := &Authenticator{
		secret:    []byte(secret),
		freshness: freshness,
		skew:      skew,
		retention: retention,
		nonces:    nonces,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Verify checks one request. identity is the client identity used for
// security logging and alert escalation.
func (a *Authenticator) Verify(ctx context.Context, identity, sigHeader, tsHeader string, body []byte, now time.Time) error {
	sig, ts, err := parseHeaders(sigHeader, tsHeader)
	if err != nil {
		return a.reject(ctx, identity, ReasonMissingHeaders)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > a.freshness {
		return a.reject(ctx, identity, ReasonTimestampExpired)
	}
	if age < -a.skew {
		return a.reject(ctx, identity, ReasonTimestampFuture)
	}

	if !hmac.Equal(sig, a.expected(tsHeader, body)) {
		return a.reject(ctx, identity, ReasonInvalidSignature)
	}

	fresh, err := a.nonces.Remember(ctx, replayKey(sig, tsHeader, body), a.retention)
	if err != nil {
		return fmt.Errorf("replay check: %w", err)
	}
	if !fresh {
		return a.reject(ctx, identity, ReasonReplayDetected)
	}

	if a.metrics != nil {
		a.metrics.Accepted.Inc()
	}
	return nil
}

// Sign computes the signature header value for a body at a timestamp.
// Used by outbound senders and tests.
func (a *Authenticator) Sign(ts int64, body []byte) string {
	return signaturePrefix + hex.EncodeToString(a.expected(strconv.FormatInt(ts, 10), body))
}

func (a *Authenticator) expected(tsHeader string, body []byte) []byte {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(tsHeader))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

func (a *Authenticator) reject(ctx context.Context, identity string, reason RejectReason) error {
	audit.LogSecurity(ctx, a.logger, "webhook_rejected",
		"identity", identity, "reason", string(reason))
	if a.metrics != nil {
		a.metrics.Rejected.WithLabelValues(string(reason)).Inc()
	}
	if a.alerts != nil {
		a.alerts.Record(ctx, identity, reason)
	}
	return &Rejection{Reason: reason}
}

func parseHeaders(sigHeader, tsHeader string) (sig []byte, ts int64, err error) {
	if sigHeader == "" || tsHeader == "" {
		return nil, 0, errors.New("missing headers")
	}
	if !strings.HasPrefix(sigHeader, signaturePrefix) {
		return nil, 0, errors.New("malformed signature header")
	}
	sig, err = hex.DecodeString(strings.TrimPrefix(sigHeader, signaturePrefix))
	if err != nil || len(sig) != sha256.Size {
		return nil, 0, errors.New("malformed signature header")
	}
	ts, err = strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return nil, 0, errors.New("malformed timestamp header")
	}
	return sig, ts, nil
}

// replayKey derives the nonce-store key from signature, timestamp, and
// payload so distinct requests signed in the same second never collide.
func replayKey(sig []byte, tsHeader string, body []byte) string {
	h := sha256.New()
	h.Write(sig)
	h.Write([]byte("."))
	h.Write([]byte(tsHeader))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
