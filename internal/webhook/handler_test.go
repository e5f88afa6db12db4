package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnstile/internal/ticket/models"
	"turnstile/internal/ticket/store/memory"
	"turnstile/pkg/testutil"
)

func newHandlerFixture(t *testing.T) (*Handler, *memory.Store, *Authenticator) {
	t.Helper()
	auth := newAuthenticator(t)
	tickets := memory.New()
	return NewHandler(auth, tickets, nil, nil), tickets, auth
}

func signedRequest(auth *Authenticator, body string, signedAt, now time.Time) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/admissions", bytes.NewReader([]byte(body)))
	req.Header.Set(HeaderSignature, auth.Sign(signedAt.Unix(), []byte(body)))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(signedAt.Unix(), 10))
	req = testutil.WithRequestTime(req, now)
	return testutil.WithClientIdentity(req, "ticketing-platform")
}

func TestHandler_AppliesBatch(t *testing.T) {
	h, tickets, auth := newHandlerFixture(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	body := `{"events":[
		{"type":"ticket.issued","ticket":{"credential":"c1","current_status":"outside","admission_status":"issued"}},
		{"type":"ticket.revoked","ticket":{"credential":"c2","current_status":"outside","admission_status":"issued"}}
	]}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(auth, body, now, now))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"applied":2`)

	c1, err := tickets.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.AdmissionIssued, c1.AdmissionStatus)

	c2, err := tickets.Get(context.Background(), "c2")
	require.NoError(t, err)
	assert.Equal(t, models.AdmissionRevoked, c2.AdmissionStatus, "revoked event forces the status")
}

func TestHandler_RejectsBadSignature(t *testing.T) {
	h, tickets, _ := newHandlerFixture(t)
	now := time.Now()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/admissions", bytes.NewReader([]byte(`{"events":[]}`)))
	req.Header.Set(HeaderSignature, "sha256="+strings.Repeat("ab", 32))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_SIGNATURE")
	_, err := tickets.Get(context.Background(), "c1")
	assert.Error(t, err)
}

func TestHandler_MissingHeadersIs400(t *testing.T) {
	h, _, _ := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/admissions", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_HEADERS")
}

func TestHandler_ReplayIs409AndNeverReapplied(t *testing.T) {
	h, tickets, auth := newHandlerFixture(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	body := `{"events":[{"type":"ticket.issued","ticket":{"credential":"c1","current_status":"outside","admission_status":"issued"}}]}`

	first := httptest.NewRecorder()
	h.ServeHTTP(first, signedRequest(auth, body, now, now))
	require.Equal(t, http.StatusCreated, first.Code)

	// Make the replay observable: revoke c1, then replay the issue event.
	require.NoError(t, tickets.Put(context.Background(), models.Ticket{
		Credential: "c1", CurrentStatus: models.Outside, AdmissionStatus: models.AdmissionRevoked,
	}))

	second := httptest.NewRecorder()
	h.ServeHTTP(second, signedRequest(auth, body, now, now.Add(time.Minute)))
	require.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "REPLAY_DETECTED")

	c1, err := tickets.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.AdmissionRevoked, c1.AdmissionStatus, "replay must not re-issue the ticket")
}

func TestHandler_BatchIsAtomic(t *testing.T) {
	h, tickets, auth := newHandlerFixture(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	body := `{"events":[
		{"type":"ticket.issued","ticket":{"credential":"c1","current_status":"outside","admission_status":"issued"}},
		{"type":"ticket.issued","ticket":{"credential":"c2","current_status":"outside","entry_count":0,"exit_count":2,"admission_status":"issued"}}
	]}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(auth, body, now, now))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_EVENT")

	_, err := tickets.Get(context.Background(), "c1")
	assert.Error(t, err, "no event from a rejected batch may be applied")
}

func TestHandler_EmptyAndMalformedBodies(t *testing.T) {
	h, _, auth := newHandlerFixture(t)
	now := time.Now()

	for name, body := range map[string]string{
		"empty batch": `{"events":[]}`,
		"not json":    `]]`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, signedRequest(auth, body, now, now))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
