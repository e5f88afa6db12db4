package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"turnstile/internal/ticket/models"
	"turnstile/internal/ticket/store"
	"turnstile/pkg/platform/audit"
	"turnstile/pkg/platform/httputil"
	"turnstile/pkg/requestcontext"
)

// maxBodyBytes caps inbound webhook payloads.
const maxBodyBytes = 1 << 20

// EventType names a ticket-admission event.
type EventType string

const (
	EventTicketIssued  EventType = "ticket.issued"
	EventTicketUpdated EventType = "ticket.updated"
	EventTicketRevoked EventType = "ticket.revoked"
)

// Event is one ticket-admission change pushed by the ticketing platform.
type Event struct {
	Type   EventType     `json:"type"`
	Ticket models.Ticket `json:"ticket"`
}

type payload struct {
	Events []Event `json:"events"`
}

// Handler ingests signed admission events into the ticket store.
type Handler struct {
	auth    *Authenticator
	tickets store.Store
	logger  *slog.Logger
	metrics *Metrics
}

// NewHandler creates the webhook endpoint handler.
func NewHandler(auth *Authenticator, tickets store.Store, logger *slog.Logger, metrics *Metrics) *Handler {
	return &Handler{auth: auth, tickets: tickets, logger: logger, metrics: metrics}
}

// ServeHTTP handles POST /webhooks/admissions. The event batch is applied
// atomically: every event is validated before any is written, so a batch
// with one malformed event changes nothing.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "BODY_TOO_LARGE"})
		return
	}

	identity := requestcontext.ClientIdentity(ctx)
	err = h.auth.Verify(ctx, identity,
		r.Header.Get(HeaderSignature), r.Header.Get(HeaderTimestamp),
		body, requestcontext.Now(ctx))
	if err != nil {
		h.writeVerifyError(w, err)
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "MALFORMED_BODY"})
		return
	}
	if len(p.Events) == 0 {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "EMPTY_BATCH"})
		return
	}
	for i, ev := range p.Events {
		if err := validateEvent(ev); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error":  "INVALID_EVENT",
				"detail": fmt.Sprintf("event %d: %s", i, err),
			})
			return
		}
	}

	for _, ev := range p.Events {
		t := ev.Ticket
		if ev.Type == EventTicketRevoked {
			t.AdmissionStatus = models.AdmissionRevoked
		}
		if err := h.tickets.Put(ctx, t); err != nil {
			if h.logger != nil {
				h.logger.ErrorContext(ctx, "webhook event apply failed",
					"credential", t.Credential, "type", string(ev.Type), "error", err)
			}
			httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "STORE_UNAVAILABLE"})
			return
		}
		if h.metrics != nil {
			h.metrics.Events.Inc()
		}
	}

	audit.Log(ctx, h.logger, "webhook_batch_applied",
		"identity", identity, "events", len(p.Events))
	httputil.WriteJSON(w, http.StatusCreated, map[string]int{"applied": len(p.Events)})
}

func (h *Handler) writeVerifyError(w http.ResponseWriter, err error) {
	rej, ok := AsRejection(err)
	if !ok {
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "VERIFICATION_UNAVAILABLE"})
		return
	}

	status := http.StatusUnauthorized
	switch rej.Reason {
	case ReasonMissingHeaders:
		status = http.StatusBadRequest
	case ReasonReplayDetected:
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, map[string]string{"error": string(rej.Reason)})
}

func validateEvent(ev Event) error {
	switch ev.Type {
	case EventTicketIssued, EventTicketUpdated, EventTicketRevoked:
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	t := ev.Ticket
	if t.Credential == "" {
		return errors.New("missing credential")
	}
	if t.CurrentStatus == "" {
		return errors.New("missing current_status")
	}
	if t.CurrentStatus != models.Outside && t.CurrentStatus != models.Inside {
		return fmt.Errorf("invalid current_status %q", t.CurrentStatus)
	}
	if !t.AdmissionStatus.IsValid() {
		return fmt.Errorf("invalid admission_status %q", t.AdmissionStatus)
	}
	if !t.CheckInvariant() {
		return fmt.Errorf("counters violate entry/exit invariant: %d/%d", t.EntryCount, t.ExitCount)
	}
	return nil
}
