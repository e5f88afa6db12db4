package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"turnstile/internal/gate"
	dErrors "turnstile/pkg/domain-errors"
	"turnstile/pkg/platform/httputil"
)

// Handler serves the gate endpoints.
type Handler struct {
	gate   *gate.Service
	logger *slog.Logger
}

// handleScan processes POST /gate/scans.
func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req gate.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	res, err := h.gate.Scan(ctx, req)
	if err != nil {
		if h.logger != nil && dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "scan failed", "credential", req.Credential, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if res.Queued {
		// The verdict is optimistic and awaits reconciliation.
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, res)
}

// handleLookup processes GET /tickets/{credential}.
func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	t, err := h.gate.Lookup(r.Context(), chi.URLParam(r, "credential"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

// handleQueueCounts processes GET /gate/queue.
func (h *Handler) handleQueueCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.gate.QueueCounts(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "queue store unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, counts)
}

// handleQueueRetry processes POST /gate/queue/retry.
func (h *Handler) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	requeued, err := h.gate.RetryFailed(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "queue store unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"requeued": requeued})
}
