package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"example.com/fitstate/internal/auth"
	"example.com/fitstate/internal/syncq"
)

// SyncStatusResponse summarises the sync queue.
type SyncStatusResponse struct {
	Online        bool        `json:"online"`
	Stats         syncq.Stats `json:"stats"`
	NextAttemptAt *time.Time  `json:"next_attempt_at,omitempty"`
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeSyncAdmin, auth.ScopeStateRead); !ok {
		return
	}

	resp := SyncStatusResponse{Online: h.toggle.Online(), Stats: h.queue.Stats()}
	if next, ok := h.queue.NextAttempt(); ok && !next.IsZero() {
		resp.NextAttemptAt = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// AbandonedResponse lists entries that will not be retried automatically.
type AbandonedResponse struct {
	Items []syncq.Entry `json:"items"`
}

func (h *Handler) abandoned(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeSyncAdmin); !ok {
		return
	}
	writeJSON(w, http.StatusOK, AbandonedResponse{Items: h.queue.Abandoned()})
}

func (h *Handler) retryAbandoned(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sync/abandoned/")
	raw, ok := strings.CutSuffix(rest, "/retry")
	if !ok || raw == "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown path")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeSyncAdmin); !ok {
		return
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "entry id must be a sequence number")
		return
	}

	entry, err := h.queue.Retry(r.Context(), seq)
	if err != nil {
		if errors.Is(err, syncq.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	h.logger.Info("abandoned entry requeued", zap.Uint64("seq", seq), zap.Uint64("new_seq", entry.Seq))
	if h.waker != nil {
		h.waker.Wake()
	}
	writeJSON(w, http.StatusAccepted, entry)
}

// ConnectivityRequest is the payload for PUT /v1/sync/connectivity.
type ConnectivityRequest struct {
	Online *bool `json:"online"`
}

func (h *Handler) connectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeSyncAdmin); !ok {
		return
	}
	var req ConnectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"online\": bool}")
		return
	}
	h.toggle.Set(*req.Online)
	h.logger.Info("connectivity set", zap.Bool("online", *req.Online))
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.toggle.Online()})
}
