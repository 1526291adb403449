// Package api exposes the local state, derived views and sync controls over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"example.com/fitstate/internal/auth"
	"example.com/fitstate/internal/domain"
	"example.com/fitstate/internal/persistence"
	"example.com/fitstate/internal/selector"
	"example.com/fitstate/internal/store"
	"example.com/fitstate/internal/syncq"
)

// Waker is notified when sync work becomes available out of band.
type Waker interface {
	Wake()
}

// Option configures optional behaviour for the Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithClock overrides the time source used for the default day of derived views.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// WithSync enables the sync endpoints.
func WithSync(queue *syncq.Queue, toggle *syncq.Toggle, waker Waker) Option {
	return func(h *Handler) {
		h.queue = queue
		h.toggle = toggle
		h.waker = waker
	}
}

// WithDocuments enables the remote document endpoint served in cloud mode.
func WithDocuments(docs DocumentStores) Option {
	return func(h *Handler) {
		h.documents = docs
	}
}

// Handler coordinates HTTP requests with the store.
type Handler struct {
	store     *store.Store
	selectors *selector.Selectors
	queue     *syncq.Queue
	toggle    *syncq.Toggle
	waker     Waker
	documents DocumentStores
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(st *store.Store, selectors *selector.Selectors, opts ...Option) *Handler {
	h := &Handler{
		store:     st,
		selectors: selectors,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/mutations", h.mutations)
	mux.HandleFunc("/v1/state", h.state)
	mux.HandleFunc("/v1/workouts", h.workouts)
	mux.HandleFunc("/v1/derived", h.derived)
	if h.queue != nil {
		mux.HandleFunc("/v1/sync/status", h.syncStatus)
		mux.HandleFunc("/v1/sync/abandoned", h.abandoned)
		mux.HandleFunc("/v1/sync/abandoned/", h.retryAbandoned)
		mux.HandleFunc("/v1/sync/connectivity", h.connectivity)
	}
	if h.documents != nil {
		mux.HandleFunc("/v1/documents/", h.document)
	}
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// MutationRequest is the payload for POST /v1/mutations.
type MutationRequest struct {
	ID       string          `json:"id,omitempty"`
	Op       domain.Op       `json:"op"`
	EntityID string          `json:"entity_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// MutationResponse describes a dispatched mutation.
type MutationResponse struct {
	MutationID string               `json:"mutation_id"`
	Lamport    int64                `json:"lamport"`
	Replay     bool                 `json:"idempotent_replay"`
	Changes    []domain.FieldChange `json:"changes"`
}

func (h *Handler) mutations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeStateWrite); !ok {
		return
	}

	var req MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.ID == "" {
		req.ID = r.Header.Get("Idempotency-Key")
	}
	if req.Op == domain.OpRemotePatch {
		writeError(w, http.StatusBadRequest, "validation_failed", "remote.patch is applied by the change feed only")
		return
	}

	res, err := h.store.Dispatch(r.Context(), domain.Mutation{
		ID:       req.ID,
		Op:       req.Op,
		EntityID: req.EntityID,
		Payload:  req.Payload,
	})
	if err != nil && !errors.Is(err, store.ErrSyncEnqueue) {
		h.writeDispatchError(w, err)
		return
	}
	if err != nil {
		h.logger.Error("mutation committed without sync", zap.String("mutation_id", res.MutationID), zap.Error(err))
	}

	changes := res.Changes
	if changes == nil {
		changes = []domain.FieldChange{}
	}
	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, MutationResponse{
		MutationID: res.MutationID,
		Lamport:    res.Lamport,
		Replay:     res.Duplicate,
		Changes:    changes,
	})
}

func (h *Handler) writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		h.logger.Error("dispatch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeStateRead, auth.ScopeStateWrite); !ok {
		return
	}

	raw, err := h.store.Read(r.URL.Query().Get("path"))
	if err != nil {
		if errors.Is(err, store.ErrPathNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

// ListWorkoutsResponse packages list results.
type ListWorkoutsResponse struct {
	Items      []domain.Workout `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func (h *Handler) workouts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeStateRead, auth.ScopeStateWrite); !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	items, next := domain.ListWorkouts(h.store.State(), cursor, limit)
	writeJSON(w, http.StatusOK, ListWorkoutsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) derived(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeStateRead, auth.ScopeStateWrite); !ok {
		return
	}

	day := strings.TrimSpace(r.URL.Query().Get("day"))
	if day == "" {
		day = domain.DayOf(h.now())
	}
	if _, err := domain.ParseDay(day); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "day must be YYYY-MM-DD")
		return
	}
	writeJSON(w, http.StatusOK, h.selectors.Compute(h.store.State(), day))
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
