package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"example.com/fitstate/internal/auth"
	"example.com/fitstate/internal/domain"
	"example.com/fitstate/internal/remote/httpremote"
	remotepg "example.com/fitstate/internal/remote/postgres"
	"example.com/fitstate/internal/syncq"
)

// DocumentStore is the remote document store of one owner.
type DocumentStore interface {
	syncq.Remote
	Document(ctx context.Context, kind, entityID string) (map[string]remotepg.Field, bool, error)
}

// DocumentStores returns the store scoped to owner.
type DocumentStores func(owner string) DocumentStore

func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	kind, entityID, ok := documentPath(r.URL)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "expected /v1/documents/{kind}/{id}")
		return
	}
	switch r.Method {
	case http.MethodPut:
		h.putDocument(w, r, kind, entityID)
	case http.MethodGet:
		h.getDocument(w, r, kind, entityID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func documentPath(u *url.URL) (string, string, bool) {
	path := u.EscapedPath()
	rest := strings.TrimPrefix(path, "/v1/documents/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	kind, err := url.PathUnescape(parts[0])
	if err != nil {
		return "", "", false
	}
	id, err := url.PathUnescape(parts[1])
	if err != nil {
		return "", "", false
	}
	return kind, id, true
}

func (h *Handler) putDocument(w http.ResponseWriter, r *http.Request, kind, entityID string) {
	claims, ok := requireScope(w, r, auth.ScopeSyncWrite)
	if !ok {
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Idempotency-Key header is required")
		return
	}

	var req httpremote.DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := validateDocument(kind, req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}
	if !claims.AllowsDevice(req.DeviceID) {
		writeError(w, http.StatusForbidden, "forbidden", "token is bound to device "+claims.DeviceID)
		return
	}

	err := h.documents(claims.Owner).Upsert(r.Context(), syncq.Delivery{
		IdempotencyKey: key,
		MutationID:     req.MutationID,
		Kind:           kind,
		EntityID:       entityID,
		Field:          req.Field,
		Value:          req.Value,
		Lamport:        req.Lamport,
		DeviceID:       req.DeviceID,
	})
	if err != nil {
		if syncq.IsPermanent(err) {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
			return
		}
		h.logger.Warn("document upsert failed", zap.String("owner", claims.Owner), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateDocument(kind string, req httpremote.DocumentRequest) error {
	fields := domain.Fields(kind)
	if len(fields) == 0 {
		return errors.New("unknown kind " + kind)
	}
	if !slices.Contains(fields, req.Field) {
		return errors.New("unknown field " + req.Field)
	}
	if strings.TrimSpace(req.MutationID) == "" || strings.TrimSpace(req.DeviceID) == "" {
		return errors.New("mutation_id and device_id are required")
	}
	if len(req.Value) == 0 || !json.Valid(req.Value) {
		return errors.New("value must be valid JSON")
	}
	return nil
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request, kind, entityID string) {
	claims, ok := requireScope(w, r, auth.ScopeSyncWrite, auth.ScopeStateRead)
	if !ok {
		return
	}
	doc, found, err := h.documents(claims.Owner).Document(r.Context(), kind, entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
