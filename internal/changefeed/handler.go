package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"example.com/fitstate/internal/domain"
	"example.com/fitstate/internal/store"
)

// Dispatcher applies mutations to the local state.
type Dispatcher interface {
	Dispatch(ctx context.Context, m domain.Mutation) (store.Result, error)
}

// PatchHandler turns FieldChanged events from other devices of the same owner into remote.patch
// mutations.
type PatchHandler struct {
	store    Dispatcher
	deviceID string
	owner    string
	logger   *zap.Logger
}

// NewPatchHandler constructs a PatchHandler.
func NewPatchHandler(st Dispatcher, deviceID, owner string, logger *zap.Logger) *PatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatchHandler{store: st, deviceID: deviceID, owner: owner, logger: logger}
}

// Handle implements Handler. Malformed or invalid events are logged and dropped so they are
// committed; store failures are returned and the message is left uncommitted.
func (h *PatchHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != EventFieldChanged {
		skippedCounter.WithLabelValues("event_type").Inc()
		return nil
	}
	var event FieldChanged
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		h.logger.Warn("drop undecodable change", zap.Int64("offset", msg.Offset), zap.Error(err))
		skippedCounter.WithLabelValues("malformed").Inc()
		return nil
	}
	if event.Owner != h.owner {
		skippedCounter.WithLabelValues("owner").Inc()
		return nil
	}
	if event.DeviceID == h.deviceID {
		skippedCounter.WithLabelValues("own_device").Inc()
		return nil
	}

	m, err := PatchMutation(event)
	if err != nil {
		return err
	}
	res, err := h.store.Dispatch(ctx, m)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			h.logger.Warn("drop invalid remote change", zap.String("mutation_id", event.MutationID), zap.Error(err))
			skippedCounter.WithLabelValues("invalid").Inc()
			return nil
		}
		return fmt.Errorf("apply remote change: %w", err)
	}
	h.logger.Debug("remote change merged",
		zap.String("key", domain.FieldKey(event.Kind, event.EntityID, event.Field)),
		zap.Bool("duplicate", res.Duplicate), zap.Int("changed", len(res.Changes)))
	return nil
}

// PatchMutation builds the deterministic remote.patch for an event, so redelivery of the same
// event is recognised as a duplicate by the store.
func PatchMutation(event FieldChanged) (domain.Mutation, error) {
	m, err := domain.NewMutation(domain.OpRemotePatch, event.EntityID, domain.RemotePatch{
		Kind:     event.Kind,
		EntityID: event.EntityID,
		Fields: []domain.PatchField{{
			Field:    event.Field,
			Value:    event.Value,
			Lamport:  event.Lamport,
			DeviceID: event.DeviceID,
		}},
	})
	if err != nil {
		return domain.Mutation{}, err
	}
	m.ID = "feed:" + event.MutationID + "/" + domain.FieldKey(event.Kind, event.EntityID, event.Field)
	m.IssuedAt = event.AcknowledgedAt
	return m, nil
}
