package changefeed

import (
	"encoding/json"
	"time"
)

// EventFieldChanged is the event type of an acknowledged field write.
const EventFieldChanged = "field.changed"

// FieldChanged is published once the remote has acknowledged a field write.
type FieldChanged struct {
	MutationID     string          `json:"mutation_id"`
	Owner          string          `json:"owner"`
	Kind           string          `json:"kind"`
	EntityID       string          `json:"entity_id"`
	Field          string          `json:"field"`
	Value          json.RawMessage `json:"value"`
	Lamport        int64           `json:"lamport"`
	DeviceID       string          `json:"device_id"`
	AcknowledgedAt time.Time       `json:"acknowledged_at"`
}

const fieldChangedSchema = `{
  "type": "object",
  "title": "FieldChanged",
  "properties": {
    "mutation_id": {"type": "string"},
    "owner": {"type": "string"},
    "kind": {"type": "string"},
    "entity_id": {"type": "string"},
    "field": {"type": "string"},
    "value": {},
    "lamport": {"type": "integer"},
    "device_id": {"type": "string"},
    "acknowledged_at": {"type": "string", "format": "date-time"}
  },
  "required": ["mutation_id", "owner", "kind", "entity_id", "field", "value", "lamport", "device_id", "acknowledged_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	EventFieldChanged: {Schema: fieldChangedSchema},
}
