package changefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const registryContentType = "application/vnd.schemaregistry.v1+json"

// SchemaResolver returns the registry id for a subject's schema, registering it when needed.
type SchemaResolver interface {
	EnsureSchema(ctx context.Context, subject string, schema string) (int, error)
}

// FixedSchema resolves every subject to the same id, for deployments without a registry.
type FixedSchema int

// EnsureSchema implements SchemaResolver.
func (f FixedSchema) EnsureSchema(context.Context, string, string) (int, error) {
	return int(f), nil
}

// RegistryError is a non-success answer from the schema registry.
type RegistryError struct {
	Status  int
	Code    int    `json:"error_code"`
	Message string `json:"message"`
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("schema registry: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// NotFound reports whether the subject or the schema under it is unknown.
func (e *RegistryError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// SchemaRegistryClient resolves FieldChanged schema ids against a Confluent-compatible registry.
// Resolved ids are cached per subject and schema for the life of the process; concurrent
// resolutions of the same pair share one round trip.
type SchemaRegistryClient struct {
	baseURL    string
	httpClient *http.Client

	group singleflight.Group
	mu    sync.RWMutex
	ids   map[string]int
}

// NewSchemaRegistryClient constructs a client for the registry at baseURL.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		ids:        make(map[string]int),
	}
}

// EnsureSchema returns the id of schema under subject, registering it if the registry does not
// know it yet.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	key := subject + "\x00" + schema
	c.mu.RLock()
	id, ok := c.ids[key]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		id, err := c.lookup(ctx, subject, schema)
		var regErr *RegistryError
		if errors.As(err, &regErr) && regErr.NotFound() {
			id, err = c.register(ctx, subject, schema)
		}
		if err != nil {
			return 0, err
		}
		c.mu.Lock()
		c.ids[key] = id
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return 0, fmt.Errorf("ensure schema %s: %w", subject, err)
	}
	return v.(int), nil
}

// lookup asks whether schema is already registered under subject.
func (c *SchemaRegistryClient) lookup(ctx context.Context, subject, schema string) (int, error) {
	return c.post(ctx, "/subjects/"+url.PathEscape(subject), schema)
}

func (c *SchemaRegistryClient) register(ctx context.Context, subject, schema string) (int, error) {
	return c.post(ctx, "/subjects/"+url.PathEscape(subject)+"/versions", schema)
}

func (c *SchemaRegistryClient) post(ctx context.Context, path, schema string) (int, error) {
	body, err := json.Marshal(map[string]string{"schemaType": "JSON", "schema": schema})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", registryContentType)
	req.Header.Set("Accept", registryContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		regErr := &RegistryError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(regErr)
		return 0, regErr
	}
	var payload struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode registry response: %w", err)
	}
	return payload.ID, nil
}
