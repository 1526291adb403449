package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fitstate/internal/auth"
	"example.com/fitstate/internal/domain"
	"example.com/fitstate/internal/remote/httpremote"
	remotepg "example.com/fitstate/internal/remote/postgres"
	"example.com/fitstate/internal/selector"
	"example.com/fitstate/internal/store"
	"example.com/fitstate/internal/syncq"
)

var now = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

type fixture struct {
	store  *store.Store
	queue  *syncq.Queue
	toggle *syncq.Toggle
	mux    *http.ServeMux
	docs   *memDocuments
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	queue := syncq.NewQueue()
	f := &fixture{
		store:  store.New("phone", store.WithSink(queue)),
		queue:  queue,
		toggle: syncq.NewToggle(false),
		mux:    http.NewServeMux(),
		docs:   &memDocuments{fields: map[string]map[string]remotepg.Field{}},
	}
	h := NewHandler(f.store, selector.New(),
		WithClock(func() time.Time { return now }),
		WithSync(queue, f.toggle, nil),
		WithDocuments(func(owner string) DocumentStore { return f.docs.forOwner(owner) }),
	)
	h.RegisterRoutes(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body any, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if scopes != nil {
		claims := &auth.Claims{Subject: "user-1", Owner: "user-1", Scopes: auth.NewScopes(scopes...), ExpiresAt: now.Add(time.Hour)}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func mutation(op domain.Op, id string, payload any) MutationRequest {
	m := domain.MustMutation(op, id, payload)
	return MutationRequest{Op: m.Op, EntityID: m.EntityID, Payload: m.Payload}
}

func TestPostMutation(t *testing.T) {
	f := newFixture(t)
	req := mutation(domain.OpWorkoutStart, "w1", domain.StartWorkout{StartedAt: now.Add(-time.Hour)})
	req.ID = "client-1"

	rr := f.do(t, http.MethodPost, "/v1/mutations", req, auth.ScopeStateWrite)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var resp MutationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "client-1", resp.MutationID)
	require.Equal(t, int64(1), resp.Lamport)
	require.NotEmpty(t, resp.Changes)
	require.NotEmpty(t, f.queue.Entries())

	rr = f.do(t, http.MethodPost, "/v1/mutations", req, auth.ScopeStateWrite)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Replay)
}

func TestPostMutationErrors(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/mutations", mutation(domain.OpAddXP, domain.SingletonID, domain.AddXP{Delta: 1}))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/mutations", mutation(domain.OpAddXP, domain.SingletonID, domain.AddXP{Delta: 1}), auth.ScopeStateRead)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/mutations", mutation(domain.OpAddXP, domain.SingletonID, domain.AddXP{Delta: -1}), auth.ScopeStateWrite)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), `"validation_failed"`)

	rr = f.do(t, http.MethodPost, "/v1/mutations", mutation(domain.OpWorkoutComplete, "missing", domain.CompleteWorkout{EndedAt: now}), auth.ScopeStateWrite)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/mutations", mutation(domain.OpRemotePatch, "self", domain.RemotePatch{Kind: "settings", EntityID: "self"}), auth.ScopeStateWrite)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/mutations", nil, auth.ScopeStateWrite)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	require.Empty(t, f.queue.Entries())
}

func TestGetStatePath(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/mutations", mutation(domain.OpSetXP, domain.SingletonID, domain.SetXP{Value: 700}), auth.ScopeStateWrite)

	rr := f.do(t, http.MethodGet, "/v1/state?path=gamification.total_xp", nil, auth.ScopeStateRead)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `700`, rr.Body.String())

	rr = f.do(t, http.MethodGet, "/v1/state?path=gamification.nope", nil, auth.ScopeStateRead)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/state", nil, auth.ScopeStateRead)
	require.Equal(t, http.StatusOK, rr.Code)
	var st domain.State
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	require.Equal(t, int64(700), st.Gamification.TotalXP)
}

func TestListWorkoutsPaginates(t *testing.T) {
	f := newFixture(t)
	for i, id := range []string{"a", "b", "c"} {
		rr := f.do(t, http.MethodPost, "/v1/mutations",
			mutation(domain.OpWorkoutStart, id, domain.StartWorkout{StartedAt: now.Add(time.Duration(-i) * time.Hour)}), auth.ScopeStateWrite)
		require.Equal(t, http.StatusAccepted, rr.Code)
	}

	rr := f.do(t, http.MethodGet, "/v1/workouts?limit=2", nil, auth.ScopeStateRead)
	require.Equal(t, http.StatusOK, rr.Code)
	var page ListWorkoutsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.Equal(t, "a", page.Items[0].ID)
	require.NotEmpty(t, page.NextCursor)

	rr = f.do(t, http.MethodGet, "/v1/workouts?limit=2&cursor="+page.NextCursor, nil, auth.ScopeStateRead)
	page = ListWorkoutsResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	require.Equal(t, "c", page.Items[0].ID)
	require.Empty(t, page.NextCursor)

	rr = f.do(t, http.MethodGet, "/v1/workouts?cursor=%%%", nil, auth.ScopeStateRead)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDerivedDefaultsToToday(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/mutations", mutation(domain.OpSetXP, domain.SingletonID, domain.SetXP{Value: 1600}), auth.ScopeStateWrite)

	rr := f.do(t, http.MethodGet, "/v1/derived", nil, auth.ScopeStateRead)
	require.Equal(t, http.StatusOK, rr.Code)
	var set selector.Set
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &set))
	require.Equal(t, "2026-03-02", set.Day)
	require.Equal(t, "Silver", set.Rank.Name)
	require.NotNil(t, set.WorkoutsForDate)

	rr = f.do(t, http.MethodGet, "/v1/derived?day=yesterday", nil, auth.ScopeStateRead)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSyncEndpoints(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/mutations", mutation(domain.OpSetXP, domain.SingletonID, domain.SetXP{Value: 10}), auth.ScopeStateWrite)

	rr := f.do(t, http.MethodGet, "/v1/sync/status", nil, auth.ScopeSyncAdmin)
	require.Equal(t, http.StatusOK, rr.Code)
	var status SyncStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.False(t, status.Online)
	require.Equal(t, 1, status.Stats.Pending)

	online := true
	rr = f.do(t, http.MethodPut, "/v1/sync/connectivity", ConnectivityRequest{Online: &online}, auth.ScopeSyncAdmin)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, f.toggle.Online())

	rr = f.do(t, http.MethodPut, "/v1/sync/connectivity", map[string]string{}, auth.ScopeSyncAdmin)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	ctx := context.Background()
	entry, ok, err := f.queue.Begin(ctx, now)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.queue.Abandon(ctx, entry.Seq, syncq.Permanent(context.Canceled))
	require.NoError(t, err)

	rr = f.do(t, http.MethodGet, "/v1/sync/abandoned", nil, auth.ScopeSyncAdmin)
	require.Equal(t, http.StatusOK, rr.Code)
	var abandoned AbandonedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &abandoned))
	require.Len(t, abandoned.Items, 1)

	rr = f.do(t, http.MethodPost, "/v1/sync/abandoned/999/retry", nil, auth.ScopeSyncAdmin)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/sync/abandoned/"+strconv.FormatUint(entry.Seq, 10)+"/retry", nil, auth.ScopeSyncAdmin)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Empty(t, f.queue.Abandoned())
	require.Len(t, f.queue.Entries(), 1)

	rr = f.do(t, http.MethodGet, "/v1/sync/abandoned", nil, auth.ScopeStateRead)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

// memDocuments is an in-memory DocumentStore with the same dedupe and LWW rules as Postgres.
type memDocuments struct {
	mu     sync.Mutex
	seen   map[string]bool
	fields map[string]map[string]remotepg.Field
	owner  string
	root   *memDocuments
}

func (m *memDocuments) forOwner(owner string) DocumentStore {
	return &memDocuments{owner: owner, root: m}
}

func (m *memDocuments) Upsert(_ context.Context, d syncq.Delivery) error {
	root := m.root
	root.mu.Lock()
	defer root.mu.Unlock()
	if root.seen == nil {
		root.seen = map[string]bool{}
	}
	if root.seen[m.owner+"|"+d.IdempotencyKey] {
		return nil
	}
	root.seen[m.owner+"|"+d.IdempotencyKey] = true
	docKey := m.owner + "|" + d.Kind + "/" + d.EntityID
	doc := root.fields[docKey]
	if doc == nil {
		doc = map[string]remotepg.Field{}
		root.fields[docKey] = doc
	}
	current, ok := doc[d.Field]
	incoming := domain.FieldStamp{Lamport: d.Lamport, DeviceID: d.DeviceID}
	if ok && !incoming.NewerThan(domain.FieldStamp{Lamport: current.Lamport, DeviceID: current.DeviceID}) {
		return nil
	}
	doc[d.Field] = remotepg.Field{Value: d.Value, Lamport: d.Lamport, DeviceID: d.DeviceID, UpdatedAt: now}
	return nil
}

func (m *memDocuments) Document(_ context.Context, kind, entityID string) (map[string]remotepg.Field, bool, error) {
	root := m.root
	root.mu.Lock()
	defer root.mu.Unlock()
	doc, ok := root.fields[m.owner+"|"+kind+"/"+entityID]
	return doc, ok, nil
}

func TestDocumentEndpointValidates(t *testing.T) {
	f := newFixture(t)
	put := func(target, key string, body httpremote.DocumentRequest, scopes ...string) int {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPut, target, bytes.NewReader(raw))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		claims := &auth.Claims{Subject: "user-1", Owner: "user-1", Scopes: auth.NewScopes(scopes...)}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
		rr := httptest.NewRecorder()
		f.mux.ServeHTTP(rr, req)
		return rr.Code
	}
	good := httpremote.DocumentRequest{MutationID: "m1", Field: "total_xp", Value: json.RawMessage(`5`), Lamport: 1, DeviceID: "phone"}

	require.Equal(t, http.StatusForbidden, put("/v1/documents/gamification/self", "k", good, auth.ScopeStateRead))
	require.Equal(t, http.StatusBadRequest, put("/v1/documents/gamification/self", "", good, auth.ScopeSyncWrite))
	require.Equal(t, http.StatusUnprocessableEntity, put("/v1/documents/nope/self", "k", good, auth.ScopeSyncWrite))
	bad := good
	bad.Field = "nope"
	require.Equal(t, http.StatusUnprocessableEntity, put("/v1/documents/gamification/self", "k", bad, auth.ScopeSyncWrite))
	require.Equal(t, http.StatusNotFound, put("/v1/documents/gamification", "k", good, auth.ScopeSyncWrite))
	require.Equal(t, http.StatusNoContent, put("/v1/documents/gamification/self", "k", good, auth.ScopeSyncWrite))

	rr := f.do(t, http.MethodGet, "/v1/documents/gamification/self", nil, auth.ScopeStateRead)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total_xp"`)
}

func TestDocumentPutRejectsOtherDevice(t *testing.T) {
	f := newFixture(t)
	put := func(tokenDevice string) int {
		raw, err := json.Marshal(httpremote.DocumentRequest{MutationID: "m1", Field: "total_xp", Value: json.RawMessage(`5`), Lamport: 1, DeviceID: "phone"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPut, "/v1/documents/gamification/self", bytes.NewReader(raw))
		req.Header.Set("Idempotency-Key", "k-"+tokenDevice)
		claims := &auth.Claims{Subject: "user-1", Owner: "user-1", DeviceID: tokenDevice, Scopes: auth.NewScopes(auth.ScopeSyncWrite)}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
		rr := httptest.NewRecorder()
		f.mux.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusForbidden, put("tablet"))
	require.Equal(t, http.StatusNoContent, put("phone"))
	require.Equal(t, http.StatusNoContent, put(""))
}

// TestDeviceSyncsToCloud runs a device reconciler against a cloud node over real HTTP.
func TestDeviceSyncsToCloud(t *testing.T) {
	cloud := newFixture(t)
	secret := auth.Config{Secret: "s", Issuer: "fitstate"}
	srv := httptest.NewServer(auth.NewMiddleware(secret).Wrap(cloud.mux))
	defer srv.Close()

	token, err := auth.Sign(secret, auth.Claims{Subject: "user-1", Scopes: auth.NewScopes(auth.ScopeSyncWrite)}, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	queue := syncq.NewQueue()
	device := store.New("phone", store.WithSink(queue))
	for _, v := range []int64{100, 200, 300} {
		_, err := device.Dispatch(ctx, domain.MustMutation(domain.OpSetXP, domain.SingletonID, domain.SetXP{Value: v}))
		require.NoError(t, err)
	}
	require.Len(t, queue.Entries(), 1)

	client := httpremote.NewClient(srv.URL, httpremote.StaticToken(token), time.Second)
	rec := syncq.NewReconciler(queue, client, syncq.NewToggle(true), syncq.DefaultConfig())
	delivered, err := rec.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Empty(t, queue.Entries())

	doc, ok, err := cloud.docs.forOwner("user-1").Document(ctx, domain.KindGamification, domain.SingletonID)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `300`, string(doc["total_xp"].Value))
	require.Equal(t, int64(3), doc["total_xp"].Lamport)
}
