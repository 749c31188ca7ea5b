package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ignite/lifecycle-engine/internal/action/actiontest"
	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/events"
	"github.com/ignite/lifecycle-engine/internal/lifecycle"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/pkg/httputil"
	"github.com/ignite/lifecycle-engine/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type testServer struct {
	store  *memory.Store
	rec    *actiontest.Recorder
	router http.Handler
}

func newTestServer(t *testing.T, srv config.ServerConfig) *testServer {
	t.Helper()
	ts := &testServer{store: memory.New(), rec: actiontest.NewRecorder()}
	clk := clock.NewFake(t0)
	engine := lifecycle.New(ts.store, ts.rec, clk, events.NewBus(), config.DefaultLifecycle())
	ts.router = SetupRoutes(NewHandlers(engine, ts.store, clk), srv)
	return ts
}

func (ts *testServer) customer(t *testing.T, stage domain.PipelineStage) *domain.Customer {
	t.Helper()
	c := &domain.Customer{BusinessName: "Northside Florist", Email: "shop@northside.test", PipelineStage: &stage, EmailOptedIn: true}
	require.NoError(t, ts.store.CreateCustomer(context.Background(), c))
	return c
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// =============================================================================
// HEALTH / AUTH
// =============================================================================

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, w)["status"])
}

func TestAPIToken(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{APIToken: "s3cret"})
	c := ts.customer(t, domain.StageHook)

	w := ts.do(t, http.MethodGet, "/api/customers/"+c.ID, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/customers/"+c.ID, nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rw := httptest.NewRecorder()
	ts.router.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusOK, rw.Code)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil).Code, "health stays open")
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func TestGetCustomer_NotFound(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	w := ts.do(t, http.MethodGet, "/api/customers/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[httputil.ErrorResponse](t, w).Code)
}

func TestUpdateContact(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	c := ts.customer(t, domain.StageHook)

	w := ts.do(t, http.MethodPatch, "/api/customers/"+c.ID+"/contact", map[string]any{
		"do_not_contact": true,
		"custom_fields":  map[string]any{"plan": "pro"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[domain.Customer](t, w)
	assert.True(t, got.DoNotContact)
	assert.Equal(t, "pro", got.CustomFields["plan"])
	assert.Equal(t, c.Version+1, got.Version)

	w = ts.do(t, http.MethodPatch, "/api/customers/"+c.ID+"/contact", map[string]any{"campaign_status": "archived"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRecordInteraction(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	c := ts.customer(t, domain.StageHook)

	w := ts.do(t, http.MethodPost, "/api/customers/"+c.ID+"/interactions", map[string]any{"kind": "email_open"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[lifecycle.Recalculation](t, w)
	assert.Equal(t, c.ID, rec.CustomerID)
	assert.Greater(t, rec.NewScore, rec.OldScore)

	w = ts.do(t, http.MethodPost, "/api/customers/"+c.ID+"/interactions", map[string]any{"kind": "fax"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRecordInteraction_BadJSON(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	c := ts.customer(t, domain.StageHook)

	req := httptest.NewRequest(http.MethodPost, "/api/customers/"+c.ID+"/interactions", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// PIPELINE
// =============================================================================

func TestTransition(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	c := ts.customer(t, domain.StageHook)
	path := "/api/customers/" + c.ID + "/stage"

	w := ts.do(t, http.MethodPost, path, map[string]string{"stage": "Engagement"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[domain.Customer](t, w)
	require.NotNil(t, got.PipelineStage)
	assert.Equal(t, domain.StageEngagement, *got.PipelineStage)
	require.Len(t, got.StageHistory, 1)
	assert.Equal(t, domain.TriggerManual, got.StageHistory[0].Trigger)

	w = ts.do(t, http.MethodPost, path, map[string]string{"stage": "hook"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode[httputil.ErrorResponse](t, w).Code)

	w = ts.do(t, http.MethodPost, path, map[string]string{"stage": "limbo"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestChurn(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	c := ts.customer(t, domain.StageSales)
	path := "/api/customers/" + c.ID + "/churn"

	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, path, map[string]string{}).Code)

	w := ts.do(t, http.MethodPost, path, map[string]string{"reason": "closed the shop"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[domain.Customer](t, w)
	assert.Equal(t, domain.StageChurned, *got.PipelineStage)
}

func TestAcceptTrial(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	c := ts.customer(t, domain.StageHook)

	w := ts.do(t, http.MethodPost, "/api/customers/"+c.ID+"/trial", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[domain.Customer](t, w)
	assert.True(t, got.TrialActive)
	assert.Equal(t, domain.StageEngagement, *got.PipelineStage)
}

// =============================================================================
// TIMELINES
// =============================================================================

func TestTimelineLifecycle(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, config.ServerConfig{})
	c := ts.customer(t, domain.StageHook)
	tl := &domain.CampaignTimeline{
		Name: "hook-90", Slug: "hook-90", Version: 1, Stage: domain.StageHook, Active: true, DurationDays: 90,
		Actions: []domain.TimelineAction{
			{ID: "welcome", DayNumber: 1, ActionType: domain.ActionSendEmail, Parameters: map[string]any{"template": "welcome"}},
		},
	}
	require.NoError(t, ts.store.SaveTimeline(ctx, tl))
	base := "/api/customers/" + c.ID + "/timelines"

	w := ts.do(t, http.MethodPost, base, map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(t, http.MethodPost, base, map[string]string{"timeline_id": tl.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := decode[domain.CustomerTimelineProgress](t, w)
	assert.Equal(t, 1, p.CurrentDay)

	w = ts.do(t, http.MethodPost, "/api/customers/"+c.ID+"/process", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, ts.rec.Count("SendEmail"))

	w = ts.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	w = ts.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Progress []domain.CustomerTimelineProgress `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Progress, 1)
	assert.Equal(t, domain.ProgressPaused, listed.Progress[0].Status)

	w = ts.do(t, http.MethodPost, "/api/progress/"+p.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.ProgressActive, decode[domain.CustomerTimelineProgress](t, w).Status)
}

func TestSweep(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	w := ts.do(t, http.MethodPost, "/api/sweeps", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decode[map[string]any](t, w), "processed")
}

// =============================================================================
// PERSONAS / FOLLOW-UPS
// =============================================================================

func TestPersona(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, config.ServerConfig{})
	c := ts.customer(t, domain.StageSales)
	p := &domain.Personality{Name: "Maya", Role: "account manager", Tone: "warm"}
	require.NoError(t, ts.store.SavePersonality(ctx, p))
	path := "/api/customers/" + c.ID + "/persona"

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, nil).Code)

	w := ts.do(t, http.MethodPut, path, map[string]string{"personality_id": p.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Maya", decode[domain.Personality](t, w).Name)
}

func TestListFollowups(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, config.ServerConfig{})
	c := ts.customer(t, domain.StageSales)
	require.NoError(t, ts.store.CreateFollowup(ctx, &domain.Followup{CustomerID: c.ID, Type: "callback", DueAt: t0.Add(24 * time.Hour)}))

	w := ts.do(t, http.MethodGet, "/api/customers/"+c.ID+"/followups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/customers/nobody/followups", nil).Code)
}

// =============================================================================
// DIALOGS
// =============================================================================

func demoTree() *domain.DialogTree {
	return &domain.DialogTree{
		Name: "demo-followup", TriggerType: "demo_request", StartNode: "ask_time", Active: true,
		Nodes: map[string]domain.DialogTreeNode{
			"ask_time": {
				Type: domain.NodeAsk, Prompt: "Morning or afternoon?",
				ExpectedResponses: map[string]string{"default": "done"},
			},
			"done": {Type: domain.NodeTerminal, Prompt: "Booked."},
		},
	}
}

func TestDialogFlow(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, config.ServerConfig{})
	c := ts.customer(t, domain.StageSales)
	tree := demoTree()
	require.NoError(t, ts.store.SaveDialogTree(ctx, tree))

	w := ts.do(t, http.MethodPost, "/api/customers/"+c.ID+"/dialogs", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(t, http.MethodPost, "/api/customers/"+c.ID+"/dialogs", map[string]string{"trigger": "demo_request"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	started := decode[map[string]any](t, w)
	execID := started["execution_id"].(string)
	assert.Equal(t, "ask_time", started["node"])
	assert.Equal(t, "Morning or afternoon?", started["prompt"])

	w = ts.do(t, http.MethodPost, "/api/dialogs/"+execID+"/responses", map[string]string{"response": "afternoon"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decode[map[string]any](t, w)
	assert.Equal(t, string(domain.DialogCompleted), done["status"])
	assert.Equal(t, map[string]any{"ask_time": "afternoon"}, done["collected_data"])

	w = ts.do(t, http.MethodPost, "/api/dialogs/"+execID+"/responses", map[string]string{"response": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)
	er := decode[httputil.ErrorResponse](t, w)
	assert.Equal(t, "dialog_state", er.Code)
	assert.NotNil(t, er.Details)

	w = ts.do(t, http.MethodGet, "/api/dialogs/"+execID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.DialogCompleted), decode[map[string]any](t, w)["status"])

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/dialogs/nope", nil).Code)
}
