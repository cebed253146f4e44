package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hospital-queue/internal/estimator"
	"hospital-queue/internal/lifecycle"
	"hospital-queue/internal/models"
	"hospital-queue/internal/position"
	"hospital-queue/internal/predictor"
	"hospital-queue/internal/queuenumber"
	"hospital-queue/internal/repository"
	"hospital-queue/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.ChangeEvent) error { return nil }

type testEnv struct {
	router   *Router
	store    *repository.MemoryStore
	registry *predictor.Registry
	models   *predictor.FileArtifactStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store := repository.NewMemoryStore()
	store.PutDepartment(models.Department{ID: "d1", Code: "RAD", Name: "Radiology"})
	store.PutExamination(models.Examination{ID: "x1", DepartmentID: "d1", Code: "CT", Duration: 20})

	artifacts, err := predictor.NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)
	registry := predictor.NewRegistry(artifacts, store, logger)

	resolver := position.NewResolver(store)
	est := estimator.NewEstimator(resolver, registry, store, store, estimator.DefaultConfig(), logger)
	ctrl := lifecycle.NewController(store, store, est, queuenumber.NewGenerator(store, 0), logger)
	sched := scheduler.NewScheduler(store, est, ctrl, nopNotifier{}, scheduler.DefaultConfig(), logger)

	router := NewRouter(logger)
	router.RegisterQueueRoutes(NewQueueHandler(ctrl, store, resolver, est, sched, registry, logger))
	return &testEnv{router: router, store: store, registry: registry, models: artifacts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) Result[T] {
	t.Helper()
	var out Result[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type entryView struct {
	ID            string `json:"id"`
	QueueNumber   string `json:"queue_number"`
	Status        string `json:"status"`
	EstimatedWait int    `json:"estimated_wait"`
	Position      int    `json:"position"`
	Estimate      *struct {
		Formula string `json:"formula"`
	} `json:"estimate"`
}

func (e *testEnv) create(t *testing.T, patient string) entryView {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/entries", map[string]any{
		"patient_id":     patient,
		"patient_name":   "name " + patient,
		"department_id":  "d1",
		"examination_id": "x1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[entryView](t, rec).Result
}

func TestCreateAndGetEntry(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, "p1")
	second := env.create(t, "p2")

	assert.Equal(t, 1, first.Position)
	assert.Equal(t, 10, first.EstimatedWait)
	assert.Equal(t, 2, second.Position)
	assert.Equal(t, 20, second.EstimatedWait)

	rec := env.do(t, http.MethodGet, "/api/v1/entries/"+second.ID+"?explain=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[entryView](t, rec).Result
	assert.Equal(t, second.QueueNumber, got.QueueNumber)
	require.NotNil(t, got.Estimate)
	assert.Equal(t, "base", got.Estimate.Formula)
}

func TestCreateEntry_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1")

	rec := env.do(t, http.MethodPost, "/api/v1/entries", map[string]any{"patient_id": "p1", "department_id": "d1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/entries", map[string]any{"department_id": "d1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ResultError, decode[any](t, rec).Code)
}

func TestTransitionEntry(t *testing.T) {
	env := newTestEnv(t)
	e := env.create(t, "p1")
	path := "/api/v1/entries/" + e.ID + "/status"

	rec := env.do(t, http.MethodPost, path, map[string]any{"status": "in_service"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, path, map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode[entryView](t, rec).Result.Status)

	rec = env.do(t, http.MethodPost, path, map[string]any{"status": "waiting"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, path, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/entries/nope/status", map[string]any{"status": "cancelled"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1, env.store.HistoryCount())
}

func TestRecalculateAndSweep(t *testing.T) {
	env := newTestEnv(t)
	e := env.create(t, "p1")
	env.create(t, "p2")

	rec := env.do(t, http.MethodPost, "/api/v1/entries/"+e.ID+"/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[scheduler.Outcome](t, rec).Result
	assert.Equal(t, e.ID, out.EntryID)
	assert.False(t, out.Updated)

	rec = env.do(t, http.MethodPost, "/api/v1/sweep?department_id=d1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[scheduler.SweepResult](t, rec).Result.Scanned)

	rec = env.do(t, http.MethodGet, "/api/v1/sweep", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// 刚创建的记录还没有超时
	rec = env.do(t, http.MethodPost, "/api/v1/delayed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	delayed := decode[scheduler.DelayResult](t, rec).Result
	assert.Equal(t, 2, delayed.Scanned)
	assert.Equal(t, 0, delayed.Delayed)
}

func TestModelsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[struct {
		Ready bool `json:"ready"`
	}](t, rec).Result
	assert.False(t, status.Ready)

	_, err := env.models.Publish(context.Background(), predictor.Artifact{
		Scope:  "department_d1",
		Kind:   predictor.KindConstant,
		Params: json.RawMessage(`{"minutes":30}`),
	})
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/v1/models/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[predictor.ReloadResult](t, rec).Result
	assert.Equal(t, 1, res.Loaded)
	assert.Equal(t, []string{"department_d1"}, res.Scopes)

	rec = env.do(t, http.MethodGet, "/api/v1/models", nil)
	var body struct {
		Result struct {
			Ready  bool `json:"ready"`
			Scopes []struct {
				Scope string `json:"scope"`
				Kind  string `json:"kind"`
			} `json:"scopes"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Result.Ready)
	require.Len(t, body.Result.Scopes, 1)
	assert.Equal(t, "department_d1", body.Result.Scopes[0].Scope)

	// 新记录使用科室模型：0.6*0 + 0.4*30 = 12
	e := env.create(t, "p9")
	assert.Equal(t, 12, e.EstimatedWait)
}

func TestExportHistory(t *testing.T) {
	env := newTestEnv(t)
	e := env.create(t, "p1")
	rec := env.do(t, http.MethodPost, "/api/v1/entries/"+e.ID+"/status", map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/history/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "queue_history_")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Queue History")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rec = env.do(t, http.MethodGet, "/api/v1/history/export?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownEntryRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/entries/abc/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
