package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"insight-service/api/controllers"
	"insight-service/api/middleware"
	"insight-service/service/dataset"
	"insight-service/service/features"
	"insight-service/service/models"
	"insight-service/service/monitoring"
	"insight-service/service/pipeline"
	"insight-service/service/store"
	"insight-service/testutil"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testKey = "insight-key"

type fakeTrigger struct {
	result *pipeline.Result
	err    error
	calls  int
}

func (f *fakeTrigger) Trigger(ctx context.Context, trigger string) (*pipeline.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeRuns struct {
	runs map[string]*models.PipelineRun
}

func (f *fakeRuns) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	if run, ok := f.runs[id]; ok {
		return run, nil
	}
	return nil, store.ErrRunNotFound
}

func (f *fakeRuns) ListRuns(ctx context.Context, status string, limit int) ([]models.PipelineRun, error) {
	var out []models.PipelineRun
	for _, run := range f.runs {
		if status == "" || run.Status == status {
			out = append(out, *run)
		}
	}
	return out, nil
}

type fakeScorer struct {
	err error
}

func (f *fakeScorer) Score(ctx context.Context, req pipeline.ScoreRequest) (*pipeline.ScoreResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := &pipeline.ScoreResponse{RunID: "run-1", AsOf: "2024-12-15"}
	for _, c := range req.Customers {
		resp.Scores = append(resp.Scores, pipeline.CustomerScore{CustomerID: c.CustomerID, ChurnProbability: 42.5})
	}
	return resp, nil
}

type routerFixture struct {
	mux      *chi.Mux
	trigger  *fakeTrigger
	scorer   *fakeScorer
	notifier *testutil.MockNotifier
	helper   *testutil.HTTPTestHelper
}

func newRouter(t *testing.T, health *monitoring.HealthChecker) *routerFixture {
	t.Helper()
	hash, err := middleware.HashAPIKey(testKey, bcrypt.MinCost)
	require.NoError(t, err)

	notifier := &testutil.MockNotifier{}
	notifier.On("NotifyReportUpdated", mock.Anything, mock.Anything, "").Return(nil)
	reports := store.NewReportService(store.NewMemoryStore(), nil, nil)
	reports.AddNotifier(notifier)

	f := &routerFixture{
		mux:      chi.NewRouter(),
		trigger:  &fakeTrigger{},
		scorer:   &fakeScorer{},
		notifier: notifier,
		helper:   testutil.NewHTTPTestHelper(),
	}
	InitRoute(f.mux, Dependencies{
		Reports: reports,
		Trigger: f.trigger,
		Runs: &fakeRuns{runs: map[string]*models.PipelineRun{
			"run-1": {ID: "run-1", Status: models.RunStatusSucceeded, Trigger: models.TriggerCron},
			"run-2": {ID: "run-2", Status: models.RunStatusFailed, Trigger: models.TriggerAPI, FailedStage: "load"},
		}},
		Scorer: f.scorer,
		Health: health,
		Auth:   middleware.NewAPIKeyAuth([]string{hash}),
	})
	return f
}

func (f *routerFixture) do(t *testing.T, method, url string, body interface{}, withKey bool) *httptest.ResponseRecorder {
	t.Helper()
	req, err := f.helper.CreateJSONRequest(method, url, body)
	require.NoError(t, err)
	if withKey {
		req.Header.Set(middleware.APIKeyHeader, testKey)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func TestReportEndpoints(t *testing.T) {
	f := newRouter(t, nil)

	w := f.do(t, http.MethodGet, "/api/churn", nil, false)
	f.helper.AssertJSONResponse(t, w, http.StatusNotFound, map[string]string{"message": "Churn data not found"})
	w = f.do(t, http.MethodGet, "/api/sales", nil, false)
	f.helper.AssertJSONResponse(t, w, http.StatusNotFound, map[string]string{"message": "Sales data not found"})

	churn := json.RawMessage(`{"topCustomers":[],"churnTrends":[],"segmentation":[]}`)
	w = f.do(t, http.MethodPost, "/api/churn", churn, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/churn", churn, true)
	f.helper.AssertJSONResponse(t, w, http.StatusOK, map[string]string{"status": "Churn data updated successfully"})
	f.notifier.AssertCalled(t, "NotifyReportUpdated", mock.Anything, "churn", "")

	w = f.do(t, http.MethodGet, "/api/churn", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, string(churn), w.Body.String())

	w = f.do(t, http.MethodPost, "/api/sales", []int{1, 2}, true)
	f.helper.AssertJSONResponse(t, w, http.StatusBadRequest, map[string]string{"message": "Request body must be a JSON object"})
	w = f.do(t, http.MethodGet, "/api/sales", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code, "拒绝的报表不能生效")
}

func TestRunPipelineEndpoint(t *testing.T) {
	f := newRouter(t, nil)

	w := f.do(t, http.MethodPost, "/api/pipeline/run", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, f.trigger.calls)

	f.trigger.result = &pipeline.Result{Run: &models.PipelineRun{ID: "run-3", Status: models.RunStatusSucceeded}}
	w = f.do(t, http.MethodPost, "/api/pipeline/run", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var ok controllers.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ok))
	assert.Equal(t, 0, ok.Status)
	data := ok.Data.(map[string]interface{})
	assert.Equal(t, "run-3", data["run"].(map[string]interface{})["id"])

	f.trigger.result, f.trigger.err = nil, pipeline.ErrRunInProgress
	w = f.do(t, http.MethodPost, "/api/pipeline/run", nil, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	f.trigger.err = &pipeline.StageError{Stage: pipeline.StageLoad, Err: dataset.ErrMissingColumn}
	w = f.do(t, http.MethodPost, "/api/pipeline/run", nil, true)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var failed controllers.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	assert.Equal(t, http.StatusUnprocessableEntity, failed.Status)
	assert.Equal(t, pipeline.StageLoad, failed.Data.(map[string]interface{})["failed_stage"])

	f.trigger.err = errors.New("database unavailable")
	w = f.do(t, http.MethodPost, "/api/pipeline/run", nil, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRunHistoryEndpoints(t *testing.T) {
	f := newRouter(t, nil)

	w := f.do(t, http.MethodGet, "/api/pipeline/runs?status=failed", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var list controllers.PaginatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.Total)

	w = f.do(t, http.MethodGet, "/api/pipeline/runs?status=bogus", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/pipeline/runs/run-1", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/pipeline/runs/nope", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScoreEndpoint(t *testing.T) {
	f := newRouter(t, nil)
	req := pipeline.ScoreRequest{Customers: []pipeline.CustomerInput{{CustomerID: "c-1", Country: "USA"}}}

	w := f.do(t, http.MethodPost, "/api/churn/score", req, false)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data pipeline.ScoreResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Scores, 1)
	assert.Equal(t, "c-1", resp.Data.Scores[0].CustomerID)

	f.scorer.err = &features.UnseenCategoryError{Feature: "country", Value: "Mars"}
	w = f.do(t, http.MethodPost, "/api/churn/score", req, false)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var bad controllers.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bad))
	assert.Equal(t, "country", bad.Data.(map[string]interface{})["feature"])

	f.scorer.err = pipeline.ErrNoModel
	w = f.do(t, http.MethodPost, "/api/churn/score", req, false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.scorer.err = errors.Join(pipeline.ErrInvalidScoreRequest, errors.New("no customers"))
	w = f.do(t, http.MethodPost, "/api/churn/score", req, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	checker := monitoring.NewHealthChecker(0)
	f := newRouter(t, checker)

	w := f.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/ready", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)

	checker.Register("database", func(ctx context.Context) error { return errors.New("down") })
	w = f.do(t, http.MethodGet, "/ready", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp controllers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.False(t, resp.Details.Dependencies["database"].Available)
}
