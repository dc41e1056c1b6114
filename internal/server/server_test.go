package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stakemint/sagad/internal/router"
	"github.com/stakemint/sagad/internal/server"
	"github.com/stakemint/sagad/internal/store"
	"github.com/stakemint/sagad/pkg/api"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type capturePublisher struct {
	mu      sync.Mutex
	notices []*api.Notice
}

func (p *capturePublisher) Publish(_ context.Context, n *api.Notice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
	return nil
}

type fixture struct {
	engine *gin.Engine
	store  *store.Store
	pub    *capturePublisher
}

func newFixture(t *testing.T, views *server.ViewCache) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s, err := store.New(db)
	require.NoError(t, err)

	pub := &capturePublisher{}
	r := router.New(s, api.Registry{}, pub)
	srv := server.NewServer(r, s, views)
	return &fixture{engine: srv.SetupRoutes(), store: s, pub: pub}
}

func (f *fixture) request(
	t *testing.T, method, path, body string,
) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	w := f.request(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartWorkflow(t *testing.T) {
	f := newFixture(t, nil)

	body := fmt.Sprintf(
		`{"kind":%q,"client_id":"client-1","params":{"deviceId":"d-1"}}`,
		api.WorkflowDeviceAuth,
	)
	w := f.request(t, http.MethodPost, "/workflow", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var res struct {
		ID     api.WorkflowID     `json:"id"`
		Status api.WorkflowStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotZero(t, res.ID)
	assert.Equal(t, api.WorkflowQueued, res.Status)

	// Starting publishes the first step notice
	require.Len(t, f.pub.notices, 1)
	assert.Equal(t, api.StepInit, f.pub.notices[0].StepKind)
}

func TestStartWorkflowRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)

	w := f.request(t, http.MethodPost, "/workflow", `{"kind":"deviceAuth"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.request(t, http.MethodPost, "/workflow",
		`{"kind":"teleport","client_id":"client-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.request(t, http.MethodPost, "/workflow", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	wf, err := f.store.CreateWorkflow(
		ctx, api.WorkflowSessionAuth, "client-1", nil,
	)
	require.NoError(t, err)

	w := f.request(t, http.MethodGet,
		fmt.Sprintf("/workflow/%d", wf.ID), "")
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Kind   api.WorkflowKind   `json:"kind"`
		Status api.WorkflowStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, api.WorkflowSessionAuth, res.Kind)
	assert.Equal(t, api.WorkflowQueued, res.Status)
}

func TestGetWorkflowNotFound(t *testing.T) {
	f := newFixture(t, nil)

	w := f.request(t, http.MethodGet, "/workflow/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.request(t, http.MethodGet, "/workflow/zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetWorkflowUsesViewCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, server.NewViewCache(rdb, time.Minute))
	ctx := context.Background()

	wf, err := f.store.CreateWorkflow(
		ctx, api.WorkflowSessionAuth, "client-1", nil,
	)
	require.NoError(t, err)
	path := fmt.Sprintf("/workflow/%d", wf.ID)

	w := f.request(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t,
		mr.Exists(fmt.Sprintf("workflow-view:%d", wf.ID)))

	// A stale cached view is served until the TTL or an invalidation
	require.NoError(t, f.store.SetWorkflowStatus(
		ctx, api.WorkflowID(wf.ID), api.WorkflowInProgress,
	))
	w = f.request(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Status api.WorkflowStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, api.WorkflowQueued, res.Status)
}

func TestListSteps(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	wf, err := f.store.CreateWorkflow(
		ctx, api.WorkflowDeviceAuth, "client-1", nil,
	)
	require.NoError(t, err)
	workflowID := api.WorkflowID(wf.ID)

	_, err = f.store.InsertStep(ctx, workflowID, api.StepInit, nil)
	require.NoError(t, err)
	_, err = f.store.InsertStep(ctx, workflowID, api.StepVerifyDevice, nil)
	require.NoError(t, err)

	w := f.request(t, http.MethodGet,
		fmt.Sprintf("/workflow/%d/steps", wf.ID), "")
	require.Equal(t, http.StatusOK, w.Code)

	var res []struct {
		Kind   api.StepKind    `json:"kind"`
		Status *api.StepStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res, 2)
	assert.Equal(t, api.StepInit, res[0].Kind)
	assert.Equal(t, api.StepVerifyDevice, res[1].Kind)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)

	w := f.request(t, http.MethodOptions, "/workflow", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*",
		w.Header().Get("Access-Control-Allow-Origin"))
}
