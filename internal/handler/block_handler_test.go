package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/planner-api/internal/middleware"
	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
	appErrors "github.com/noah-isme/planner-api/pkg/errors"
)

type responseEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var env responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

// newTestRouter authenticates every request as userID; an empty userID leaves it anonymous.
func newTestRouter(userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.WithResponseMeta())
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: userID})
		}
		c.Next()
	})
	return r
}

func doJSON(r http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

var handlerStart = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

type fakeBlockService struct {
	blocks     []models.ScheduledBlock
	hit        bool
	err        error
	lastFilter models.BlockFilter
	lastDraft  models.BlockDraft
	lastScope  *recurrence.Scope
	lastSeries bool
	lastPaused *bool
	lastRange  [2]time.Time
}

func (f *fakeBlockService) block(id string) *models.ScheduledBlock {
	return &models.ScheduledBlock{ID: id, UserID: "u1", Title: "Standup", StartTime: handlerStart, EndTime: handlerStart.Add(time.Hour), RecurrenceType: recurrence.TypeNone}
}

func (f *fakeBlockService) List(_ context.Context, filter models.BlockFilter) ([]models.ScheduledBlock, bool, error) {
	f.lastFilter = filter
	return f.blocks, f.hit, f.err
}

func (f *fakeBlockService) Get(_ context.Context, userID, id string) (*models.ScheduledBlock, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.block(id), nil
}

func (f *fakeBlockService) Save(_ context.Context, userID string, draft models.BlockDraft) (*models.ScheduledBlock, error) {
	f.lastDraft = draft
	if f.err != nil {
		return nil, f.err
	}
	b := f.block("new")
	b.RecurrenceType, b.RecurrenceRule = draft.RecurrenceType, draft.RecurrenceRule
	return b, nil
}

func (f *fakeBlockService) Update(_ context.Context, userID, id string, draft models.BlockDraft, scope *recurrence.Scope) (*models.ScheduledBlock, error) {
	f.lastDraft, f.lastScope = draft, scope
	if f.err != nil {
		return nil, f.err
	}
	return f.block(id), nil
}

func (f *fakeBlockService) Move(_ context.Context, userID, id string, start, end time.Time, scope *recurrence.Scope) (*models.ScheduledBlock, error) {
	f.lastRange, f.lastScope = [2]time.Time{start, end}, scope
	if f.err != nil {
		return nil, f.err
	}
	b := f.block(id)
	b.StartTime, b.EndTime = start, end
	return b, nil
}

func (f *fakeBlockService) Delete(_ context.Context, userID, id string, entireSeries bool) error {
	f.lastSeries = entireSeries
	return f.err
}

func (f *fakeBlockService) Duplicate(_ context.Context, userID, id string) (*models.ScheduledBlock, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.block(id + "-copy"), nil
}

func (f *fakeBlockService) Complete(_ context.Context, userID, id string) (*models.ScheduledBlock, error) {
	if f.err != nil {
		return nil, f.err
	}
	b := f.block(id)
	b.Status = models.BlockCompleted
	return b, nil
}

func (f *fakeBlockService) SetPaused(_ context.Context, userID, id string, paused bool) (*models.ScheduledBlock, error) {
	f.lastPaused = &paused
	if f.err != nil {
		return nil, f.err
	}
	b := f.block("root")
	b.IsRecurrencePaused = paused
	return b, nil
}

func blockRouter(svc *fakeBlockService, userID string) *gin.Engine {
	r := newTestRouter(userID)
	h := NewBlockHandler(svc, time.UTC)
	r.GET("/blocks", h.List)
	r.GET("/blocks/:id", h.Get)
	r.POST("/blocks", h.Create)
	r.PUT("/blocks/:id", h.Update)
	r.DELETE("/blocks/:id", h.Delete)
	r.PATCH("/blocks/:id/move", h.Move)
	r.POST("/blocks/:id/duplicate", h.Duplicate)
	r.POST("/blocks/:id/complete", h.Complete)
	r.POST("/blocks/:id/pause", h.Pause)
	r.POST("/blocks/:id/resume", h.Resume)
	return r
}

func TestBlockHandlerRequiresUser(t *testing.T) {
	rec := doJSON(blockRouter(&fakeBlockService{}, ""), http.MethodGet, "/blocks?from=2025-01-01&to=2025-01-31", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBlockHandlerList(t *testing.T) {
	svc := &fakeBlockService{blocks: []models.ScheduledBlock{*(&fakeBlockService{}).block("b1")}, hit: true}
	r := blockRouter(svc, "u1")

	rec := doJSON(r, http.MethodGet, "/blocks?from=2025-01-06&to=2025-01-07T12:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, true, env.Meta["cache_hit"])
	var data []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data, 1)
	assert.Equal(t, float64(60), data[0]["duration_minutes"])
	assert.Equal(t, "u1", svc.lastFilter.UserID)
	assert.True(t, svc.lastFilter.From.Equal(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)))
	assert.True(t, svc.lastFilter.To.Equal(time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC)))

	rec = doJSON(r, http.MethodGet, "/blocks?from=yesterday&to=2025-01-07", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = appErrors.Clone(appErrors.ErrInvalidRange, "to must be after from")
	rec = doJSON(r, http.MethodGet, "/blocks?from=2025-01-07&to=2025-01-06", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_RANGE", decodeEnvelope(t, rec).Error.Code)
}

func TestBlockHandlerCreate(t *testing.T) {
	svc := &fakeBlockService{}
	r := blockRouter(svc, "u1")

	rec := doJSON(r, http.MethodPost, "/blocks", map[string]interface{}{
		"title":      "Standup",
		"start_time": handlerStart,
		"end_time":   handlerStart.Add(30 * time.Minute),
		"recurrence": map[string]interface{}{"type": "weekly", "interval": 1, "days": []int{1, 3}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, recurrence.TypeWeekly, svc.lastDraft.RecurrenceType)
	assert.True(t, recurrence.IsRecurring(svc.lastDraft.RecurrenceRule.Get()))

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	assert.Equal(t, true, data["is_part_of_series"])

	rec = doJSON(r, http.MethodPost, "/blocks", map[string]interface{}{"start_time": handlerStart})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(r, http.MethodPost, "/blocks", map[string]interface{}{
		"title": "x", "start_time": handlerStart, "end_time": handlerStart.Add(time.Hour),
		"recurrence": map[string]interface{}{"type": "yearly"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlockHandlerUpdateScope(t *testing.T) {
	svc := &fakeBlockService{}
	r := blockRouter(svc, "u1")
	body := map[string]interface{}{"title": "Renamed", "start_time": handlerStart, "end_time": handlerStart.Add(time.Hour)}

	rec := doJSON(r, http.MethodPut, "/blocks/inst-1?scope=ALL", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastScope)
	assert.Equal(t, recurrence.ScopeAll, *svc.lastScope)
	assert.Equal(t, "Renamed", svc.lastDraft.Title)

	rec = doJSON(r, http.MethodPut, "/blocks/inst-1?scope=some", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = appErrors.Clone(appErrors.ErrScopeRequired, "choose this or all")
	rec = doJSON(r, http.MethodPut, "/blocks/inst-1", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Nil(t, svc.lastScope)
}

func TestBlockHandlerMove(t *testing.T) {
	svc := &fakeBlockService{}
	r := blockRouter(svc, "u1")
	start := handlerStart.Add(2 * time.Hour)

	rec := doJSON(r, http.MethodPatch, "/blocks/b1/move", map[string]interface{}{
		"start_time": start, "end_time": start.Add(time.Hour), "scope": "this",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.lastRange[0].Equal(start))
	require.NotNil(t, svc.lastScope)
	assert.Equal(t, recurrence.ScopeThis, *svc.lastScope)

	rec = doJSON(r, http.MethodPatch, "/blocks/b1/move", map[string]interface{}{
		"start_time": start, "end_time": start.Add(time.Hour), "scope": "every",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlockHandlerLifecycleActions(t *testing.T) {
	svc := &fakeBlockService{}
	r := blockRouter(svc, "u1")

	rec := doJSON(r, http.MethodDelete, "/blocks/b1?series=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, svc.lastSeries)

	rec = doJSON(r, http.MethodDelete, "/blocks/b1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, svc.lastSeries)

	rec = doJSON(r, http.MethodPost, "/blocks/b1/duplicate", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(r, http.MethodPost, "/blocks/b1/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	assert.Equal(t, "completed", data["status"])

	rec = doJSON(r, http.MethodPost, "/blocks/inst-1/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastPaused)
	assert.True(t, *svc.lastPaused)

	rec = doJSON(r, http.MethodPost, "/blocks/inst-1/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, *svc.lastPaused)

	svc.err = appErrors.Clone(appErrors.ErrNotFound, "block not found")
	rec = doJSON(r, http.MethodGet, "/blocks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
