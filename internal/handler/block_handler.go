package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/planner-api/internal/dto"
	"github.com/noah-isme/planner-api/internal/middleware"
	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
	appErrors "github.com/noah-isme/planner-api/pkg/errors"
	"github.com/noah-isme/planner-api/pkg/response"
)

type blockService interface {
	List(ctx context.Context, filter models.BlockFilter) ([]models.ScheduledBlock, bool, error)
	Get(ctx context.Context, userID, id string) (*models.ScheduledBlock, error)
	Save(ctx context.Context, userID string, draft models.BlockDraft) (*models.ScheduledBlock, error)
	Update(ctx context.Context, userID, id string, draft models.BlockDraft, scope *recurrence.Scope) (*models.ScheduledBlock, error)
	Move(ctx context.Context, userID, id string, start, end time.Time, scope *recurrence.Scope) (*models.ScheduledBlock, error)
	Delete(ctx context.Context, userID, id string, entireSeries bool) error
	Duplicate(ctx context.Context, userID, id string) (*models.ScheduledBlock, error)
	Complete(ctx context.Context, userID, id string) (*models.ScheduledBlock, error)
	SetPaused(ctx context.Context, userID, id string, paused bool) (*models.ScheduledBlock, error)
}

// BlockHandler exposes scheduled block endpoints.
type BlockHandler struct {
	service blockService
	loc     *time.Location
}

// NewBlockHandler constructs a BlockHandler. Bare dates in queries are read in loc.
func NewBlockHandler(service blockService, loc *time.Location) *BlockHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &BlockHandler{service: service, loc: loc}
}

// List godoc
// @Summary List blocks overlapping a window
// @Tags Blocks
// @Produce json
// @Param from query string true "Window start (RFC 3339 or YYYY-MM-DD)"
// @Param to query string true "Window end, exclusive (RFC 3339 or YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /blocks [get]
func (h *BlockHandler) List(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	from, err := parseInstant(c.Query("from"), h.loc)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from must be RFC 3339 or YYYY-MM-DD"))
		return
	}
	to, err := parseInstant(c.Query("to"), h.loc)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "to must be RFC 3339 or YYYY-MM-DD"))
		return
	}
	blocks, hit, err := h.service.List(c.Request.Context(), models.BlockFilter{UserID: userID, From: from, To: to})
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, dto.NewBlockResponses(blocks), nil, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a block
// @Tags Blocks
// @Produce json
// @Param id path string true "Block ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /blocks/{id} [get]
func (h *BlockHandler) Get(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	block, err := h.service.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewBlockResponse(*block), nil)
}

// Create godoc
// @Summary Create a block
// @Tags Blocks
// @Accept json
// @Produce json
// @Param payload body dto.BlockRequest true "Block payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /blocks [post]
func (h *BlockHandler) Create(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	draft, ok := bindDraft(c)
	if !ok {
		return
	}
	block, err := h.service.Save(c.Request.Context(), userID, draft)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewBlockResponse(*block))
}

// Update godoc
// @Summary Update a block
// @Description Series members need scope=this (one occurrence) or scope=all (every block of the series).
// @Tags Blocks
// @Accept json
// @Produce json
// @Param id path string true "Block ID"
// @Param scope query string false "Edit scope" Enums(this, all)
// @Param payload body dto.BlockRequest true "Block payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Scope required"
// @Router /blocks/{id} [put]
func (h *BlockHandler) Update(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	draft, ok := bindDraft(c)
	if !ok {
		return
	}
	block, err := h.service.Update(c.Request.Context(), userID, c.Param("id"), draft, scope)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewBlockResponse(*block), nil)
}

// Move godoc
// @Summary Move or resize a block
// @Tags Blocks
// @Accept json
// @Produce json
// @Param id path string true "Block ID"
// @Param payload body dto.MoveRequest true "New range"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Scope required"
// @Router /blocks/{id}/move [patch]
func (h *BlockHandler) Move(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	var req dto.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid move payload"))
		return
	}
	var scope *recurrence.Scope
	if req.Scope != nil && *req.Scope != "" {
		parsed, valid := recurrence.ParseScope(*req.Scope)
		if !valid {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "scope must be this or all"))
			return
		}
		scope = &parsed
	}
	block, err := h.service.Move(c.Request.Context(), userID, c.Param("id"), req.StartTime, req.EndTime, scope)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewBlockResponse(*block), nil)
}

// Delete godoc
// @Summary Delete a block or its whole series
// @Tags Blocks
// @Param id path string true "Block ID"
// @Param series query bool false "Delete every block of the series"
// @Success 204
// @Router /blocks/{id} [delete]
func (h *BlockHandler) Delete(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	if err := h.service.Delete(c.Request.Context(), userID, c.Param("id"), queryBool(c, "series")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Duplicate godoc
// @Summary Duplicate a block
// @Tags Blocks
// @Produce json
// @Param id path string true "Block ID"
// @Success 201 {object} response.Envelope
// @Router /blocks/{id}/duplicate [post]
func (h *BlockHandler) Duplicate(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	block, err := h.service.Duplicate(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewBlockResponse(*block))
}

// Complete godoc
// @Summary Mark a block completed
// @Tags Blocks
// @Produce json
// @Param id path string true "Block ID"
// @Success 200 {object} response.Envelope
// @Router /blocks/{id}/complete [post]
func (h *BlockHandler) Complete(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	block, err := h.service.Complete(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewBlockResponse(*block), nil)
}

// Pause godoc
// @Summary Pause generation of a recurring series
// @Tags Blocks
// @Produce json
// @Param id path string true "Any block of the series"
// @Success 200 {object} response.Envelope
// @Router /blocks/{id}/pause [post]
func (h *BlockHandler) Pause(c *gin.Context) {
	h.setPaused(c, true)
}

// Resume godoc
// @Summary Resume generation of a recurring series
// @Tags Blocks
// @Produce json
// @Param id path string true "Any block of the series"
// @Success 200 {object} response.Envelope
// @Router /blocks/{id}/resume [post]
func (h *BlockHandler) Resume(c *gin.Context) {
	h.setPaused(c, false)
}

func (h *BlockHandler) setPaused(c *gin.Context, paused bool) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	root, err := h.service.SetPaused(c.Request.Context(), userID, c.Param("id"), paused)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewBlockResponse(*root), nil)
}

func bindDraft(c *gin.Context) (models.BlockDraft, bool) {
	var req dto.BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid block payload"))
		return models.BlockDraft{}, false
	}
	draft, err := req.Draft()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, err.Error()))
		return models.BlockDraft{}, false
	}
	return draft, true
}
