package handler

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/planner-api/internal/dto"
	"github.com/noah-isme/planner-api/internal/service"
	appErrors "github.com/noah-isme/planner-api/pkg/errors"
	"github.com/noah-isme/planner-api/pkg/response"
)

type exportService interface {
	Generate(ctx context.Context, req service.ExportRequest) (*service.ExportResult, error)
	Resolve(token, userID string) (string, error)
	Open(relPath string) (*os.File, error)
}

var exportContentTypes = map[string]string{
	".csv": "text/csv; charset=utf-8",
	".pdf": "application/pdf",
	".ics": "text/calendar; charset=utf-8",
}

// ExportHandler renders agendas and serves the stored files.
type ExportHandler struct {
	service exportService
	loc     *time.Location
}

// NewExportHandler constructs an ExportHandler. Dates in requests are read in loc.
func NewExportHandler(service exportService, loc *time.Location) *ExportHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ExportHandler{service: service, loc: loc}
}

// Create godoc
// @Summary Render an agenda export
// @Description The to date is inclusive. The response carries a signed download URL.
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body dto.ExportRequest true "Export payload"
// @Success 201 {object} response.Envelope
// @Router /exports [post]
func (h *ExportHandler) Create(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export payload"))
		return
	}
	format, err := service.ParseExportFormat(req.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	from, errFrom := dto.ParseDate(req.From, h.loc)
	to, errTo := dto.ParseDate(req.To, h.loc)
	if errFrom != nil || errTo != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from and to must be YYYY-MM-DD"))
		return
	}
	result, err := h.service.Generate(c.Request.Context(), service.ExportRequest{
		UserID:         userID,
		From:           from,
		To:             to.AddDate(0, 0, 1),
		Format:         format,
		CollapseSeries: req.CollapseSeries,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download a rendered export
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed export token"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	relPath, err := h.service.Resolve(c.Param("token"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.Open(relPath)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	body, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}
	name := filepath.Base(relPath)
	contentType, ok := exportContentTypes[filepath.Ext(name)]
	if !ok {
		contentType = "application/octet-stream"
	}
	response.Attachment(c, name, contentType, body)
}
