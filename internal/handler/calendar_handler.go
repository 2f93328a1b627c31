package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/planner-api/internal/middleware"
	"github.com/noah-isme/planner-api/internal/service"
	appErrors "github.com/noah-isme/planner-api/pkg/errors"
	"github.com/noah-isme/planner-api/pkg/response"
)

type calendarService interface {
	Day(ctx context.Context, userID string, day time.Time) (*service.DayLayout, bool, error)
	Month(ctx context.Context, userID string, year int, month time.Month) (*service.MonthLayout, bool, error)
	Location() *time.Location
}

// CalendarHandler serves rendered day and month layouts.
type CalendarHandler struct {
	service calendarService
	now     func() time.Time
}

// NewCalendarHandler constructs a CalendarHandler.
func NewCalendarHandler(service calendarService) *CalendarHandler {
	return &CalendarHandler{service: service, now: time.Now}
}

// Day godoc
// @Summary Day timeline layout
// @Tags Calendar
// @Produce json
// @Param date query string false "Day (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /calendar/day [get]
func (h *CalendarHandler) Day(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	loc := h.service.Location()
	day := h.now().In(loc)
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD"))
			return
		}
		day = parsed
	}
	layout, hit, err := h.service.Day(c.Request.Context(), userID, day)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, layout, nil, middleware.ExtractMeta(c))
}

// Month godoc
// @Summary Month grid layout
// @Tags Calendar
// @Produce json
// @Param year query int false "Year, defaults to the current year"
// @Param month query int false "Month 1-12, defaults to the current month"
// @Success 200 {object} response.Envelope
// @Router /calendar/month [get]
func (h *CalendarHandler) Month(c *gin.Context) {
	userID := requireUser(c)
	if userID == "" {
		return
	}
	now := h.now().In(h.service.Location())
	year, month := now.Year(), int(now.Month())
	if raw := c.Query("year"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "year must be a number"))
			return
		}
		year = v
	}
	if raw := c.Query("month"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "month must be a number"))
			return
		}
		month = v
	}
	layout, hit, err := h.service.Month(c.Request.Context(), userID, year, time.Month(month))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, layout, nil, middleware.ExtractMeta(c))
}
