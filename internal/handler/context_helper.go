package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/planner-api/internal/middleware"
	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
	appErrors "github.com/noah-isme/planner-api/pkg/errors"
	"github.com/noah-isme/planner-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// requireUser writes a 401 and returns "" when the request carries no owner.
func requireUser(c *gin.Context) string {
	userID := claimsFromContext(c).OwnerID()
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return userID
}

// scopeFromQuery reads ?scope=. ok is false after an error response was written.
func scopeFromQuery(c *gin.Context) (*recurrence.Scope, bool) {
	raw := strings.TrimSpace(c.Query("scope"))
	if raw == "" {
		return nil, true
	}
	scope, valid := recurrence.ParseScope(raw)
	if !valid {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "scope must be this or all"))
		return nil, false
	}
	return &scope, true
}

// parseInstant accepts RFC 3339 timestamps and YYYY-MM-DD dates, the latter at midnight in loc.
func parseInstant(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", raw, loc)
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
