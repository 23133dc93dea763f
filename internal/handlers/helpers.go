package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"telecare-server/internal/middleware"
	"telecare-server/internal/models"
	"telecare-server/internal/services"
	"telecare-server/internal/utils"
)

// respondServiceError is the one place service errors become HTTP statuses.
func respondServiceError(c *gin.Context, log *zap.Logger, err error) {
	var ve *models.ValidationError
	var ce *models.ConflictError

	switch services.Classify(err) {
	case services.KindValidation:
		if errors.As(err, &ve) {
			utils.ErrorWithDetails(c, http.StatusBadRequest, err.Error(), gin.H{"fields": ve.Fields})
			return
		}
		utils.BadRequest(c, err.Error())
	case services.KindUnauthorized:
		utils.Unauthorized(c, err.Error())
	case services.KindForbidden:
		utils.Forbidden(c, err.Error())
	case services.KindNotFound:
		utils.NotFound(c, err.Error())
	case services.KindConflict:
		if errors.As(err, &ce) {
			utils.ErrorWithDetails(c, http.StatusConflict, models.ErrAppointmentConflict.Error(), gin.H{
				"party":         ce.Party,
				"appointmentId": ce.AppointmentID,
				"startTime":     ce.StartTime,
				"endTime":       ce.EndTime,
			})
			return
		}
		utils.Conflict(c, err.Error())
	case services.KindUnavailable:
		utils.ServiceUnavailable(c, err.Error())
	default:
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err))
		_ = c.Error(err)
		utils.InternalServerError(c, "Internal server error")
	}
}

// caller pulls the authenticated identity, answering 401 when it is absent.
func caller(c *gin.Context) (models.Caller, bool) {
	who, ok := middleware.CallerFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return models.Caller{}, false
	}
	return who, true
}

// pathID reads a UUID path parameter, answering 400 when it is malformed.
func pathID(c *gin.Context, name string) (string, bool) {
	raw := c.Param(name)
	if _, err := uuid.Parse(raw); err != nil {
		utils.BadRequest(c, "Invalid "+name+" format")
		return "", false
	}
	return raw, true
}

func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		utils.BadRequest(c, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func queryTime(c *gin.Context, key string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		utils.BadRequest(c, key+" must be an RFC 3339 timestamp")
		return nil, false
	}
	return &t, true
}

func sanitizeAll(users []models.User) []models.UserSanitized {
	out := make([]models.UserSanitized, 0, len(users))
	for i := range users {
		out = append(out, users[i].Sanitize())
	}
	return out
}
