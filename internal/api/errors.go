package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/otyard/internal/failure"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/workorder"
	"go.uber.org/zap"
)

type errorDetail struct {
	Kind          string                 `json:"kind"`
	Reason        string                 `json:"reason,omitempty"`
	Message       string                 `json:"message"`
	Status        models.Status          `json:"status,omitempty"`
	DowntimeLogID *uint                  `json:"downtimeLogId,omitempty"`
	Fields        []workorder.FieldError `json:"fields,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// statusForKind maps lifecycle error kinds to HTTP status codes.
func statusForKind(k workorder.Kind) int {
	switch k {
	case workorder.KindValidation:
		return http.StatusUnprocessableEntity
	case workorder.KindNotFound:
		return http.StatusNotFound
	case workorder.KindForbidden:
		return http.StatusForbidden
	case workorder.KindInvalidState, workorder.KindNotAssigned, workorder.KindReturnToProductionRequired:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, err error) {
	if e, ok := workorder.AsError(err); ok {
		c.JSON(statusForKind(e.Kind), errorBody{Error: errorDetail{
			Kind:          string(e.Kind),
			Reason:        e.Reason,
			Message:       e.Error(),
			Status:        e.Status,
			DowntimeLogID: e.DowntimeLogID,
			Fields:        e.Fields,
		}})
		return
	}
	if errors.Is(err, failure.ErrInvalid) {
		c.JSON(http.StatusUnprocessableEntity, errorBody{Error: errorDetail{Kind: string(workorder.KindValidation), Message: err.Error()}})
		return
	}
	if errors.Is(err, failure.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorBody{Error: errorDetail{Kind: string(workorder.KindNotFound), Message: err.Error()}})
		return
	}
	s.logger.Error("request failed",
		zap.String("route", c.FullPath()),
		zap.String("request_id", c.GetString(HeaderRequestID)),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorBody{Error: errorDetail{Kind: "INTERNAL", Message: "internal error"}})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: errorDetail{Kind: string(workorder.KindValidation), Message: msg}})
}
