// Package handlers implements the gin handlers of the subsim HTTP API.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/pkg/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// parsePagination reads page and page_size and returns limit and offset.
// Out of range values fall back to the defaults.
func parsePagination(c *gin.Context) (limit, offset int) {
	page := 1
	pageSize := defaultPageSize

	if v := c.Query("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := c.Query("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= maxPageSize {
			pageSize = ps
		}
	}
	return pageSize, (page - 1) * pageSize
}

// writeAppError renders err with the status of its code.  Internal
// failures are masked.
func writeAppError(c *gin.Context, log logging.Logger, err error) {
	code := errors.GetCode(err)
	status := code.HTTPStatus()

	resp := ErrorResponse{Code: code.String(), Message: err.Error()}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.Detail = appErr.Detail
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			logging.String("path", c.FullPath()),
			logging.String("code", code.String()),
			logging.Err(err))
		resp = ErrorResponse{Code: code.String(), Message: "internal server error"}
	}
	c.AbortWithStatusJSON(status, resp)
}

func writeBadRequest(c *gin.Context, message, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Code:    errors.ErrCodeBadRequest.String(),
		Message: message,
		Detail:  detail,
	})
}
