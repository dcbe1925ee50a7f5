package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorClass struct {
	sentinel error
	status   int
	reason   string
}

// Order matters: an upload error wrapping a validation error is a validation error.
var errorClasses = []errorClass{
	{gifts.ErrValidation, http.StatusBadRequest, "invalid_request"},
	{gifts.ErrNotFound, http.StatusNotFound, "not_found"},
	{gifts.ErrInvalidToken, http.StatusForbidden, "invalid_token"},
	{gifts.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
	{gifts.ErrContributionsClosed, http.StatusForbidden, "contributions_closed"},
	{gifts.ErrLocked, http.StatusConflict, "locked"},
	{gifts.ErrSetupNotRequired, http.StatusConflict, "setup_not_required"},
	{gifts.ErrDuplicate, http.StatusConflict, "duplicate"},
	{assets.ErrDisabled, http.StatusServiceUnavailable, "uploads_disabled"},
	{gifts.ErrUpload, http.StatusBadGateway, "upload_failed"},
	{gifts.ErrTransient, http.StatusServiceUnavailable, "unavailable"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "unavailable"},
}

func classifyError(err error) (int, string) {
	for _, class := range errorClasses {
		if errors.Is(err, class.sentinel) {
			return class.status, class.reason
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func errorCode(err error) string {
	var serviceErr *gifts.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

// writeError maps a domain error onto its status and the {"error","code"} body.
func (h *httpHandler) writeError(c *gin.Context, operation string, err error) {
	status, reason := classifyError(err)
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	switch {
	case status >= http.StatusInternalServerError:
		h.logger.Error("request failed", fields...)
	case status == http.StatusNotFound:
		h.logger.Debug("request rejected", fields...)
	default:
		h.logger.Warn("request rejected", fields...)
	}
	body := gin.H{"error": reason}
	if code := errorCode(err); code != "" {
		body["code"] = code
	}
	c.JSON(status, body)
}
