package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/SscSPs/mma_exchange/internal/apperrors"
	"github.com/SscSPs/mma_exchange/internal/core/domain"
	"github.com/gin-gonic/gin"
)

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, apperrors.ErrDateOutOfRange), errors.Is(err, domain.ErrMissingDate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrDataIntegrity):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &appErr) && appErr.Code != 0:
		return appErr.Code
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err at a level matching its status and writes the JSON error body.
// Server-side failures are reported with the generic message only.
func respondError(c *gin.Context, logger *slog.Logger, err error, msg string) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, slog.String("error", err.Error()), slog.Int("status", status))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	logger.Warn(msg, slog.String("error", err.Error()), slog.Int("status", status))
	c.JSON(status, gin.H{"error": err.Error()})
}
