package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
)

// respondError maps a sentinel from internal/apperr to the HTTP status code
// spec §7/§6 assign it, falling back to 500 for anything unrecognized rather
// than leaking internal error text to the client.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrInvalidContext), errors.Is(err, apperr.ErrUnsupportedFormat):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrCannotSubmit), errors.Is(err, apperr.ErrCorruptDocument), errors.Is(err, apperr.ErrExtractionFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrModelUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
