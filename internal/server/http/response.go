package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/logging"
)

type apiErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeError(c *gin.Context, logger logging.Logger, status int, message string, err error) {
	logger = logging.OrNop(logger)
	if status >= http.StatusInternalServerError {
		logger.Error("HTTP %d - %s: %v", status, message, err)
	} else {
		logger.Warn("HTTP %d - %s: %v", status, message, err)
	}
	resp := apiErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		if kind := coreerrors.Kind(err); kind != "internal" {
			resp.Kind = kind
		}
	}
	c.AbortWithStatusJSON(status, resp)
}

// writeDomainError maps the negotiation error taxonomy to a status code.
func writeDomainError(c *gin.Context, logger logging.Logger, message string, err error) {
	writeError(c, logger, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coreerrors.ErrInvalidToken),
		errors.Is(err, coreerrors.ErrAuthorizationDenied),
		errors.Is(err, coreerrors.ErrMessageTypeNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, coreerrors.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, coreerrors.ErrSequenceRegression),
		errors.Is(err, coreerrors.ErrTranscriptExists):
		return http.StatusConflict
	case errors.Is(err, coreerrors.ErrChannelRevoked),
		errors.Is(err, coreerrors.ErrChannelExpired):
		return http.StatusGone
	case errors.Is(err, coreerrors.ErrBudgetExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, coreerrors.ErrPeerFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
