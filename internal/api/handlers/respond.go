package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LoveACE-Team/LoveACE/internal/portal"
)

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondUpstreamError maps portal-layer failures onto HTTP statuses. The
// session layer guarantees callers only ever see its error taxonomy, so the
// mapping here is exhaustive.
func respondUpstreamError(c *gin.Context, err error) {
	var exhausted *portal.RetriesExhaustedError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "portal request timed out"})
	case errors.Is(err, portal.ErrAuthenticationFailed):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "portal authentication failed; check stored credentials"})
	case errors.As(err, &exhausted):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "portal temporarily unreachable"})
	case errors.Is(err, portal.ErrProtocol):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "unexpected portal response"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
