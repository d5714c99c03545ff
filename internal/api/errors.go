package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/pkg/types"
)

var statusFor = []struct {
	err    error
	status int
}{
	{types.ErrAuthRequired, http.StatusUnauthorized},
	{types.ErrNotFound, http.StatusNotFound},
	{types.ErrOwnershipViolation, http.StatusForbidden},
	{types.ErrInvalidTransition, http.StatusConflict},
	{types.ErrMissingSnapshot, http.StatusConflict},
	{types.ErrThreadArchived, http.StatusConflict},
	{types.ErrChatLinked, http.StatusConflict},
	{types.ErrToolArgument, http.StatusBadRequest},
	{types.ErrInvalidData, http.StatusBadRequest},
	{types.ErrInvalidID, http.StatusBadRequest},
	{types.ErrInvalidFilter, http.StatusBadRequest},
	{types.ErrInvalidEntityType, http.StatusBadRequest},
	{types.ErrInvalidMessageRole, http.StatusBadRequest},
	{types.ErrProvider, http.StatusBadGateway},
	{types.ErrAllocationConflict, http.StatusServiceUnavailable},
}

// httpStatus maps a domain error to its response code.
func httpStatus(err error) int {
	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error body. Internal errors are logged and
// reported without detail.
func (s *Server) fail(c *gin.Context, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
