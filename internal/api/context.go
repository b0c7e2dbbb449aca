package api

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/serroba/online-diagrams/internal/apperr"
	"github.com/serroba/online-diagrams/internal/auth"
)

var errNoIdentity = fmt.Errorf("%w: no identity on request", apperr.ErrUnauthenticated)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// identity returns the caller set by the auth middleware.
func identity(c *gin.Context) (auth.Identity, error) {
	id, ok := auth.FromContext(c)
	if !ok || id.UserID == "" {
		return auth.Identity{}, errNoIdentity
	}

	return id, nil
}

// fail writes err as an ErrorResponse with the matching status.
func (s *Server) fail(c *gin.Context, err error) {
	if apperr.Code(err) == apperr.CodeInternal || errors.Is(err, apperr.ErrStoreUnavailable) {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), ErrorResponse{
		Error:     apperr.Code(err),
		Message:   apperr.Message(err),
		Retryable: apperr.Retryable(err),
	})
}

// bind decodes the JSON body, reporting malformed input as a validation error.
func bind(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return fmt.Errorf("%w: malformed request body", apperr.ErrValidation)
	}

	return nil
}
