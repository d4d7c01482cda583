package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
)

type Handler struct {
	directory Directory
	logger    *zap.Logger
}

func NewHandler(directory Directory, logger *zap.Logger) *Handler {
	return &Handler{directory: directory, logger: logger}
}

// Me returns the caller's principal and, when known, the directory record.
func (h *Handler) Me(c *gin.Context) {
	principal, ok := PrincipalFrom(c)
	if !ok {
		apperrors.Respond(c, h.logger, ErrMissingPrincipal)
		return
	}

	user, err := h.directory.GetUser(c.Request.Context(), principal.UserID)
	if err != nil {
		apperrors.Respond(c, h.logger, apperrors.Internal("auth.Me", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"principal": principal,
		"user":      user,
	})
}
