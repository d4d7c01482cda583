package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
)

const principalKey = "auth.principal"

// RequireAuth resolves the bearer token into a Principal. Browsers cannot set
// headers on websocket upgrades, so access_token is accepted as a fallback.
func RequireAuth(verifier *TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			apperrors.Respond(c, logger, ErrMissingToken)
			return
		}

		principal, err := verifier.Verify(raw)
		if err != nil {
			logger.Debug("Rejected bearer token", zap.String("path", c.Request.URL.Path), zap.Error(err))
			apperrors.Respond(c, logger, ErrInvalidToken)
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// PrincipalFrom returns the caller stored by RequireAuth.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// WithPrincipal stores p on the context, as RequireAuth does.
func WithPrincipal(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return c.Query("access_token")
}
