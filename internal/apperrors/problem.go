package apperrors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moogar0880/problems"
	"go.uber.org/zap"
)

const problemContentType = "application/problem+json"

// StatusOf maps an error kind to its HTTP status.
func StatusOf(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindState:
		return http.StatusUnprocessableEntity
	case KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as an RFC 7807 problem document. Internal causes are
// logged, never returned to the client.
func Respond(c *gin.Context, logger *zap.Logger, err error) {
	status := StatusOf(err)
	kind := KindOf(err)

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Request.URL.Path).
		WithType(kind.String())

	switch kind {
	case KindInternal, KindDependency:
		if logger != nil {
			logger.Error("request failed",
				zap.String("path", c.Request.URL.Path),
				zap.String("kind", kind.String()),
				zap.Error(err))
		}
		if kind == KindDependency {
			problem = problem.WithDetail("an upstream dependency failed")
		}
	default:
		problem = problem.WithDetail(Message(err))
	}

	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(status, problem)
}

// BadRequest reports a malformed request before it reaches the service layer.
func BadRequest(c *gin.Context, detail string) {
	problem := problems.NewStatusProblem(http.StatusBadRequest).
		WithInstance(c.Request.URL.Path).
		WithType(KindValidation.String()).
		WithDetail(detail)

	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(http.StatusBadRequest, problem)
}
