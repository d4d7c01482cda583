package auth

import "github.com/gin-gonic/gin"

// RegisterRoutes registers auth routes on an authenticated group.
func RegisterRoutes(rg *gin.RouterGroup, handler *Handler) {
	authGroup := rg.Group("/auth")
	{
		authGroup.GET("/me", handler.Me)
	}
}
