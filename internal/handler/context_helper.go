package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ise-timetable-api/internal/middleware"
	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// actorID returns the authenticated user id, or "" on routes reached without claims.
func actorID(c *gin.Context) string {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return ""
	}
	if claims, ok := value.(*models.JWTClaims); ok && claims != nil {
		return claims.UserID
	}
	return ""
}
