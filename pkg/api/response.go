package api

import (
	"errors"
	"net/http"

	"pixbridge/pkg/admin"

	"github.com/gin-gonic/gin"
)

// respondError sends a structured JSON error response
func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": gin.H{
			"message": message,
			"status":  code,
		},
	})
	c.Abort()
}

// respondAdminError maps control-plane errors onto HTTP statuses.
func respondAdminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, admin.ErrUnauthorized):
		respondError(c, http.StatusUnauthorized, err.Error())
	default:
		respondError(c, http.StatusBadRequest, err.Error())
	}
}
