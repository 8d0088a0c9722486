package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentcanvas/agentcanvas/pkg/store"
)

// abortWithError maps store-layer errors to HTTP error responses.
func abortWithError(c *gin.Context, err error) {
	var validErr *store.ValidationError
	switch {
	case errors.As(err, &validErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, store.ErrCrossSession):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "resource belongs to another session"})
	case errors.Is(err, store.ErrWouldCreateCycle):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "change would create a hierarchy cycle"})
	case errors.Is(err, store.ErrRunAlreadyStarted):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "run has already been started"})
	case errors.Is(err, store.ErrRunFinished):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "run already finished"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
