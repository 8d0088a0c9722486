package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentcanvas/agentcanvas/pkg/models"
)

func (s *Server) createLink(c *gin.Context) {
	var req models.CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	link, err := s.store.CreateLink(c.Request.Context(), sessionID(c), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s.cache.InvalidateSession(sessionID(c))
	c.JSON(http.StatusCreated, link)
}

func (s *Server) listLinks(c *gin.Context) {
	links, err := s.store.ListLinks(c.Request.Context(), sessionID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"links": links})
}

func (s *Server) deleteLink(c *gin.Context) {
	if err := s.store.DeleteLink(c.Request.Context(), sessionID(c), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	s.cache.InvalidateSession(sessionID(c))
	c.Status(http.StatusNoContent)
}
