package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentcanvas/agentcanvas/pkg/models"
)

func (s *Server) createAgent(c *gin.Context) {
	var req models.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	agent, err := s.store.CreateAgent(c.Request.Context(), sessionID(c), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s.cache.InvalidateSession(sessionID(c))
	c.JSON(http.StatusCreated, agent)
}

func (s *Server) listAgents(c *gin.Context) {
	agents, err := s.store.ListAgents(c.Request.Context(), sessionID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (s *Server) getAgent(c *gin.Context) {
	agent, err := s.store.GetAgent(c.Request.Context(), sessionID(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) updateAgent(c *gin.Context) {
	var req models.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	agent, err := s.store.UpdateAgent(c.Request.Context(), sessionID(c), c.Param("id"), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s.cache.InvalidateSession(sessionID(c))
	c.JSON(http.StatusOK, agent)
}

func (s *Server) deleteAgent(c *gin.Context) {
	if err := s.store.DeleteAgent(c.Request.Context(), sessionID(c), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	s.cache.InvalidateSession(sessionID(c))
	c.Status(http.StatusNoContent)
}
