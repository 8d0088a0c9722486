package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/agentcanvas/agentcanvas/pkg/models"
)

// keepaliveInterval is how long the SSE stream may stay idle before a
// comment frame is written to keep proxies from closing it.
const keepaliveInterval = 20 * time.Second

// llmKeyHeader optionally carries a per-request Gemini key. Never logged.
const llmKeyHeader = "X-LLM-Key"

func (s *Server) createRun(c *gin.Context) {
	var req models.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	created, err := s.store.CreateRun(c.Request.Context(), sessionID(c), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listRuns(c *gin.Context) {
	runs, err := s.store.ListRuns(c.Request.Context(), sessionID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	found, err := s.store.GetRun(c.Request.Context(), sessionID(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// streamRun starts the run and streams its events as SSE frames. The
// producer is detached from the request: on client disconnect the handler
// keeps draining so execution and persistence finish normally.
func (s *Server) streamRun(c *gin.Context) {
	runID := c.Param("id")
	apiKey := c.GetHeader(llmKeyHeader)
	if apiKey == "" {
		apiKey = s.cfg.DefaultAPIKey
	}

	events, err := s.coord.StartRun(c.Request.Context(), sessionID(c), runID, apiKey)
	if err != nil {
		abortWithError(c, err)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	connected := true
	if err := sse.Encode(c.Writer, sse.Event{Event: "connected", Data: gin.H{"run_id": runID}}); err != nil {
		connected = false
	}
	c.Writer.Flush()

	gone := c.Request.Context().Done()
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !connected {
				continue
			}
			if err := sse.Encode(c.Writer, sse.Event{Event: string(ev.Type), Data: ev}); err != nil {
				connected = false
				continue
			}
			c.Writer.Flush()
			keepalive.Reset(keepaliveInterval)
		case <-gone:
			// Client went away; keep draining so the run finishes.
			connected = false
			gone = nil
		case <-keepalive.C:
			if !connected {
				continue
			}
			if _, err := c.Writer.Write([]byte(": keepalive\n\n")); err != nil {
				connected = false
				continue
			}
			c.Writer.Flush()
		}
	}
}

// cancelRun requests cancellation of an active run.
func (s *Server) cancelRun(c *gin.Context) {
	runID := c.Param("id")
	if _, err := s.store.GetRun(c.Request.Context(), sessionID(c), runID); err != nil {
		abortWithError(c, err)
		return
	}
	if !s.coord.Cancel(runID) {
		c.JSON(http.StatusConflict, gin.H{"error": "run is not executing"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "cancelling"})
}
