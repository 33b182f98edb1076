package api

import (
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/agentworkbench/workbench/pkg/events"
	"github.com/agentworkbench/workbench/pkg/models"
)

// taskEventsHandler handles GET /api/tasks/:id/events.
//
// `after` is the seq cursor from a previous response; events come back in
// ascending seq order. `tail=true` returns the latest N instead.
func (s *Server) taskEventsHandler(c *gin.Context) {
	after, _ := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if after < 0 {
		after = 0
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit < 1 {
		limit = 1
	}
	if limit > 2000 {
		limit = 2000
	}
	tail := c.Query("tail") == "true" || c.Query("tail") == "1"

	rows, err := s.deps.Events.ListEvents(c.Request.Context(), c.Param("id"), after, limit, tail)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if rows == nil {
		rows = []models.Event{}
	}
	c.JSON(http.StatusOK, rows)
}

// globalEventsHandler handles GET /api/events: a Server-Sent-Events stream
// of every live event. SSE has no catchup; clients that need replay use the
// per-task events endpoint or the WebSocket catchup protocol.
func (s *Server) globalEventsHandler(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// Initial comment so intermediaries commit to the stream.
	if _, err := c.Writer.WriteString(": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	sub := s.deps.Bus.Subscribe()
	defer s.deps.Bus.Unsubscribe(sub)

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-sub:
			if !open {
				return
			}
			if _, err := c.Writer.Write(events.FormatSSE(evt)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// websocketHandler handles GET /api/ws: upgrades and hands the connection
// to the ConnectionManager, which owns subscribe/catchup/ping.
func (s *Server) websocketHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local UI; origin enforcement is the admin token
	})
	if err != nil {
		return
	}
	s.deps.ConnManager.HandleConnection(c.Request.Context(), conn)
}
