package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aristath/mofagent/internal/engine"
	"github.com/aristath/mofagent/internal/events"
	"github.com/aristath/mofagent/internal/persistence"
	"github.com/aristath/mofagent/internal/task"
)

// statusResponse is the body of GET /agent/status/:task_id.
type statusResponse struct {
	TaskID       string               `json:"task_id"`
	Status       string               `json:"status"`
	Details      string               `json:"details,omitempty"`
	Error        string               `json:"error,omitempty"`
	LLMPlan      json.RawMessage      `json:"llm_plan"`
	ExecutionLog *engine.ExecutionLog `json:"execution_log"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "MOF agent is running."})
}

func (s *Server) handleExecute(c *gin.Context) {
	query := c.PostForm("query")

	var headers []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil {
		headers = form.File["files"]
	}
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "At least one file must be uploaded."})
		return
	}

	files := make([]task.InputFile, 0, len(headers))
	var closers []io.Closer
	defer func() {
		for _, cl := range closers {
			cl.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Could not read upload " + fh.Filename})
			return
		}
		closers = append(closers, f)
		files = append(files, task.InputFile{Name: fh.Filename, Content: f})
	}

	id, err := s.svc.Submit(c.Request.Context(), query, files)
	switch {
	case errors.Is(err, task.ErrInvalidSubmission):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	case errors.Is(err, task.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
		return
	case err != nil:
		s.logger.Error("task submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to start task."})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Task accepted and is being processed in the background.",
		"task_id": id,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	id := c.Param("task_id")

	rec, err := s.svc.GetStatus(c.Request.Context(), id)
	if errors.Is(err, persistence.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Task not found."})
		return
	}
	if err != nil {
		s.logger.Error("status lookup failed", "task_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read task status."})
		return
	}

	resp := statusResponse{
		TaskID:       id,
		Status:       "unknown",
		LLMPlan:      rec.Plan,
		ExecutionLog: rec.Log,
	}
	if rec.Status != nil {
		resp.Status = string(rec.Status.State)
		resp.Details = rec.Status.Details
		resp.Error = rec.Status.Error
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleList(c *gin.Context) {
	statuses, err := s.svc.List(c.Request.Context())
	if err != nil {
		s.logger.Error("task listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to list tasks."})
		return
	}
	if statuses == nil {
		statuses = []persistence.Status{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": statuses})
}

func (s *Server) handleTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.cfg.Tools})
}

// handleEvents streams one task's events as server-sent events. The stream
// ends when the task reaches a terminal phase or the client goes away.
func (s *Server) handleEvents(c *gin.Context) {
	id := c.Param("task_id")

	ch := s.cfg.Bus.SubscribeAll(64)
	defer s.cfg.Bus.Unsubscribe(ch)

	rec, err := s.svc.GetStatus(c.Request.Context(), id)
	if errors.Is(err, persistence.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Task not found."})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read task status."})
		return
	}
	if rec.Status != nil && rec.Status.State.Terminal() {
		c.SSEvent(events.EventTypeTaskPhase, events.TaskPhaseEvent{
			ID:        id,
			Phase:     string(rec.Status.State),
			Details:   rec.Status.Details,
			Err:       rec.Status.Error,
			Timestamp: rec.Status.UpdatedAt,
		})
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case e, ok := <-ch:
			if !ok {
				return false
			}
			if e.TaskID() != id {
				return true
			}
			c.SSEvent(e.EventType(), e)
			if pe, isPhase := e.(events.TaskPhaseEvent); isPhase {
				return !persistence.State(pe.Phase).Terminal()
			}
			return true
		}
	})
}
