// Package transport exposes the engine over HTTP: chat with SSE
// streaming, device registration, tool result resolution, and the job
// endpoints.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tweenson/artificer/auth"
	"github.com/tweenson/artificer/dispatch"
	"github.com/tweenson/artificer/engine"
	"github.com/tweenson/artificer/observability"
	"github.com/tweenson/artificer/pipeline"
	"github.com/tweenson/artificer/router"
	"github.com/tweenson/artificer/session"
	"github.com/tweenson/artificer/store"
)

// Observability event types emitted by the transport.
const (
	EventStreamOpened  observability.EventType = "transport.stream_opened"
	EventStreamClosed  observability.EventType = "transport.stream_closed"
	EventPipelineError observability.EventType = "transport.pipeline_error"
)

// Server serves the HTTP API.
type Server struct {
	engine   *engine.Engine
	auth     auth.Authenticator
	observer observability.Observer
}

// Option configures a Server.
type Option func(*Server)

// WithObserver sets the server's observer.
func WithObserver(o observability.Observer) Option {
	return func(s *Server) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewServer creates a Server over the engine and authenticator.
func NewServer(e *engine.Engine, a auth.Authenticator, opts ...Option) *Server {
	s := &Server{
		engine:   e,
		auth:     a,
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin handler tree.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/devices/register", s.handleRegister)
	r.POST("/chat", s.handleChat)
	r.POST("/chat/cancel", s.handleCancel)
	r.POST("/tools/result", s.handleToolResult)
	r.GET("/conversations", s.handleConversations)
	r.POST("/jobs/summarization", s.jobHandler(pipeline.TaskSummarization))
	r.POST("/jobs/memory", s.jobHandler(pipeline.TaskMemoryExtraction))
	r.POST("/jobs/translation", s.jobHandler(pipeline.TaskTranslation))
	r.POST("/jobs/extraction", s.jobHandler(pipeline.TaskExtraction))
	r.GET("/jobs/:id", s.handleJobStatus)
	return r
}

// Run serves the API until the listener fails.
func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

type registerRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := s.engine.Store().RegisterDevice(c.Request.Context(), req.Name, uuid.NewString(), uuid.NewString())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device_id":  device.ID,
		"device_key": device.Key,
	})
}

// credentials is the auth envelope embedded in every authenticated body.
type credentials struct {
	DeviceID  string `json:"device_id" binding:"required"`
	DeviceKey string `json:"device_key" binding:"required"`
}

func (s *Server) authenticate(c *gin.Context, creds credentials) (auth.Identity, bool) {
	identity, err := s.auth.Authenticate(c.Request.Context(), creds.DeviceID, creds.DeviceKey)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.Identity{}, false
	}
	return identity, true
}

type chatRequest struct {
	credentials
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message" binding:"required"`
	Stream         bool   `json:"stream"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	identity, ok := s.authenticate(c, req.credentials)
	if !ok {
		return
	}

	if req.Stream {
		s.streamChat(c, identity, req)
		return
	}

	conv, content, err := s.engine.HandleMessage(c.Request.Context(), identity.DeviceID, req.ConversationID, req.Message)
	if err != nil {
		c.JSON(chatStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conv,
		"content":         content,
	})
}

// streamChat relays the conversation's event stream as SSE while the
// pipeline runs. A dropped connection leaves the pipeline running with
// the session marked disconnected; forwarded tool calls then time out.
func (s *Server) streamChat(c *gin.Context, identity auth.Identity, req chatRequest) {
	ctx := c.Request.Context()
	conv, err := s.engine.EnsureConversation(ctx, identity.DeviceID, req.ConversationID)
	if err != nil {
		c.JSON(chatStatus(err), gin.H{"error": err.Error()})
		return
	}

	ch := s.engine.Subscribe(conv)
	s.engine.SetConnected(conv, true)
	defer func() {
		s.engine.SetConnected(conv, false)
		s.engine.Unsubscribe(conv)
	}()

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventStreamOpened,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "transport.Server",
		Data:      map[string]any{"conversation": conv},
	})

	// The pipeline outlives the HTTP request on client drop; its outcome
	// reaches this handler through the event stream.
	go func() {
		if _, _, err := s.engine.HandleMessage(context.Background(), identity.DeviceID, conv, req.Message); err != nil {
			if errors.Is(err, session.ErrPipelineActive) {
				return
			}
			s.observer.OnEvent(context.Background(), observability.Event{
				Type:      EventPipelineError,
				Level:     observability.LevelError,
				Timestamp: time.Now(),
				Source:    "transport.Server",
				Data:      map[string]any{"conversation": conv, "error": err.Error()},
			})
		}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return !ev.Terminal()
		case <-ctx.Done():
			return false
		}
	})

	s.observer.OnEvent(context.Background(), observability.Event{
		Type:      EventStreamClosed,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "transport.Server",
		Data:      map[string]any{"conversation": conv},
	})
}

type cancelRequest struct {
	credentials
	ConversationID int64 `json:"conversation_id" binding:"required"`
}

func (s *Server) handleCancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := s.authenticate(c, req.credentials); !ok {
		return
	}
	s.engine.Cancel(req.ConversationID)
	c.JSON(http.StatusAccepted, gin.H{"cancelled": req.ConversationID})
}

type toolResultRequest struct {
	credentials
	CorrelationID string `json:"correlation_id" binding:"required"`
	Value         string `json:"value"`
	Error         string `json:"error"`
}

func (s *Server) handleToolResult(c *gin.Context) {
	var req toolResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := s.authenticate(c, req.credentials); !ok {
		return
	}

	accepted := s.engine.ResolveToolResult(dispatch.ClientResult{
		CorrelationID: req.CorrelationID,
		Value:         req.Value,
		Error:         req.Error,
	})
	if !accepted {
		c.JSON(http.StatusGone, gin.H{"error": "no pending invocation"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"resolved": req.CorrelationID})
}

func (s *Server) handleConversations(c *gin.Context) {
	creds := credentials{
		DeviceID:  c.Query("device_id"),
		DeviceKey: c.GetHeader("X-Device-Key"),
	}
	identity, ok := s.authenticate(c, creds)
	if !ok {
		return
	}

	conversations, err := s.engine.Store().Conversations(c.Request.Context(), identity.DeviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(conversations))
	for _, conv := range conversations {
		out = append(out, gin.H{
			"id":         conv.ID,
			"title":      conv.Title,
			"summary":    conv.Summary,
			"updated_at": conv.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

type jobRequest struct {
	credentials
	ConversationID int64  `json:"conversation_id" binding:"required"`
	Payload        string `json:"payload"`
}

// jobHandler enqueues a background job for a conversation the caller
// owns. The optional payload is the job's input text; payload tasks like
// translation require one.
func (s *Server) jobHandler(task pipeline.TaskType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req jobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		identity, ok := s.authenticate(c, req.credentials)
		if !ok {
			return
		}
		if (task == pipeline.TaskTranslation || task == pipeline.TaskExtraction) && strings.TrimSpace(req.Payload) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload is required"})
			return
		}

		ctx := c.Request.Context()
		if _, err := s.engine.EnsureConversation(ctx, identity.DeviceID, req.ConversationID); err != nil {
			c.JSON(chatStatus(err), gin.H{"error": err.Error()})
			return
		}

		id, err := s.engine.Store().EnqueueJob(ctx, string(task), req.ConversationID, req.Payload, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": id})
	}
}

// handleJobStatus reports a job's status and result to the device owning
// its conversation.
func (s *Server) handleJobStatus(c *gin.Context) {
	creds := credentials{
		DeviceID:  c.Query("device_id"),
		DeviceKey: c.GetHeader("X-Device-Key"),
	}
	identity, ok := s.authenticate(c, creds)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	ctx := c.Request.Context()
	job, err := s.engine.Store().JobByID(ctx, id)
	if err != nil {
		c.JSON(chatStatus(err), gin.H{"error": err.Error()})
		return
	}
	conv, err := s.engine.Store().ConversationByID(ctx, job.ConversationID)
	if err != nil || conv.DeviceID != identity.DeviceID {
		c.JSON(http.StatusNotFound, gin.H{"error": store.ErrNotFound.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":     job.ID,
		"task":       job.Task,
		"status":     job.Status,
		"result":     job.Result,
		"attempts":   job.Attempts,
		"last_error": job.LastError,
	})
}

// chatStatus maps engine errors to HTTP statuses.
func chatStatus(err error) int {
	switch {
	case errors.Is(err, router.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrPipelineActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
