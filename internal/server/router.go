package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beaconworks/beacon/internal/events"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "beacon_user_id"
	defaultHeartbeatInterval = 10 * time.Second
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingIdentity       = errors.New("identity resolver dependency required")
	errMissingEventManager   = errors.New("event manager dependency required")
	errInvalidAuthorization  = errors.New("authorization missing or invalid")
)

// TokenValidator checks a service token and returns its subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// IdentityResolver maps a token subject to the canonical numeric user id.
type IdentityResolver interface {
	ResolveUserID(subject string) (int64, error)
}

// Dependencies wires the HTTP surface to its collaborators.
type Dependencies struct {
	TokenValidator TokenValidator
	Identity       IdentityResolver
	Events         *events.Manager
	Logger         *zap.Logger
	// HeartbeatInterval is the stream idle timeout before a heartbeat frame.
	// Defaults to 10 seconds.
	HeartbeatInterval time.Duration
}

// NewHTTPHandler constructs the gin router for the notification API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Identity == nil {
		return nil, errMissingIdentity
	}
	if deps.Events == nil {
		return nil, errMissingEventManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:            deps.TokenValidator,
		identity:          deps.Identity,
		events:            deps.Events,
		logger:            logger,
		heartbeatInterval: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/events", handler.handleCreateEvent)
	protected.GET("/events/stream", handler.handleEventStream)
	protected.POST("/events/:id/read", handler.handleMarkRead)
	protected.POST("/events/read-batch", handler.handleMarkReadBatch)

	return router, nil
}

type httpHandler struct {
	tokens            TokenValidator
	identity          IdentityResolver
	events            *events.Manager
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createEventPayload struct {
	EventType          string          `json:"event_type"`
	TargetUserID       int64           `json:"target_user_id"`
	Priority           string          `json:"priority"`
	ExpireAfterMinutes int             `json:"expire_after_minutes"`
	Payload            json.RawMessage `json:"payload"`
}

type createEventResponse struct {
	EventID      int64      `json:"event_id"`
	EventType    string     `json:"event_type"`
	TargetUserID int64      `json:"target_user_id"`
	Priority     string     `json:"priority"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (h *httpHandler) handleCreateEvent(c *gin.Context) {
	var request createEventPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.EventType) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.TargetUserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_target_user"})
		return
	}
	priority, err := events.ParsePriority(request.Priority)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_priority"})
		return
	}
	if request.ExpireAfterMinutes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_already_expired"})
		return
	}

	event, err := h.events.CreateEvent(c.Request.Context(), events.CreateRequest{
		EventType:    request.EventType,
		TargetUserID: request.TargetUserID,
		Priority:     priority,
		ExpireAfter:  time.Duration(request.ExpireAfterMinutes) * time.Minute,
		Payload:      request.Payload,
	})
	if err != nil {
		if errors.Is(err, events.ErrUnknownEventType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_event_type"})
			return
		}
		h.logger.Error("failed to create event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event_store_failed"})
		return
	}

	c.JSON(http.StatusCreated, createEventResponse{
		EventID:      event.ID,
		EventType:    event.EventType,
		TargetUserID: event.TargetUserID,
		Priority:     event.Priority.String(),
		CreatedAt:    event.CreatedAt,
		ExpiresAt:    event.ExpiresAt,
	})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	userID := c.GetInt64(userIDContextKey)
	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || eventID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event_id"})
		return
	}

	updated, err := h.events.MarkRead(c.Request.Context(), eventID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event_store_failed"})
		return
	}
	if !updated {
		c.JSON(http.StatusOK, gin.H{"status": "already_read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

type markReadBatchPayload struct {
	EventIDs []int64 `json:"event_ids"`
}

func (h *httpHandler) handleMarkReadBatch(c *gin.Context) {
	userID := c.GetInt64(userIDContextKey)

	var request markReadBatchPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.EventIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.events.MarkReadBatch(c.Request.Context(), request.EventIDs, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event_store_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// authorizeRequest accepts a bearer header or, for EventSource clients that
// cannot set headers, an access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.identity.ResolveUserID(subject)
	if err != nil {
		h.logger.Warn("identity resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}
