package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CatalogCacheTTL is how long fetched provider model catalogs stay fresh.
const CatalogCacheTTL = 10 * time.Minute

// server bundles the application dependencies behind the HTTP handlers.
type server struct {
	cfg      *Config
	store    *ConversationStore
	registry *MeetingRegistry
	gateway  ModelQuerier
	catalogs *CatalogCache
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := NewConversationStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open conversation store: %v", err)
	}

	gateway := NewGateway()
	s := &server{
		cfg:      cfg,
		store:    store,
		registry: NewMeetingRegistry(cfg, store, gateway),
		gateway:  gateway,
		catalogs: NewCatalogCache(CatalogCacheTTL),
	}

	// Finished meetings linger for a day so clients can re-fetch results.
	go func() {
		for range time.Tick(time.Hour) {
			s.registry.Cleanup(24 * time.Hour)
		}
	}()

	router := s.buildRouter()

	log.Printf("Starting LLM council backend on %s...", cfg.ListenAddr)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func (s *server) buildRouter() *gin.Engine {
	router := gin.Default()

	// Request size limit middleware
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		c.Next()
	})

	// CORS middleware with dynamic origin validation
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if len(s.cfg.CORSOrigins) > 0 {
				for _, allowed := range s.cfg.CORSOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			}
			// In development, allow any localhost/127.0.0.1 origin
			return strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.")
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	router.GET("/", s.healthCheck)

	router.GET("/api/conversations", s.listConversationsHandler)
	router.POST("/api/conversations", s.createConversationHandler)
	router.GET("/api/conversations/:id", s.getConversationHandler)
	router.DELETE("/api/conversations/:id", s.deleteConversationHandler)
	router.POST("/api/conversations/:id/message", s.sendMessageHandler)

	router.POST("/api/meetings", s.createMeetingHandler)
	router.GET("/api/meetings", s.listMeetingsHandler)
	router.GET("/api/meetings/:id", s.getMeetingHandler)
	router.GET("/api/meetings/:id/events", s.meetingEventsHandler)
	router.POST("/api/meetings/:id/cancel", s.cancelMeetingHandler)

	router.GET("/api/models", s.listModelsHandler)
	router.GET("/api/providers/:name/models", s.providerModelsHandler)
	router.POST("/api/providers/:name/test", s.testModelHandler)

	router.GET("/api/settings", s.getSettingsHandler)
	router.PUT("/api/settings", s.updateSettingsHandler)

	router.POST("/api/fetch-url", s.fetchURLHandler)

	return router
}

// healthCheck returns a simple health check response.
// GET / - Returns service status information.
func (s *server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "LLM Council API",
	})
}

// listConversationsHandler lists all conversations with metadata only.
// GET /api/conversations - Returns array of conversation metadata sorted by date.
func (s *server) listConversationsHandler(c *gin.Context) {
	conversations, err := s.store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to list conversations: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, conversations)
}

// createConversationHandler creates a new empty conversation.
// POST /api/conversations
func (s *server) createConversationHandler(c *gin.Context) {
	conversation, err := s.store.Create()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to create conversation: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// getConversationHandler gets a specific conversation by ID.
// GET /api/conversations/:id - Returns full conversation including all messages.
func (s *server) getConversationHandler(c *gin.Context) {
	conversation, err := s.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// deleteConversationHandler removes a conversation.
// DELETE /api/conversations/:id
func (s *server) deleteConversationHandler(c *gin.Context) {
	if err := s.store.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to delete conversation: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// sendMessageHandler runs the full four-stage council synchronously.
// POST /api/conversations/:id/message - Returns all stage results at once.
// Use the meetings API for the streaming version.
func (s *server) sendMessageHandler(c *gin.Context) {
	conversationID := c.Param("id")

	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	conversation, err := s.store.Get(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	contextBlob := buildContext(conversation.Messages, ContextTurns)
	isFirstMessage := len(conversation.Messages) == 0

	if _, err := s.store.AddUserMessage(conversationID, request.Content, request.Models, request.Attachments); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to add user message: %v", err),
		})
		return
	}

	council := NewCouncil(s.gateway, s.cfg.ModelConfigs(), s.cfg.Chairman(), s.cfg.Settings())

	ctx := c.Request.Context()
	stage1, stage2, stage3, stage4 := council.RunCouncil(ctx, request.Content, contextBlob, request.Attachments, request.Models)

	if _, err := s.store.AddAssistantMessage(conversationID, stage1, stage2, stage3, stage4); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to add assistant message: %v", err),
		})
		return
	}

	if isFirstMessage && stage3.Error == "" && stage3.Response != "" {
		go func() {
			title, err := council.GenerateTitle(context.Background(), request.Content, stage3.Response)
			if err != nil {
				log.Printf("Failed to generate title: %v", err)
				return
			}
			if err := s.store.UpdateTitle(conversationID, title); err != nil {
				log.Printf("Failed to save title: %v", err)
			}
		}()
	}

	c.JSON(http.StatusOK, SendMessageResponse{
		Stage1: stage1,
		Stage2: stage2,
		Stage3: stage3,
		Stage4: stage4,
	})
}

// createMeetingRequest is the body for starting a streamed council run.
type createMeetingRequest struct {
	ConversationID string       `json:"conversation_id"`
	Content        string       `json:"content" binding:"required"`
	Models         []string     `json:"models" binding:"required,min=1,max=20"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// createMeetingHandler persists the user message and starts a background
// meeting whose progress streams over /api/meetings/:id/events.
// POST /api/meetings - Creates the conversation too when no ID is given.
func (s *server) createMeetingHandler(c *gin.Context) {
	var request createMeetingRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	conversationID := request.ConversationID
	if conversationID == "" {
		conversation, err := s.store.Create()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": fmt.Sprintf("Failed to create conversation: %v", err),
			})
			return
		}
		conversationID = conversation.ID
	} else {
		conversation, err := s.store.Get(conversationID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": fmt.Sprintf("Failed to get conversation: %v", err),
			})
			return
		}
		if conversation == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
			return
		}
	}

	if _, err := s.store.AddUserMessage(conversationID, request.Content, request.Models, request.Attachments); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to add user message: %v", err),
		})
		return
	}

	meeting := s.registry.CreateMeeting(conversationID, request.Content, request.Attachments, request.Models)
	c.JSON(http.StatusOK, gin.H{
		"meeting_id":      meeting.ID,
		"conversation_id": conversationID,
	})
}

// listMeetingsHandler lists all known meetings, newest first.
// GET /api/meetings - Optional ?conversation= filters by conversation ID.
func (s *server) listMeetingsHandler(c *gin.Context) {
	views := s.registry.List()
	if conversationID := c.Query("conversation"); conversationID != "" {
		filtered := views[:0]
		for _, v := range views {
			if v.ConversationID == conversationID {
				filtered = append(filtered, v)
			}
		}
		views = filtered
	}
	c.JSON(http.StatusOK, views)
}

// getMeetingHandler returns a snapshot of one meeting.
// GET /api/meetings/:id
func (s *server) getMeetingHandler(c *gin.Context) {
	view, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// cancelMeetingHandler requests cancellation of a running meeting.
// POST /api/meetings/:id/cancel
func (s *server) cancelMeetingHandler(c *gin.Context) {
	if !s.registry.Cancel(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// meetingEventsHandler streams a meeting's progress as SSE. The first event
// is always a full snapshot; the stream ends after a complete or error event,
// with heartbeats keeping the connection alive in between.
// GET /api/meetings/:id/events
func (s *server) meetingEventsHandler(c *gin.Context) {
	meetingID := c.Param("id")

	events, ok := s.registry.Subscribe(meetingID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
		return
	}
	defer s.registry.Unsubscribe(meetingID, events)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case ev := <-events:
			sendSSEEvent(c, ev)
			if ev.Kind() == "complete" || ev.Kind() == "error" {
				return
			}
			// A terminal snapshot means the run finished before we
			// subscribed; there is nothing more to wait for.
			if snap, isSnap := ev.(SnapshotEvent); isSnap && snap.Meeting.Status.Terminal() {
				return
			}
		case <-heartbeat.C:
			sendSSEEvent(c, HeartbeatEvent{})
		case <-c.Request.Context().Done():
			return
		}
	}
}

// sendSSEEvent writes one event in the {"type","data"} envelope.
func sendSSEEvent(c *gin.Context, ev Event) {
	payload, err := json.Marshal(gin.H{"type": ev.Kind(), "data": ev})
	if err != nil {
		log.Printf("Failed to marshal SSE event: %v", err)
		return
	}
	c.Writer.WriteString(fmt.Sprintf("data: %s\n\n", payload))
	c.Writer.Flush()
}

// listModelsHandler returns every configured model identifier plus the
// chairman.
// GET /api/models
func (s *server) listModelsHandler(c *gin.Context) {
	configs := s.cfg.ModelConfigs()
	models := make([]string, 0, len(configs))
	for name := range configs {
		models = append(models, name)
	}
	c.JSON(http.StatusOK, gin.H{
		"models":   models,
		"chairman": s.cfg.Chairman(),
	})
}

// providerModelsHandler returns the live model catalog for one provider,
// served from cache unless ?refresh=true.
// GET /api/providers/:name/models
func (s *server) providerModelsHandler(c *gin.Context) {
	name := c.Param("name")
	provider, ok := s.cfg.Provider(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Provider not found"})
		return
	}

	forceRefresh := c.Query("refresh") == "true"
	if !forceRefresh {
		if models, ok := s.catalogs.Get(name); ok {
			fetchedAt, _ := s.catalogs.LastUpdated(name)
			c.JSON(http.StatusOK, gin.H{
				"models":       models,
				"cached":       true,
				"last_updated": fetchedAt,
			})
			return
		}
	}

	models, err := FetchProviderModels(c.Request.Context(), provider)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": fmt.Sprintf("Failed to fetch models: %v", err),
		})
		return
	}
	s.catalogs.Set(name, models)

	c.JSON(http.StatusOK, gin.H{
		"models":       models,
		"cached":       false,
		"last_updated": time.Now(),
	})
}

// testModelHandler sends a trivial prompt through a provider to verify the
// credential and model name.
// POST /api/providers/:name/test - Body: {"model": "..."}
func (s *server) testModelHandler(c *gin.Context) {
	provider, ok := s.cfg.Provider(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Provider not found"})
		return
	}

	var request struct {
		Model string `json:"model" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	result := TestModel(c.Request.Context(), s.gateway, provider, request.Model)
	if result.Error != "" {
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "response": result.Response})
}

// getSettingsHandler returns the pipeline tunables.
// GET /api/settings
func (s *server) getSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Settings())
}

// updateSettingsHandler replaces and persists the pipeline tunables.
// PUT /api/settings
func (s *server) updateSettingsHandler(c *gin.Context) {
	var settings Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}
	if settings.Timeout <= 0 || settings.MaxRetries < 1 || settings.MaxConcurrent < 1 ||
		settings.Temperature < 0 || settings.Temperature > 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Settings out of range"})
		return
	}
	if err := s.cfg.UpdateSettings(settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to save settings: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// fetchURLHandler fetches and extracts readable content from a URL.
// POST /api/fetch-url - Body: {"url": "https://..."}
func (s *server) fetchURLHandler(c *gin.Context) {
	var request struct {
		URL string `json:"url" binding:"required,url"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	title, content, err := FetchURLContent(c.Request.Context(), request.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to fetch URL content: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"title":   title,
		"content": content,
	})
}
