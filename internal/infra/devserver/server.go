// Package devserver is the reference chat backend: the REST and websocket
// contract the sync client is written against, with in-memory storage. It
// exists for local development and integration tests; the production backend
// is an external collaborator.
package devserver

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatsync/internal/domain/chat"
	"chatsync/internal/infra/obs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local/dev only; the reference server is never exposed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server bundles the router with its hub and store so tests can reach in.
type Server struct {
	Engine *gin.Engine
	Hub    *Hub
	Store  *Store

	// Tokens maps bearer tokens to principal ids.
	Tokens map[string]int64

	maxUploadBytes int64
	logger         *slog.Logger
}

// Config defines reference-server settings.
type Config struct {
	Env            string
	Tokens         map[string]int64
	MaxUploadBytes int64
}

// New builds the server and starts the hub loop.
func New(cfg Config, logger *slog.Logger) *Server {
	if cfg.Env != "dev" && cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}

	s := &Server{
		Hub:            NewHub(obs.Component(logger, "hub")),
		Store:          NewStore(),
		Tokens:         cfg.Tokens,
		maxUploadBytes: maxUpload,
		logger:         logger,
	}
	go s.Hub.Run()

	router := gin.New()
	router.Use(gin.Recovery())
	obsMW := obs.Middleware{Logger: logger}
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	health := obs.HealthHandlers{}
	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	router.GET("/uploads/:name", s.serveUpload)

	api := router.Group("/api/v1")
	api.GET("/ws", s.serveWS)

	authed := api.Group("")
	authed.Use(s.authMiddleware())
	authed.GET("/conversations/:id/messages", s.listMessages)
	authed.POST("/conversations/:id/messages", s.sendMessage)
	authed.POST("/conversations/:id/media", s.sendMedia)
	authed.DELETE("/conversations/:id/messages/:mid", s.deleteMessage)
	authed.POST("/conversations/:id/read", s.markRead)

	s.Engine = router
	return s
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		userID, ok := s.Tokens[token]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func principalID(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}

func (s *Server) listMessages(c *gin.Context) {
	conversationID := c.Param("id")
	messages, ok := s.Store.List(conversationID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type sendRequest struct {
	Content string `json:"content" binding:"required"`
	Kind    string `json:"kind"`
}

func (s *Server) sendMessage(c *gin.Context) {
	conversationID := c.Param("id")
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": formatValidationErrors(fieldErrs)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sender := principalID(c)
	raw := s.Store.Append(conversationID, sender, req.Content, string(chat.ParseKind(req.Kind)), "")
	s.Hub.Broadcast(chat.Event{Type: chat.EventMessage, ConversationID: conversationID, UserID: sender, Message: &raw}, sender)
	c.JSON(http.StatusCreated, raw)
}

func (s *Server) sendMedia(c *gin.Context) {
	conversationID := c.Param("id")
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file part required"})
		return
	}
	if header.Size > s.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	kind := chat.ParseKind(c.PostForm("kind"))
	if kind == chat.KindText {
		c.JSON(http.StatusBadRequest, gin.H{"error": "media kind required"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file part"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file part"})
		return
	}

	objectName := uuid.NewString() + strings.ToLower(path.Ext(header.Filename))
	s.Store.SaveUpload(objectName, header.Header.Get("Content-Type"), data)

	sender := principalID(c)
	raw := s.Store.Append(conversationID, sender, header.Filename, string(kind), "/uploads/"+objectName)
	s.Hub.Broadcast(chat.Event{Type: chat.EventMessage, ConversationID: conversationID, UserID: sender, Message: &raw}, sender)
	c.JSON(http.StatusCreated, raw)
}

func (s *Server) deleteMessage(c *gin.Context) {
	conversationID := c.Param("id")
	messageID := c.Param("mid")
	if !s.Store.Delete(conversationID, messageID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required,min=1"`
}

func (s *Server) markRead(c *gin.Context) {
	conversationID := c.Param("id")
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": formatValidationErrors(fieldErrs)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reader := principalID(c)
	s.Hub.Broadcast(chat.Event{
		Type:           chat.EventReadReceipt,
		ConversationID: conversationID,
		UserID:         reader,
		MessageIDs:     req.MessageIDs,
	}, reader)
	c.JSON(http.StatusOK, gin.H{"marked": len(req.MessageIDs)})
}

func (s *Server) serveUpload(c *gin.Context) {
	contentType, data, ok := s.Store.Upload(c.Param("name"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}

// serveWS upgrades the realtime feed. Auth rides in the query because
// browser websocket clients cannot set headers.
func (s *Server) serveWS(c *gin.Context) {
	token := c.Query("token")
	userID, ok := s.Tokens[token]
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := &wsClient{
		hub:            s.Hub,
		conn:           conn,
		send:           make(chan []byte, 256),
		conversationID: conversationID,
		userID:         userID,
	}
	s.Hub.register <- client
	go client.writePump()
	go client.readPump()
}

type fieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func formatValidationErrors(errs validator.ValidationErrors) []fieldError {
	out := make([]fieldError, 0, len(errs))
	for _, fe := range errs {
		msg := "invalid value"
		switch fe.ActualTag() {
		case "required":
			msg = "this field is required"
		case "min":
			msg = "too few entries"
		}
		out = append(out, fieldError{Field: fe.Field(), Tag: fe.ActualTag(), Message: msg})
	}
	return out
}
