// Package api serves the room directory and message history over HTTP.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/auth"
	"github.com/vovakirdan/pairchat/internal/log"
	"github.com/vovakirdan/pairchat/internal/store"
	"github.com/vovakirdan/pairchat/pairchat/rest"
)

// userKey holds the user a JWT was issued to.
const userKey = "auth_user"

type Handler struct {
	store store.Store
	auth  *auth.Authenticator
}

// NewHandler serves s. A nil or disabled authenticator leaves the api open.
func NewHandler(s store.Store, a *auth.Authenticator) *Handler {
	return &Handler{store: s, auth: a}
}

// NewRouter builds a gin engine with request logging, recovery and the
// handler's routes.
func NewRouter(h *Handler, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), log.GinMiddleware(logger))
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api", h.authenticate)
	{
		api.GET("/messages/:roomId", h.GetMessages)
		api.POST("/messages", h.PostMessage)

		api.GET("/rooms", h.ListRooms)
		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms/:id", h.GetRoom)
		api.GET("/rooms/find/:first/:second", h.FindRoom)
	}

	r.GET("/health", h.HealthCheck)
}

func (h *Handler) authenticate(c *gin.Context) {
	if !h.auth.Enabled() {
		return
	}
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		token = ""
	}
	user, err := h.auth.Verify(token)
	if err != nil {
		abort(c, http.StatusUnauthorized, err.Error())
		return
	}
	if user != "" {
		c.Set(userKey, user)
	}
}

// actingAs rejects requests made on behalf of someone other than the token
// holder. Shared tokens are not bound to a user and pass.
func (h *Handler) actingAs(c *gin.Context, user string) bool {
	if holder := c.GetString(userKey); holder != "" && holder != user {
		abort(c, http.StatusForbidden, auth.ErrWrongSubject.Error())
		return false
	}
	return true
}

func (h *Handler) GetMessages(c *gin.Context) {
	msgs, err := h.store.ListMessages(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]rest.MessageRecord, len(msgs))
	for i, m := range msgs {
		out[i] = messageRecord(m)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) PostMessage(c *gin.Context) {
	var req rest.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ChatRoomID == "" || req.Sender == "" || strings.TrimSpace(req.Message) == "" {
		abort(c, http.StatusBadRequest, "chatRoomId, sender and message are required")
		return
	}
	if !h.actingAs(c, req.Sender) {
		return
	}

	m, err := h.store.AppendMessage(c.Request.Context(), req.ChatRoomID, req.Sender, req.Message, req.ClientID)
	if err != nil {
		h.fail(c, err)
		return
	}
	logger := log.Ctx(c.Request.Context())
	logger.Debug().
		Str(log.FieldRoomID, m.RoomID).
		Str(log.FieldUserID, m.Sender).
		Str("message_id", m.ID).
		Msg("message stored")
	c.JSON(http.StatusCreated, messageRecord(m))
}

func (h *Handler) ListRooms(c *gin.Context) {
	user := c.Query("userId")
	if user == "" {
		abort(c, http.StatusBadRequest, "userId is required")
		return
	}
	rooms, err := h.store.ListRooms(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]rest.RoomRecord, len(rooms))
	for i, r := range rooms {
		out[i] = roomRecord(r)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req rest.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "malformed request body")
		return
	}
	if !h.actingAs(c, req.SenderID) {
		return
	}
	r, err := h.store.CreateRoom(c.Request.Context(), req.SenderID, req.ReceiverID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roomRecord(r))
}

func (h *Handler) GetRoom(c *gin.Context) {
	r, err := h.store.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roomRecord(r))
}

func (h *Handler) FindRoom(c *gin.Context) {
	r, err := h.store.FindRoom(c.Request.Context(), c.Param("first"), c.Param("second"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roomRecord(r))
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail maps store errors onto status codes. Anything unexpected is logged
// and reported as 500 without detail.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalid):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotMember):
		abort(c, http.StatusForbidden, err.Error())
	default:
		_ = c.Error(err)
		logger := log.Ctx(c.Request.Context())
		logger.Error().Err(err).Msg("store failure")
		abort(c, http.StatusInternalServerError, "internal error")
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, rest.ErrorResponse{Error: msg})
}

func roomRecord(r store.Room) rest.RoomRecord {
	return rest.RoomRecord{ID: r.ID, Members: r.Members, CreatedAt: r.CreatedAt}
}

func messageRecord(m store.Message) rest.MessageRecord {
	return rest.MessageRecord{
		ID:         m.ID,
		ChatRoomID: m.RoomID,
		Sender:     m.Sender,
		Message:    m.Body,
		ClientID:   m.ClientID,
		CreatedAt:  m.CreatedAt,
	}
}
