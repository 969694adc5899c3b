package http

import (
	"net/http"
	"strings"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/infrastructure/relay"
	"texstream/pkg/errors"
	"texstream/pkg/validation"

	"github.com/gin-gonic/gin"
)

type RoomLister interface {
	Rooms() []relay.RoomInfo
	Connections() int
}

type TokenIssuer interface {
	GenerateToken(room domain.RoomID, name string) (string, error)
}

// RelayHandler is the relay's admin API. Mount it behind auth.
type RelayHandler struct {
	rooms  RoomLister
	tokens TokenIssuer
	ttl    time.Duration
}

func NewRelayHandler(rooms RoomLister, tokens TokenIssuer, ttl time.Duration) *RelayHandler {
	return &RelayHandler{
		rooms:  rooms,
		tokens: tokens,
		ttl:    ttl,
	}
}

func (h *RelayHandler) SetupRoutes(router gin.IRouter, middlewares ...gin.HandlerFunc) {
	api := router.Group("/api/v1", middlewares...)
	{
		api.GET("/rooms", h.ListRooms)
		api.POST("/tokens", h.IssueToken)
	}
}

func (h *RelayHandler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rooms":       h.rooms.Rooms(),
		"connections": h.rooms.Connections(),
	})
}

type IssueTokenRequest struct {
	Room string `json:"room" binding:"required,max=64"`
	Name string `json:"name" binding:"required,max=64"`
}

// IssueToken mints a join token for one room. Only holders of an any-room
// token may mint, and a room-scoped caller may mint only for its own room.
func (h *RelayHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Room = strings.TrimSpace(req.Room)
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.ValidateRoom(req.Room); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateParticipantName(req.Name); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if v, ok := c.Get("claims"); ok {
		if claims, ok := v.(*relay.Claims); ok && !claims.Allows(domain.RoomID(req.Room)) {
			_ = c.Error(errors.NewUnauthorizedError("token not valid for this room"))
			return
		}
	}

	token, err := h.tokens.GenerateToken(domain.RoomID(req.Room), req.Name)
	if err != nil {
		_ = c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":      token,
		"room":       req.Room,
		"name":       req.Name,
		"expires_in": int(h.ttl / time.Second),
	})
}
