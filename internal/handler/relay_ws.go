package handler

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"realtime-canvas/internal/relay"
)

// RelayWSHandler 보드 릴레이 WebSocket 핸들러
type RelayWSHandler struct {
	ctx context.Context
	hub *relay.Hub
	log *zap.Logger
}

// NewRelayWSHandler RelayWSHandler 생성. ctx가 끝나면 열린 연결도 모두 닫힌다
func NewRelayWSHandler(ctx context.Context, hub *relay.Hub, log *zap.Logger) *RelayWSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RelayWSHandler{ctx: ctx, hub: hub, log: log.Named("relay-ws")}
}

// Upgrade 업그레이드 요청 확인 (AuthMiddleware 다음에 위치)
func (h *RelayWSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	userID, _ := c.Locals("userID").(string)
	if userID == "" {
		// WebSocket은 JSON 응답 대신 연결 거부
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	if c.Params("boardId") == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	return c.Next()
}

// HandleWebSocket 연결 하나를 허브에 넘긴다
func (h *RelayWSHandler) HandleWebSocket(c *websocket.Conn) {
	userID, _ := c.Locals("userID").(string)
	board := c.Params("boardId")

	if err := h.hub.Serve(h.ctx, c, board, userID); err != nil {
		h.log.Warn("relay connection rejected",
			zap.String("board", board),
			zap.String("user", userID),
			zap.Error(err),
		)
	}
}

// Online 보드에 릴레이로 접속 중인 사용자 목록
func (h *RelayWSHandler) Online(c *fiber.Ctx) error {
	board := c.Params("boardId")
	users := h.hub.Users(board)
	if users == nil {
		users = []string{}
	}
	return c.JSON(fiber.Map{
		"board":       board,
		"users":       users,
		"connections": h.hub.ConnectedCount(board),
	})
}
