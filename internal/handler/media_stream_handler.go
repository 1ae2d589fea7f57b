package handler

import (
	"context"

	"ai-booking-caller-be/internal/media"
	"ai-booking-caller-be/internal/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// MediaStreamHandler upgrades the provider's media stream connection and
// hands it to the streaming session.
type MediaStreamHandler struct {
	media  *media.Handler
	logger logger.ILogger
}

func NewMediaStreamHandler(m *media.Handler, log logger.ILogger) *MediaStreamHandler {
	return &MediaStreamHandler{media: m, logger: log}
}

func (h *MediaStreamHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/media/:id", h.ServeWs)
}

func (h *MediaStreamHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	// A malformed id is left as Nil; the start event's callId parameter
	// is used instead.
	callID, _ := uuid.Parse(c.Params("id"))

	return websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()
		h.logger.Info("MediaStreamHandler", "Media stream connected", map[string]interface{}{"call_id": callID})
		h.media.Serve(context.Background(), callID, conn)
		h.logger.Info("MediaStreamHandler", "Media stream closed", map[string]interface{}{"call_id": callID})
	})(c)
}
