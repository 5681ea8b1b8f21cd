package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
	"marketchat/internal/infrastructure/ratelimit"
)

// Handlers groups everything the routers mount.
type Handlers struct {
	Chat      *handler.ChatHandler
	Message   *handler.MessageHandler
	Offer     *handler.OfferHandler
	Admin     *handler.AdminHandler
	WebSocket *handler.WebSocketHandler
	Health    *handler.HealthHandler
}

func Setup(e *echo.Echo, h Handlers, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	SetupChatRouter(e, h.Chat, h.Message, h.Offer, authMiddleware, limiter)
	SetupAdminRouter(e, h.Admin, authMiddleware)
	SetupWebSocketRouter(e, h.WebSocket)
	SetupHealthRouter(e, h.Health)
}
