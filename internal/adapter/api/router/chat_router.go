package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
	"marketchat/internal/infrastructure/ratelimit"
)

// SetupChatRouter mounts room, message and offer routes. All require authentication.
func SetupChatRouter(
	e *echo.Echo,
	chatHandler *handler.ChatHandler,
	messageHandler *handler.MessageHandler,
	offerHandler *handler.OfferHandler,
	authMiddleware *middleware.AuthMiddleware,
	limiter *ratelimit.RateLimiter,
) {
	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	// Rooms
	chatGroup.POST("", chatHandler.CreateChat, middleware.RateLimit(limiter, ratelimit.ActionCreateRoom))
	chatGroup.GET("", chatHandler.GetUserChats)
	chatGroup.GET("/:id", chatHandler.GetChatByID)
	chatGroup.PUT("/:id/read", chatHandler.MarkChatAsRead)
	chatGroup.PUT("/:id/important", chatHandler.ToggleImportant)
	chatGroup.PUT("/:id/block", chatHandler.BlockUser)
	chatGroup.POST("/:id/report", chatHandler.ReportUser)
	chatGroup.POST("/:id/contact/request", chatHandler.RequestContact)
	chatGroup.POST("/:id/contact/share", chatHandler.ShareContact)

	// Messages
	chatGroup.GET("/:id/messages", messageHandler.GetChatMessages)
	chatGroup.POST("/:id/messages", messageHandler.SendMessage)
	chatGroup.POST("/:id/messages/image", messageHandler.UploadImage)
	chatGroup.PUT("/:id/messages/:messageId", messageHandler.EditMessage)

	// Offers
	chatGroup.GET("/:id/offers", offerHandler.GetOffers)
	chatGroup.POST("/:id/offers", offerHandler.CreateOffer)

	messageGroup := e.Group("/v1/messages")
	messageGroup.Use(authMiddleware.Authenticate)
	messageGroup.DELETE("/:messageId", messageHandler.DeleteMessage)

	offerGroup := e.Group("/v1/offers")
	offerGroup.Use(authMiddleware.Authenticate)
	offerGroup.POST("/:offerId/counter", offerHandler.CounterOffer)
	offerGroup.POST("/:offerId/accept", offerHandler.AcceptOffer)
	offerGroup.POST("/:offerId/reject", offerHandler.RejectOffer)
	offerGroup.POST("/:offerId/withdraw", offerHandler.WithdrawOffer)
}
