package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
)

func SetupAdminRouter(e *echo.Echo, adminHandler *handler.AdminHandler, authMiddleware *middleware.AuthMiddleware) {
	adminGroup := e.Group("/v1/admin")
	adminGroup.Use(authMiddleware.Authenticate)
	adminGroup.Use(middleware.AdminOnly)

	adminGroup.DELETE("/chats/:id", adminHandler.DeleteChat)
	adminGroup.DELETE("/messages/:messageId", adminHandler.HardDeleteMessage)
	adminGroup.POST("/offers/expire", adminHandler.ExpireOffers)
}
