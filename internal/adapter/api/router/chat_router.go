package router

import (
	"github.com/labstack/echo/v4"

	"jobchat/internal/adapter/api/handler"
	"jobchat/internal/adapter/api/middleware"
)

// SetupChatRouter sets up all chat-related routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, fileHandler *handler.FileHandler, authMiddleware *middleware.AuthMiddleware) {
	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	// Chat management
	chatGroup.POST("", chatHandler.CreateChat)             // POST /v1/chats - Create or reuse a direct chat
	chatGroup.GET("", chatHandler.GetUserChats)            // GET /v1/chats - Chats by recent activity
	chatGroup.GET("/:id", chatHandler.GetChatByID)         // GET /v1/chats/:id
	chatGroup.DELETE("/:id", chatHandler.DeactivateChat)   // DELETE /v1/chats/:id - Deactivate
	chatGroup.PUT("/:id/read", chatHandler.MarkChatAsRead) // PUT /v1/chats/:id/read

	// Messages
	chatGroup.POST("/:id/messages", chatHandler.SendMessage)
	chatGroup.GET("/:id/messages", chatHandler.GetChatMessages)
	chatGroup.PUT("/:id/messages/:messageId", chatHandler.EditMessage)
	chatGroup.DELETE("/:id/messages/:messageId", chatHandler.DeleteMessage)
	chatGroup.POST("/:id/messages/:messageId/reactions", chatHandler.ToggleReaction)

	// Attachments are uploaded first, then referenced by a message
	chatGroup.POST("/:id/attachments", fileHandler.UploadAttachment)
}
