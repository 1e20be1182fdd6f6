package handler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/service"
	"jobchat/internal/usecase"
	"jobchat/pkg/errors"
	"jobchat/pkg/logger"
	"jobchat/pkg/response"
)

const maxAttachmentSize = 10 * 1024 * 1024

type FileHandler struct {
	fileService      service.FileUploadService
	directoryUseCase *usecase.DirectoryUseCase
	maxFileSize      int64
}

// NewFileHandler accepts a nil fileService; uploads then fail with
// STORE_UNAVAILABLE.
func NewFileHandler(fileService service.FileUploadService, directoryUseCase *usecase.DirectoryUseCase) *FileHandler {
	return &FileHandler{
		fileService:      fileService,
		directoryUseCase: directoryUseCase,
		maxFileSize:      maxAttachmentSize,
	}
}

type attachmentResponse struct {
	entity.Attachment
	MessageType string `json:"message_type"`
}

// UploadAttachment stores a file for a chat the user takes part in. The
// returned attachment is then sent with send_message.
func (h *FileHandler) UploadAttachment(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	if h.fileService == nil {
		return response.Error(c, errors.StoreUnavailable("Attachment storage is not configured", nil))
	}

	ctx := c.Request().Context()
	chat, err := h.directoryUseCase.Get(ctx, userID, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		logger.Debug("Error getting file from form: %v", err)
		return response.Error(c, errors.BadRequest("Missing or invalid file", err))
	}

	if file.Size > h.maxFileSize {
		logger.Warn("Attachment too large: %d bytes (max: %d)", file.Size, h.maxFileSize)
		return response.Error(c, errors.BadRequest(fmt.Sprintf("File size exceeds maximum allowed (%dMB)", h.maxFileSize/(1024*1024)), nil))
	}

	fileType := file.Header.Get("Content-Type")
	messageType, ok := attachmentMessageType(fileType)
	if !ok {
		return response.Error(c, errors.BadRequest("File type not supported", nil))
	}

	src, err := file.Open()
	if err != nil {
		return response.Error(c, errors.Internal("Failed to read file", err))
	}
	defer src.Close()

	url, err := h.fileService.UploadFile(ctx, src, fileType, "chats/"+chat.ID)
	if err != nil {
		logger.Error("Failed to upload attachment for chat %s: %v", chat.ID, err)
		return response.Error(c, errors.StoreUnavailable("Failed to upload file", err))
	}

	return response.Created(c, attachmentResponse{
		Attachment: entity.Attachment{
			URL:         url,
			Name:        sanitizeFileName(file.Filename),
			ContentType: fileType,
			Size:        file.Size,
		},
		MessageType: messageType,
	})
}

// attachmentMessageType maps an accepted content type to the message
// type it is sent as.
func attachmentMessageType(fileType string) (string, bool) {
	switch fileType {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return entity.MessageTypeImage, true
	case "audio/webm", "audio/ogg", "audio/mpeg", "audio/mp4":
		return entity.MessageTypeVoice, true
	case "application/pdf":
		return entity.MessageTypeFile, true
	}
	return "", false
}

func sanitizeFileName(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '/' || r == '\\' {
			return -1
		}
		return r
	}, name)
	if name == "." || name == "" {
		return "attachment"
	}
	return name
}
