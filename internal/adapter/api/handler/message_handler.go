package handler

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/domain/entity"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
	"marketchat/pkg/response"
	"marketchat/pkg/utils"
)

const maxUploadBytes = 10 << 20

type MessageHandler struct {
	messageUseCase *usecase.MessageUseCase
}

func NewMessageHandler(messageUseCase *usecase.MessageUseCase) *MessageHandler {
	return &MessageHandler{
		messageUseCase: messageUseCase,
	}
}

// sendMessageRequest carries a text or location message. Type defaults to text.
type sendMessageRequest struct {
	Type             string           `json:"type" validate:"omitempty,oneof=text location"`
	Text             string           `json:"text" validate:"max=4000"`
	Caption          string           `json:"caption" validate:"max=1000"`
	ReplyToMessageID string           `json:"reply_to_message_id"`
	Location         *locationRequest `json:"location"`
}

// locationRequest keeps coordinates as pointers so an omitted one is not read as 0.
type locationRequest struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address" validate:"max=500"`
}

type editMessageRequest struct {
	Text string `json:"text" validate:"max=4000"`
}

func (h *MessageHandler) SendMessage(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req sendMessageRequest
	if err := bindRequest(c, &req); err != nil {
		return response.Error(c, err)
	}

	ctx := c.Request().Context()
	roomID := c.Param("id")

	var msg *entity.ChatMessage
	switch entity.MessageType(req.Type) {
	case entity.MessageTypeLocation:
		if req.Location == nil {
			return response.Error(c, errors.InvalidInput(errors.ReasonInvalidLocation, "location is required"))
		}
		msg, err = h.messageUseCase.SendLocation(ctx, roomID, actor, usecase.SendLocationInput{
			Lat:              req.Location.Lat,
			Lng:              req.Location.Lng,
			Address:          req.Location.Address,
			Caption:          req.Caption,
			ReplyToMessageID: req.ReplyToMessageID,
		})
	default:
		msg, err = h.messageUseCase.SendText(ctx, roomID, actor, usecase.SendTextInput{
			Text:             req.Text,
			ReplyToMessageID: req.ReplyToMessageID,
		})
	}
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, msg)
}

// UploadImage accepts a multipart "file" plus optional "caption".
func (h *MessageHandler) UploadImage(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.Error(c, errors.BadRequest("file is required", err))
	}
	if fileHeader.Size > maxUploadBytes {
		return response.Error(c, errors.BadRequest("Image is too large", nil))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return response.Error(c, errors.BadRequest("Failed to open uploaded file", err))
	}
	defer src.Close()

	msg, err := h.messageUseCase.UploadImage(c.Request().Context(), c.Param("id"), actor, usecase.ImageUpload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Body:        src,
	}, c.FormValue("caption"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, msg)
}

func (h *MessageHandler) GetChatMessages(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	page := utils.GetPaginationParams(c)
	messages, total, err := h.messageUseCase.GetMessages(c.Request().Context(), c.Param("id"), actor, page.Limit, page.Offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.SuccessPaginated(c, messages, total, page.Limit, page.Offset)
}

func (h *MessageHandler) EditMessage(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req editMessageRequest
	if err := bindRequest(c, &req); err != nil {
		return response.Error(c, err)
	}

	msg, err := h.messageUseCase.EditMessage(c.Request().Context(), c.Param("id"), c.Param("messageId"), actor, req.Text)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, msg)
}

// DeleteMessage soft-deletes; the message stays in the log as a tombstone.
func (h *MessageHandler) DeleteMessage(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	msg, err := h.messageUseCase.DeleteMessage(c.Request().Context(), c.Param("messageId"), actor)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, msg)
}
