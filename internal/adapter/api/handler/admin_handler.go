package handler

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/usecase"
	"marketchat/pkg/logger"
	"marketchat/pkg/response"
)

// AdminHandler serves moderation endpoints; routes are guarded by AdminOnly.
type AdminHandler struct {
	roomUseCase    *usecase.RoomUseCase
	messageUseCase *usecase.MessageUseCase
	offerUseCase   *usecase.OfferUseCase
}

func NewAdminHandler(roomUseCase *usecase.RoomUseCase, messageUseCase *usecase.MessageUseCase, offerUseCase *usecase.OfferUseCase) *AdminHandler {
	return &AdminHandler{
		roomUseCase:    roomUseCase,
		messageUseCase: messageUseCase,
		offerUseCase:   offerUseCase,
	}
}

func (h *AdminHandler) DeleteChat(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	roomID := c.Param("id")
	if err := h.roomUseCase.DeleteRoom(c.Request().Context(), roomID, actor); err != nil {
		return response.Error(c, err)
	}

	logger.Ctx(c.Request().Context()).Info().Str(logger.FieldRoomID, roomID).Msg("chat room deleted by admin")
	return response.Success(c, map[string]string{"deleted": roomID})
}

func (h *AdminHandler) HardDeleteMessage(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	messageID := c.Param("messageId")
	if err := h.messageUseCase.HardDeleteMessage(c.Request().Context(), messageID, actor); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"deleted": messageID})
}

// ExpireOffers runs one expiry sweep immediately.
func (h *AdminHandler) ExpireOffers(c echo.Context) error {
	expired, err := h.offerUseCase.ExpireDueOffers(c.Request().Context())
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{"expired": expired})
}
