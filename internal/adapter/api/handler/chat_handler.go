package handler

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/usecase"
	"marketchat/pkg/response"
	"marketchat/pkg/utils"
)

type ChatHandler struct {
	roomUseCase    *usecase.RoomUseCase
	messageUseCase *usecase.MessageUseCase
}

func NewChatHandler(roomUseCase *usecase.RoomUseCase, messageUseCase *usecase.MessageUseCase) *ChatHandler {
	return &ChatHandler{
		roomUseCase:    roomUseCase,
		messageUseCase: messageUseCase,
	}
}

type createChatRequest struct {
	ListingID string `json:"listing_id" validate:"required"`
}

type toggleImportantRequest struct {
	Important bool `json:"important"`
}

type blockUserRequest struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason" validate:"max=500"`
}

type reportUserRequest struct {
	ReportType string `json:"report_type" validate:"required"`
	Reason     string `json:"reason" validate:"max=1000"`
}

type shareContactRequest struct {
	Phone string `json:"phone" validate:"omitempty,max=32"`
	Email string `json:"email" validate:"omitempty,email"`
}

type createChatResponse struct {
	*usecase.RoomSummary
	Created bool `json:"created"`
}

// CreateChat opens the caller's room for a listing, or returns the existing one.
func (h *ChatHandler) CreateChat(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req createChatRequest
	if err := bindRequest(c, &req); err != nil {
		return response.Error(c, err)
	}

	ctx := c.Request().Context()
	room, created, err := h.roomUseCase.CreateOrGet(ctx, req.ListingID, actor)
	if err != nil {
		return response.Error(c, err)
	}

	summary, err := h.roomUseCase.GetRoom(ctx, room.ID, actor)
	if err != nil {
		return response.Error(c, err)
	}

	out := createChatResponse{RoomSummary: summary, Created: created}
	if created {
		return response.Created(c, out)
	}
	return response.Success(c, out)
}

// GetUserChats lists the caller's rooms. Admins may pass ?user_id.
func (h *ChatHandler) GetUserChats(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	page := utils.GetPaginationParams(c)
	rooms, total, err := h.roomUseCase.ListRooms(c.Request().Context(), actor, c.QueryParam("user_id"), page.Limit, page.Offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.SuccessPaginated(c, rooms, total, page.Limit, page.Offset)
}

func (h *ChatHandler) GetChatByID(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	room, err := h.roomUseCase.GetRoom(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, room)
}

func (h *ChatHandler) MarkChatAsRead(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	marked, err := h.messageUseCase.MarkAsRead(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{"marked": marked})
}

func (h *ChatHandler) ToggleImportant(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req toggleImportantRequest
	if err := bindRequest(c, &req); err != nil {
		return response.Error(c, err)
	}

	room, err := h.roomUseCase.ToggleImportant(c.Request().Context(), c.Param("id"), actor, req.Important)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, room)
}

func (h *ChatHandler) BlockUser(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req blockUserRequest
	if err := bindRequest(c, &req); err != nil {
		return response.Error(c, err)
	}

	room, err := h.roomUseCase.BlockUser(c.Request().Context(), c.Param("id"), actor, req.Blocked, req.Reason)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, room)
}

func (h *ChatHandler) ReportUser(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req reportUserRequest
	if err := bindRequest(c, &req); err != nil {
		return response.Error(c, err)
	}

	room, err := h.roomUseCase.ReportUser(c.Request().Context(), c.Param("id"), actor, req.ReportType, req.Reason)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, room)
}

func (h *ChatHandler) RequestContact(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	room, err := h.roomUseCase.RequestContact(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, room)
}

func (h *ChatHandler) ShareContact(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req shareContactRequest
	if err := bindRequest(c, &req); err != nil {
		return response.Error(c, err)
	}

	room, err := h.roomUseCase.ShareContact(c.Request().Context(), c.Param("id"), actor, usecase.ContactInfo{
		Phone: req.Phone,
		Email: req.Email,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, room)
}
