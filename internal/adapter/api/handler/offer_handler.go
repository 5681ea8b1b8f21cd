package handler

import (
	"time"

	"github.com/labstack/echo/v4"

	"marketchat/internal/usecase"
	"marketchat/pkg/response"
)

type OfferHandler struct {
	offerUseCase *usecase.OfferUseCase
}

func NewOfferHandler(offerUseCase *usecase.OfferUseCase) *OfferHandler {
	return &OfferHandler{
		offerUseCase: offerUseCase,
	}
}

// Amount bounds are checked by the usecase so the response carries INVALID_AMOUNT.
type offerRequest struct {
	Amount    float64    `json:"amount"`
	Notes     string     `json:"notes" validate:"max=1000"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type rejectOfferRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (r offerRequest) input() usecase.OfferInput {
	return usecase.OfferInput{
		Amount:    r.Amount,
		Notes:     r.Notes,
		ExpiresAt: r.ExpiresAt,
	}
}

func (h *OfferHandler) GetOffers(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	offers, err := h.offerUseCase.GetOffers(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, offers)
}

func (h *OfferHandler) CreateOffer(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req offerRequest
	if err := bindRequest(c, &req); err != nil {
		return response.Error(c, err)
	}

	offer, err := h.offerUseCase.CreateOffer(c.Request().Context(), c.Param("id"), actor, req.input())
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, offer)
}

func (h *OfferHandler) CounterOffer(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req offerRequest
	if err := bindRequest(c, &req); err != nil {
		return response.Error(c, err)
	}

	offer, err := h.offerUseCase.CounterOffer(c.Request().Context(), c.Param("offerId"), actor, req.input())
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, offer)
}

func (h *OfferHandler) AcceptOffer(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	offer, err := h.offerUseCase.AcceptOffer(c.Request().Context(), c.Param("offerId"), actor)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, offer)
}

func (h *OfferHandler) RejectOffer(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req rejectOfferRequest
	if err := bindRequest(c, &req); err != nil {
		return response.Error(c, err)
	}

	offer, err := h.offerUseCase.RejectOffer(c.Request().Context(), c.Param("offerId"), actor, req.Reason)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, offer)
}

func (h *OfferHandler) WithdrawOffer(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return response.Error(c, err)
	}

	offer, err := h.offerUseCase.WithdrawOffer(c.Request().Context(), c.Param("offerId"), actor)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, offer)
}
