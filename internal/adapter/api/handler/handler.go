package handler

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/middleware"
	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
)

// currentActor returns the authenticated caller set by the auth middleware.
func currentActor(c echo.Context) (entity.Actor, error) {
	actor, ok := middleware.GetActor(c)
	if !ok || actor.UserID == "" {
		return entity.Actor{}, errors.Unauthorized("Authentication required", nil)
	}
	return actor, nil
}

// bindRequest binds the body into req and runs the registered validator.
func bindRequest(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return errors.BadRequest("Invalid request body", err)
	}
	return c.Validate(req)
}
