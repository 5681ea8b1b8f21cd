package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
	"marketchat/pkg/response"
)

const (
	actorKey = "actor"
	uidKey   = "uid"

	// Development-only identity headers.
	HeaderUserID = "X-User-ID"
	HeaderAdmin  = "X-User-Admin"
)

// TokenVerifier resolves a bearer token to the calling actor.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (entity.Actor, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware authenticates with bearer tokens checked by verifier.
func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// NewHeaderAuthMiddleware trusts X-User-ID / X-User-Admin. Development only.
func NewHeaderAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := m.Resolve(c)
		if err != nil {
			return response.Error(c, err)
		}

		c.Set(actorKey, actor)
		c.Set(uidKey, actor.UserID)

		req := c.Request()
		l := logger.Ctx(req.Context()).With().Str(logger.FieldUserID, actor.UserID).Logger()
		c.SetRequest(req.WithContext(logger.WithLogger(req.Context(), l)))

		return next(c)
	}
}

// Resolve identifies the caller. Browsers cannot set headers on a websocket
// upgrade, so a ?token query parameter is accepted as well.
func (m *AuthMiddleware) Resolve(c echo.Context) (entity.Actor, error) {
	req := c.Request()

	if m.verifier == nil {
		userID := strings.TrimSpace(req.Header.Get(HeaderUserID))
		if userID == "" {
			userID = c.QueryParam("user_id")
		}
		if userID == "" {
			return entity.Actor{}, errors.Unauthorized(HeaderUserID+" header is required", nil)
		}
		return entity.Actor{UserID: userID, Admin: req.Header.Get(HeaderAdmin) == "true"}, nil
	}

	token := c.QueryParam("token")
	if authHeader := req.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return entity.Actor{}, errors.Unauthorized("Invalid authorization format", nil)
		}
		token = parts[1]
	}
	if token == "" {
		return entity.Actor{}, errors.Unauthorized("Authorization header is required", nil)
	}

	actor, err := m.verifier.VerifyToken(req.Context(), token)
	if err != nil {
		logger.Ctx(req.Context()).Debug().Err(err).Msg("token rejected")
		if errors.Is(err, errors.CodeUnauthorized) {
			return entity.Actor{}, err
		}
		return entity.Actor{}, errors.Unauthorized("Invalid or expired token", err)
	}
	return actor, nil
}

// GetActor returns the actor set by Authenticate.
func GetActor(c echo.Context) (entity.Actor, bool) {
	actor, ok := c.Get(actorKey).(entity.Actor)
	return actor, ok
}

// SetActor is used by handlers' tests to bypass authentication.
func SetActor(c echo.Context, actor entity.Actor) {
	c.Set(actorKey, actor)
	c.Set(uidKey, actor.UserID)
}
