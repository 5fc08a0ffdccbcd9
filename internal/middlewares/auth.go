package middlewares

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/zenithcms/sentinel/internal/token"
	"github.com/zenithcms/sentinel/model"
)

const (
	CtxKeyUser   = "authUser"
	CtxKeyClaims = "authClaims"
)

type RequestValidator interface {
	ValidateRequest(ctx context.Context, accessToken string) (*model.User, *token.Claims, error)
}

func bearerToken(ctx *fiber.Ctx) string {
	header := ctx.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// Authenticate runs the full request validation chain and stashes the account
// and claims in the request locals. Failures surface through ErrorHandler.
func Authenticate(validator RequestValidator) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		user, claims, err := validator.ValidateRequest(ctx.Context(), bearerToken(ctx))
		if err != nil {
			return err
		}
		ctx.Locals(CtxKeyUser, user)
		ctx.Locals(CtxKeyClaims, claims)
		return ctx.Next()
	}
}

func AdminOnly() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		claims := CurrentClaims(ctx)
		if claims == nil || claims.Role != model.RoleAdmin {
			return fiber.ErrForbidden
		}
		return ctx.Next()
	}
}

func CurrentUser(ctx *fiber.Ctx) *model.User {
	user, _ := ctx.Locals(CtxKeyUser).(*model.User)
	return user
}

func CurrentClaims(ctx *fiber.Ctx) *token.Claims {
	claims, _ := ctx.Locals(CtxKeyClaims).(*token.Claims)
	return claims
}
