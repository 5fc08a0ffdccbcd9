package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cast"
	"github.com/zenithcms/sentinel/internal/auth"
	"github.com/zenithcms/sentinel/internal/middlewares"
	"github.com/zenithcms/sentinel/internal/token"
)

type AuthService interface {
	Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResult, error)
	Logout(ctx context.Context, claims *token.Claims, accessToken string, meta auth.RequestMeta) error
	ForceLogout(ctx context.Context, operator *token.Claims, targetUserID uint, meta auth.RequestMeta) error
	Refresh(ctx context.Context, refreshToken string, meta auth.RequestMeta) (string, error)
}

type AuthHandler struct {
	authService AuthService
}

func NewAuthHandler(authService AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

type loginResponse struct {
	User         UserInfoResponse `json:"user"`
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	ExpiresIn    int64            `json:"expiresIn"`
	TraceID      string           `json:"traceId"`
}

func (h *AuthHandler) PostLogin(ctx *fiber.Ctx) error {
	var body loginRequest
	if err := ctx.BodyParser(&body); err != nil {
		return fiber.ErrBadRequest
	}
	if body.Username == "" || body.Password == "" {
		return fiber.ErrBadRequest
	}

	meta := requestMeta(ctx)
	if body.DeviceID != "" {
		meta.DeviceID = body.DeviceID
	}
	result, err := h.authService.Login(ctx.Context(), auth.LoginRequest{
		Username:    body.Username,
		Password:    body.Password,
		DeviceName:  body.DeviceName,
		RequestMeta: meta,
	})
	if err != nil {
		return err
	}

	return ctx.JSON(NewDataResponse(loginResponse{
		User:         newUserInfo(result.User),
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		ExpiresIn:    result.Tokens.ExpiresIn,
		TraceID:      result.TraceID,
	}))
}

func (h *AuthHandler) PostLogout(ctx *fiber.Ctx) error {
	claims := middlewares.CurrentClaims(ctx)
	accessToken := ctx.Get(fiber.HeaderAuthorization)
	if len(accessToken) > 7 {
		accessToken = accessToken[7:] // strip "Bearer "
	}
	if err := h.authService.Logout(ctx.Context(), claims, accessToken, requestMeta(ctx)); err != nil {
		return err
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"loggedOut": true}))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) PostRefresh(ctx *fiber.Ctx) error {
	var body refreshRequest
	if err := ctx.BodyParser(&body); err != nil || body.RefreshToken == "" {
		return fiber.ErrBadRequest
	}
	accessToken, err := h.authService.Refresh(ctx.Context(), body.RefreshToken, requestMeta(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"accessToken": accessToken}))
}

func (h *AuthHandler) PostForceLogout(ctx *fiber.Ctx) error {
	targetUserID := cast.ToUint(ctx.Params("userId"))
	if targetUserID == 0 {
		return fiber.ErrBadRequest
	}
	operator := middlewares.CurrentClaims(ctx)
	if err := h.authService.ForceLogout(ctx.Context(), operator, targetUserID, requestMeta(ctx)); err != nil {
		return err
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"revoked": true}))
}
