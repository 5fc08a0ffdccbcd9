package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/zenithcms/sentinel/internal/auth"
	"github.com/zenithcms/sentinel/model"
)

const apiVersion = "1.0"

// Google JSON API style response structures
type APIResponse struct {
	APIVersion string        `json:"apiVersion"`
	Data       any           `json:"data,omitempty"`
	Error      *APIErrorInfo `json:"error,omitempty"`
}

type APIErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewDataResponse(data any) APIResponse {
	return APIResponse{
		APIVersion: apiVersion,
		Data:       data,
	}
}

func NewErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		APIVersion: apiVersion,
		Error: &APIErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

type UserInfoResponse struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func newUserInfo(user *model.User) UserInfoResponse {
	return UserInfoResponse{
		UserID:   user.ID,
		Username: user.Username,
		FullName: user.FullName,
		Email:    user.Email,
		Role:     user.Role,
	}
}

type DeviceResponse struct {
	DeviceID     string    `json:"deviceId"`
	DeviceName   string    `json:"deviceName"`
	DeviceType   string    `json:"deviceType"`
	IPAddress    string    `json:"ipAddress"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	IsActive     bool      `json:"isActive"`
	IsTrusted    bool      `json:"isTrusted"`
	LoginCount   int64     `json:"loginCount"`
}

func newDeviceResponse(device *model.Device) DeviceResponse {
	return DeviceResponse{
		DeviceID:     device.DeviceID,
		DeviceName:   device.DeviceName,
		DeviceType:   device.DeviceType,
		IPAddress:    device.IPAddress,
		LastActiveAt: device.LastActiveAt,
		IsActive:     device.IsActive,
		IsTrusted:    device.IsTrusted,
		LoginCount:   device.LoginCount,
	}
}

// requestMeta collects the transport attributes every audited operation
// records.
func requestMeta(ctx *fiber.Ctx) auth.RequestMeta {
	return auth.RequestMeta{
		IP:        ctx.IP(),
		UserAgent: ctx.Get(fiber.HeaderUserAgent),
		DeviceID:  ctx.Get("X-Device-ID"),
		Method:    ctx.Method(),
		URL:       ctx.OriginalURL(),
	}
}
