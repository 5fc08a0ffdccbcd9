package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/zenithcms/sentinel/internal/anomaly"
	"github.com/zenithcms/sentinel/internal/audit"
	"github.com/zenithcms/sentinel/internal/auth"
	"github.com/zenithcms/sentinel/internal/middlewares"
	"github.com/zenithcms/sentinel/model"
)

type DeviceService interface {
	List(ctx context.Context, userID uint) ([]*model.Device, error)
	Deactivate(ctx context.Context, userID uint, deviceID string) (bool, error)
	Delete(ctx context.Context, userID uint, deviceID string) (bool, error)
	SetTrusted(ctx context.Context, userID uint, deviceID string, trusted bool) (bool, error)
}

type OperationRecorder interface {
	RecordOperation(ctx context.Context, req auth.OperationRequest) anomaly.Result
}

type DeviceHandler struct {
	deviceService DeviceService
	recorder      OperationRecorder
}

func NewDeviceHandler(deviceService DeviceService, recorder OperationRecorder) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		recorder:      recorder,
	}
}

func (h *DeviceHandler) GetDevices(ctx *fiber.Ctx) error {
	claims := middlewares.CurrentClaims(ctx)
	devices, err := h.deviceService.List(ctx.Context(), claims.UserID)
	if err != nil {
		return err
	}
	items := make([]DeviceResponse, 0, len(devices))
	for _, device := range devices {
		items = append(items, newDeviceResponse(device))
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"devices": items}))
}

func (h *DeviceHandler) PostDeactivateDevice(ctx *fiber.Ctx) error {
	claims := middlewares.CurrentClaims(ctx)
	deviceID := ctx.Params("deviceId")
	if deviceID == "" {
		return fiber.ErrBadRequest
	}
	changed, err := h.deviceService.Deactivate(ctx.Context(), claims.UserID, deviceID)
	if err != nil {
		return err
	}
	if !changed {
		return fiber.ErrNotFound
	}
	h.recorder.RecordOperation(ctx.Context(), auth.OperationRequest{
		Claims:      claims,
		Action:      audit.ActionDeviceDeactivate,
		Resource:    "device",
		ResourceID:  deviceID,
		RequestMeta: requestMeta(ctx),
	})
	return ctx.JSON(NewDataResponse(fiber.Map{"deactivated": true}))
}

func (h *DeviceHandler) DeleteDevice(ctx *fiber.Ctx) error {
	claims := middlewares.CurrentClaims(ctx)
	deviceID := ctx.Params("deviceId")
	if deviceID == "" {
		return fiber.ErrBadRequest
	}
	deleted, err := h.deviceService.Delete(ctx.Context(), claims.UserID, deviceID)
	if err != nil {
		return err
	}
	if !deleted {
		return fiber.ErrNotFound
	}
	h.recorder.RecordOperation(ctx.Context(), auth.OperationRequest{
		Claims:      claims,
		Action:      audit.ActionDeviceDelete,
		Resource:    "device",
		ResourceID:  deviceID,
		RequestMeta: requestMeta(ctx),
	})
	return ctx.JSON(NewDataResponse(fiber.Map{"deleted": true}))
}

type trustRequest struct {
	Trusted bool `json:"trusted"`
}

func (h *DeviceHandler) PostTrustDevice(ctx *fiber.Ctx) error {
	claims := middlewares.CurrentClaims(ctx)
	deviceID := ctx.Params("deviceId")
	if deviceID == "" {
		return fiber.ErrBadRequest
	}
	var body trustRequest
	if err := ctx.BodyParser(&body); err != nil {
		return fiber.ErrBadRequest
	}
	changed, err := h.deviceService.SetTrusted(ctx.Context(), claims.UserID, deviceID, body.Trusted)
	if err != nil {
		return err
	}
	if !changed {
		return fiber.ErrNotFound
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"trusted": body.Trusted}))
}
