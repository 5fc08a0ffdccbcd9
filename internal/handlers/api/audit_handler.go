package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cast"
	"github.com/zenithcms/sentinel/internal/audit"
	"github.com/zenithcms/sentinel/model"
)

type AuditService interface {
	Query(ctx context.Context, filter audit.Filter, page audit.Page) ([]*model.AuditEvent, int64, error)
	FindByTraceID(ctx context.Context, traceID string) ([]*model.AuditEvent, error)
}

type AuditHandler struct {
	auditService AuditService
}

func NewAuditHandler(auditService AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

type auditEventResponse struct {
	ID            uint64     `json:"id"`
	TraceID       string     `json:"traceId"`
	UserID        uint       `json:"userId"`
	Username      string     `json:"username"`
	Action        string     `json:"action"`
	Resource      string     `json:"resource,omitempty"`
	ResourceID    string     `json:"resourceId,omitempty"`
	IP            string     `json:"ip"`
	DeviceID      string     `json:"deviceId,omitempty"`
	Method        string     `json:"method,omitempty"`
	URL           string     `json:"url,omitempty"`
	Status        string     `json:"status"`
	Severity      string     `json:"severity"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	DurationMs    int64      `json:"durationMs,omitempty"`
	IsAnomaly     bool       `json:"isAnomaly"`
	AnomalyReason string     `json:"anomalyReason,omitempty"`
	Metadata      model.JSON `json:"metadata,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

func newAuditEventResponse(event *model.AuditEvent) auditEventResponse {
	return auditEventResponse{
		ID:            event.ID,
		TraceID:       event.TraceID,
		UserID:        event.UserID,
		Username:      event.Username,
		Action:        event.Action,
		Resource:      event.Resource,
		ResourceID:    event.ResourceID,
		IP:            event.IP,
		DeviceID:      event.DeviceID,
		Method:        event.Method,
		URL:           event.URL,
		Status:        event.Status,
		Severity:      event.Severity,
		ErrorMessage:  event.ErrorMessage,
		DurationMs:    event.DurationMs,
		IsAnomaly:     event.IsAnomaly,
		AnomalyReason: event.AnomalyReason,
		Metadata:      event.Metadata,
		Timestamp:     event.Timestamp,
	}
}

// parseFilter builds the event filter from the query string. Unknown or
// malformed values fall back to the zero value and are simply not applied.
func parseFilter(ctx *fiber.Ctx) audit.Filter {
	filter := audit.Filter{
		Username:   ctx.Query("username"),
		Action:     ctx.Query("action"),
		Resource:   ctx.Query("resource"),
		ResourceID: ctx.Query("resourceId"),
		IP:         ctx.Query("ip"),
		DeviceID:   ctx.Query("deviceId"),
		Status:     ctx.Query("status"),
		Severity:   ctx.Query("severity"),
	}
	if userID := cast.ToUint(ctx.Query("userId")); userID != 0 {
		filter.UserID = &userID
	}
	if raw := ctx.Query("anomaly"); raw != "" {
		anomalous := cast.ToBool(raw)
		filter.IsAnomaly = &anomalous
	}
	if since, err := time.Parse(time.RFC3339, ctx.Query("since")); err == nil {
		filter.Since = &since
	}
	if until, err := time.Parse(time.RFC3339, ctx.Query("until")); err == nil {
		filter.Until = &until
	}
	return filter
}

func (h *AuditHandler) GetEvents(ctx *fiber.Ctx) error {
	page := audit.Page{
		Page:  cast.ToInt(ctx.Query("page")),
		Limit: cast.ToInt(ctx.Query("limit")),
	}
	events, total, err := h.auditService.Query(ctx.Context(), parseFilter(ctx), page)
	if err != nil {
		return err
	}
	items := make([]auditEventResponse, 0, len(events))
	for _, event := range events {
		items = append(items, newAuditEventResponse(event))
	}
	return ctx.JSON(NewDataResponse(fiber.Map{
		"events": items,
		"total":  total,
	}))
}

// GetTrace returns every event of one trace in causal order.
func (h *AuditHandler) GetTrace(ctx *fiber.Ctx) error {
	traceID := ctx.Params("traceId")
	if traceID == "" {
		return fiber.ErrBadRequest
	}
	events, err := h.auditService.FindByTraceID(ctx.Context(), traceID)
	if err != nil {
		return err
	}
	items := make([]auditEventResponse, 0, len(events))
	for _, event := range events {
		items = append(items, newAuditEventResponse(event))
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"events": items}))
}
