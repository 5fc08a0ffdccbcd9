package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zenithcms/sentinel/internal/audit"
	"github.com/zenithcms/sentinel/model"
	"github.com/zenithcms/sentinel/params"
)

// Anomaly is the rendered payload for security notifications.
type Anomaly struct {
	TraceID    string
	UserID     uint
	Username   string
	Action     string
	IP         string
	DeviceName string
	Severity   string
	Score      int
	Reasons    []string
	OccurredAt time.Time
}

// AdminDirectory resolves the recipients of security alerts.
type AdminDirectory interface {
	ListAdmins(ctx context.Context) ([]*model.User, error)
}

// Dispatcher delivers anomaly notifications over email. Delivery is strictly
// best-effort: every failure is logged and swallowed so the security pipeline
// never blocks or fails on a mail outage.
type Dispatcher struct {
	sender  Sender
	admins  AdminDirectory
	timeout time.Duration
}

func NewDispatcher(sender Sender, admins AdminDirectory) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		admins:  admins,
		timeout: params.NotifyTimeout,
	}
}

// Notify alerts the administrators about the anomaly, and additionally the
// affected user when severity reaches high. The user parameter may be nil
// when the event has no resolvable account.
func (d *Dispatcher) Notify(ctx context.Context, evt *Anomaly, user *model.User) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	d.notifyAdmins(ctx, evt)
	if user != nil && userFacing(evt.Severity) {
		d.notifyUser(ctx, evt, user)
	}
}

func userFacing(severity string) bool {
	return severity == audit.SeverityHigh || severity == audit.SeverityCritical
}

func (d *Dispatcher) notifyAdmins(ctx context.Context, evt *Anomaly) {
	admins, err := d.admins.ListAdmins(ctx)
	if err != nil {
		slog.Warn("Could not resolve admin recipients", "error", err, "traceId", evt.TraceID)
		return
	}
	var recipients []string
	for _, admin := range admins {
		if admin.Email != "" {
			recipients = append(recipients, admin.Email)
		}
	}
	if len(recipients) == 0 {
		slog.Warn("No admin recipients for anomaly alert", "traceId", evt.TraceID)
		return
	}

	body, err := renderTemplate("anomaly_alert.html", evt)
	if err != nil {
		slog.Error("Could not render anomaly alert", "error", err)
		return
	}
	err = d.sender.Send(ctx, &Message{
		To:       recipients,
		Subject:  fmt.Sprintf("[%s] Anomalous %s by %s", evt.Severity, evt.Action, evt.Username),
		Body:     body,
		Category: CategorySecurityAlert,
		IsHTML:   true,
	})
	if err != nil {
		slog.Warn("Anomaly alert delivery failed", "error", err, "traceId", evt.TraceID)
	}
}

func (d *Dispatcher) notifyUser(ctx context.Context, evt *Anomaly, user *model.User) {
	if user.Email == "" {
		return
	}
	body, err := renderTemplate("anomaly_notice.html", evt)
	if err != nil {
		slog.Error("Could not render anomaly notice", "error", err)
		return
	}
	err = d.sender.Send(ctx, &Message{
		To:       []string{user.Email},
		Subject:  "Unusual activity on your account",
		Body:     body,
		Category: CategoryAccountNotice,
		IsHTML:   true,
	})
	if err != nil {
		slog.Warn("Anomaly notice delivery failed", "error", err, "userId", user.ID)
	}
}
