package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zenithcms/sentinel/model"
	"github.com/zenithcms/sentinel/params"
)

// Actions form a closed enumeration; Record rejects nothing, but every
// producer in this codebase goes through these constants.
const (
	ActionLogin            = "login"
	ActionLogout           = "logout"
	ActionRegister         = "register"
	ActionTokenRefresh     = "token_refresh"
	ActionForceLogout      = "force_logout"
	ActionPasswordChange   = "password_change"
	ActionPasswordReset    = "password_reset"
	ActionDeviceCreate     = "device_create"
	ActionDeviceDeactivate = "device_deactivate"
	ActionDeviceDelete     = "device_delete"
	ActionUserCreate       = "user_create"
	ActionUserUpdate       = "user_update"
	ActionUserDelete       = "user_delete"
	ActionUserBan          = "user_ban"
	ActionUserUnban        = "user_unban"
	ActionPermissionGrant  = "permission_grant"
	ActionPermissionRevoke = "permission_revoke"
	ActionRoleAssign       = "role_assign"
	ActionRoleRevoke       = "role_revoke"
	ActionPostCreate       = "post_create"
	ActionPostUpdate       = "post_update"
	ActionPostDelete       = "post_delete"
	ActionPostPublish      = "post_publish"
	ActionSettingsUpdate   = "settings_update"
	ActionConfigUpdate     = "config_update"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusWarning = "warning"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Filter selects audit events. Zero-valued fields are ignored; Username
// matches as a substring, Since/Until bound Timestamp inclusively.
type Filter struct {
	UserID     *uint
	Username   string
	Action     string
	Resource   string
	ResourceID string
	IP         string
	DeviceID   string
	Status     string
	Severity   string
	IsAnomaly  *bool
	Since      *time.Time
	Until      *time.Time
}

type Page struct {
	Page  int
	Limit int
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = params.AuditPageLimit
	}
	if p.Limit > params.AuditPageMaxLimit {
		p.Limit = params.AuditPageMaxLimit
	}
	return p
}

func (p Page) offset() int {
	return (p.Page - 1) * p.Limit
}

type EventRepository interface {
	Create(ctx context.Context, event *model.AuditEvent) error
	Find(ctx context.Context, filter Filter, page Page) ([]*model.AuditEvent, int64, error)
	FindByTraceID(ctx context.Context, traceID string) ([]*model.AuditEvent, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	RecentLoginIPs(ctx context.Context, userID uint, since time.Time, limit int) ([]string, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service is the append-only audit trail. Writes never fail the audited
// operation; storage errors are logged and swallowed.
type Service struct {
	repo EventRepository
	now  func() time.Time
}

func NewService(repo EventRepository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

func NewTraceID() string {
	return uuid.NewString()
}

// Record persists an event. The timestamp is always set server-side.
func (s *Service) Record(ctx context.Context, event *model.AuditEvent) {
	event.Timestamp = s.now()
	if err := s.repo.Create(ctx, event); err != nil {
		slog.Error("Failed to record audit event",
			"action", event.Action, "userId", event.UserID, "error", err)
	}
}

func (s *Service) Query(ctx context.Context, filter Filter, page Page) ([]*model.AuditEvent, int64, error) {
	return s.repo.Find(ctx, filter, page.normalize())
}

// FindByTraceID returns all events of one trace in causal (ascending) order.
func (s *Service) FindByTraceID(ctx context.Context, traceID string) ([]*model.AuditEvent, error) {
	return s.repo.FindByTraceID(ctx, traceID)
}

// PurgeOlderThan deletes events strictly older than now minus daysToKeep.
// Events at exactly the boundary are retained.
func (s *Service) PurgeOlderThan(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = params.AuditRetentionDays
	}
	cutoff := s.now().AddDate(0, 0, -daysToKeep)
	return s.repo.DeleteBefore(ctx, cutoff)
}

// CountFailedLogins reports failed login attempts for a user since t.
func (s *Service) CountFailedLogins(ctx context.Context, userID uint, since time.Time) (int64, error) {
	return s.repo.Count(ctx, Filter{
		UserID: &userID,
		Action: ActionLogin,
		Status: StatusError,
		Since:  &since,
	})
}

func (s *Service) CountFailedLoginsByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	return s.repo.Count(ctx, Filter{
		IP:     ip,
		Action: ActionLogin,
		Status: StatusError,
		Since:  &since,
	})
}

func (s *Service) CountUserActions(ctx context.Context, userID uint, action string, since time.Time) (int64, error) {
	return s.repo.Count(ctx, Filter{
		UserID: &userID,
		Action: action,
		Since:  &since,
	})
}

func (s *Service) CountAnomaliesByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	anomaly := true
	return s.repo.Count(ctx, Filter{
		IP:        ip,
		IsAnomaly: &anomaly,
		Since:     &since,
	})
}

// RecentLoginIPs returns the distinct source ips of the user's most recent
// login events inside the lookback window.
func (s *Service) RecentLoginIPs(ctx context.Context, userID uint) ([]string, error) {
	since := s.now().Add(-params.LoginIPLookback)
	return s.repo.RecentLoginIPs(ctx, userID, since, params.LoginIPSampleSize)
}

// SeenDevice reports whether any audit history exists for the device.
func (s *Service) SeenDevice(ctx context.Context, userID uint, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, nil
	}
	count, err := s.repo.Count(ctx, Filter{
		UserID:   &userID,
		DeviceID: deviceID,
	})
	return count > 0, err
}
