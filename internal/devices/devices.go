package devices

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/zenithcms/sentinel/model"
	"gorm.io/gorm"
)

// DeviceInfo carries the request attributes a login supplies about the
// client. DeviceID may be empty; the registry derives a fingerprint then.
type DeviceInfo struct {
	DeviceID   string
	DeviceName string
	DeviceType string
	UserAgent  string
	IP         string
}

// Registry tracks one record per (user, device) pair.
type Registry struct {
	repo DeviceRepository
	now  func() time.Time
}

func NewRegistry(repo DeviceRepository) *Registry {
	return &Registry{
		repo: repo,
		now:  time.Now,
	}
}

// ResolveID returns the client-supplied device id, or the fingerprint
// fallback when none was supplied.
func (r *Registry) ResolveID(info DeviceInfo) string {
	if info.DeviceID != "" {
		return info.DeviceID
	}
	return Fingerprint(info.UserAgent, info.IP)
}

func (r *Registry) Get(ctx context.Context, userID uint, deviceID string) (*model.Device, error) {
	device, err := r.repo.Get(ctx, userID, deviceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return device, err
}

// Upsert creates the record on first login from a device and refreshes it on
// subsequent logins. LoginCount increments atomically in the update path.
func (r *Registry) Upsert(ctx context.Context, userID uint, info DeviceInfo) (*model.Device, error) {
	deviceID := r.ResolveID(info)
	now := r.now()

	existing, err := r.Get(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return r.refresh(ctx, userID, deviceID, info, now)
	}

	device := &model.Device{
		UserID:       userID,
		DeviceID:     deviceID,
		DeviceName:   info.DeviceName,
		DeviceType:   info.DeviceType,
		UserAgent:    info.UserAgent,
		IPAddress:    info.IP,
		LastActiveAt: now,
		IsActive:     true,
		LoginCount:   1,
		LastLoginAt:  now,
	}
	if device.DeviceName == "" {
		device.DeviceName = DisplayName(info.UserAgent)
	}
	if device.DeviceType == "" {
		device.DeviceType = DeviceType(info.UserAgent)
	}

	var mysqlErr *mysql.MySQLError
	err = r.repo.Create(ctx, device)
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		// lost a concurrent first-login race, fall through to the update path
		return r.refresh(ctx, userID, deviceID, info, now)
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

func (r *Registry) refresh(ctx context.Context, userID uint, deviceID string, info DeviceInfo, now time.Time) (*model.Device, error) {
	columns := map[string]interface{}{
		"login_count":    gorm.Expr("login_count + ?", 1),
		"last_active_at": now,
		"last_login_at":  now,
		"is_active":      true,
	}
	if info.DeviceName != "" {
		columns["device_name"] = info.DeviceName
	}
	if info.DeviceType != "" {
		columns["device_type"] = info.DeviceType
	}
	if info.UserAgent != "" {
		columns["user_agent"] = info.UserAgent
	}
	if info.IP != "" {
		columns["ip_address"] = info.IP
	}
	if _, err := r.repo.Updates(ctx, userID, deviceID, columns); err != nil {
		return nil, err
	}
	return r.repo.Get(ctx, userID, deviceID)
}

// List returns all devices of a user ordered by last activity, newest first.
func (r *Registry) List(ctx context.Context, userID uint) ([]*model.Device, error) {
	return r.repo.List(ctx, userID)
}

func (r *Registry) ListActive(ctx context.Context, userID uint) ([]*model.Device, error) {
	return r.repo.ListActive(ctx, userID)
}

// Deactivate marks a device inactive. A missing record is not an error; the
// return value reports whether anything changed.
func (r *Registry) Deactivate(ctx context.Context, userID uint, deviceID string) (bool, error) {
	affected, err := r.repo.Updates(ctx, userID, deviceID, map[string]interface{}{
		"is_active": false,
	})
	return affected > 0, err
}

func (r *Registry) Delete(ctx context.Context, userID uint, deviceID string) (bool, error) {
	affected, err := r.repo.Delete(ctx, userID, deviceID)
	return affected > 0, err
}

func (r *Registry) SetTrusted(ctx context.Context, userID uint, deviceID string, trusted bool) (bool, error) {
	affected, err := r.repo.Updates(ctx, userID, deviceID, map[string]interface{}{
		"is_trusted": trusted,
	})
	return affected > 0, err
}
