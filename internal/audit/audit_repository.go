package audit

import (
	"context"
	"time"

	"github.com/zenithcms/sentinel/model"
	"gorm.io/gorm"
)

type eventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) scope(ctx context.Context, filter Filter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&model.AuditEvent{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Username != "" {
		q = q.Where("username LIKE ?", "%"+filter.Username+"%")
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.Resource != "" {
		q = q.Where("resource = ?", filter.Resource)
	}
	if filter.ResourceID != "" {
		q = q.Where("resource_id = ?", filter.ResourceID)
	}
	if filter.IP != "" {
		q = q.Where("ip = ?", filter.IP)
	}
	if filter.DeviceID != "" {
		q = q.Where("device_id = ?", filter.DeviceID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		q = q.Where("severity = ?", filter.Severity)
	}
	if filter.IsAnomaly != nil {
		q = q.Where("is_anomaly = ?", *filter.IsAnomaly)
	}
	if filter.Since != nil {
		q = q.Where("timestamp >= ?", *filter.Since)
	}
	if filter.Until != nil {
		q = q.Where("timestamp <= ?", *filter.Until)
	}
	return q
}

func (r *eventRepository) Create(ctx context.Context, event *model.AuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *eventRepository) Find(ctx context.Context, filter Filter, page Page) ([]*model.AuditEvent, int64, error) {
	var total int64
	if err := r.scope(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var events []*model.AuditEvent
	err := r.scope(ctx, filter).
		Order("timestamp DESC").
		Offset(page.offset()).
		Limit(page.Limit).
		Find(&events).Error
	return events, total, err
}

func (r *eventRepository) FindByTraceID(ctx context.Context, traceID string) ([]*model.AuditEvent, error) {
	var events []*model.AuditEvent
	err := r.db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		Order("timestamp ASC").
		Find(&events).Error
	return events, err
}

func (r *eventRepository) Count(ctx context.Context, filter Filter) (int64, error) {
	var count int64
	err := r.scope(ctx, filter).Count(&count).Error
	return count, err
}

func (r *eventRepository) RecentLoginIPs(ctx context.Context, userID uint, since time.Time, limit int) ([]string, error) {
	recent := r.db.WithContext(ctx).Model(&model.AuditEvent{}).
		Select("ip").
		Where("user_id = ? AND action = ? AND timestamp >= ? AND ip <> ''", userID, ActionLogin, since).
		Order("timestamp DESC").
		Limit(limit)

	var ips []string
	err := r.db.WithContext(ctx).
		Table("(?) AS recent", recent).
		Distinct().
		Pluck("ip", &ips).Error
	return ips, err
}

func (r *eventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&model.AuditEvent{})
	return res.RowsAffected, res.Error
}
