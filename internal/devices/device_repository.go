package devices

import (
	"context"

	"github.com/zenithcms/sentinel/model"
	"gorm.io/gorm"
)

type DeviceRepository interface {
	Get(ctx context.Context, userID uint, deviceID string) (*model.Device, error)
	Create(ctx context.Context, device *model.Device) error
	List(ctx context.Context, userID uint) ([]*model.Device, error)
	ListActive(ctx context.Context, userID uint) ([]*model.Device, error)
	Updates(ctx context.Context, userID uint, deviceID string, columns map[string]interface{}) (int64, error)
	Delete(ctx context.Context, userID uint, deviceID string) (int64, error)
}

type deviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) Get(ctx context.Context, userID uint, deviceID string) (*model.Device, error) {
	var device model.Device
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepository) Create(ctx context.Context, device *model.Device) error {
	return r.db.WithContext(ctx).Create(device).Error
}

func (r *deviceRepository) List(ctx context.Context, userID uint) ([]*model.Device, error) {
	var devices []*model.Device
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_active_at DESC").
		Find(&devices).Error
	return devices, err
}

func (r *deviceRepository) ListActive(ctx context.Context, userID uint) ([]*model.Device, error) {
	var devices []*model.Device
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("last_active_at DESC").
		Find(&devices).Error
	return devices, err
}

func (r *deviceRepository) Updates(ctx context.Context, userID uint, deviceID string, columns map[string]interface{}) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Device{}).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Updates(columns)
	return res.RowsAffected, res.Error
}

func (r *deviceRepository) Delete(ctx context.Context, userID uint, deviceID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Delete(&model.Device{})
	return res.RowsAffected, res.Error
}
