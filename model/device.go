package model

import (
	"time"

	"gorm.io/gorm"
)

// Device tracks per-user session metadata, one row per (UserID, DeviceID).
type Device struct {
	ID           uint   `gorm:"primarykey"`
	UserID       uint   `gorm:"uniqueIndex:idx_user_device;not null"`
	DeviceID     string `gorm:"uniqueIndex:idx_user_device;size:64;not null"`
	DeviceName   string `gorm:"size:128"`
	DeviceType   string `gorm:"size:32"` // desktop, mobile...
	UserAgent    string `gorm:"size:512"`
	IPAddress    string `gorm:"size:45"`
	LastActiveAt time.Time
	IsActive     bool  `gorm:"default:true;not null"`
	IsTrusted    bool  `gorm:"default:false;not null"`
	LoginCount   int64 `gorm:"default:0;not null"`
	LastLoginAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == 0 {
		d.ID = GenerateID()
	}
	return nil
}

func (Device) TableName() string {
	return "device"
}
