package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
	UserStatusBanned   = "banned"
)

// User stores user account information
type User struct {
	ID          uint   `gorm:"primarykey"`
	Username    string `gorm:"uniqueIndex;size:32;not null"`
	FullName    string `gorm:"size:64;not null"`
	Email       string `gorm:"uniqueIndex;size:256;not null"`
	Password    string `gorm:"size:64;not null"` // bcrypt hash
	Role        string `gorm:"size:16;not null;default:user"`
	Status      string `gorm:"size:16;not null;default:active"`
	LastLoginAt *time.Time
	LastLoginIP string `gorm:"size:45"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == 0 {
		u.ID = GenerateID()
	}
	return nil
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
