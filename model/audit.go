package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSON is a free-form key/value column stored as a MySQL JSON value.
type JSON map[string]any

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSON) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	return json.Unmarshal(data, j)
}

func (JSON) GormDataType() string {
	return "json"
}

// AuditEvent is an immutable security event record. Rows are never updated
// after insert; the retention sweep is the only delete path.
type AuditEvent struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	TraceID       string `gorm:"size:64;index"`          // correlation id spanning multiple events
	UserID        uint   `gorm:"index"`                  // zero for anonymous/pre-auth events
	Username      string `gorm:"size:64;index"`          // snapshot of username at event time
	Action        string `gorm:"size:64;not null;index"` // login, logout, user_delete...
	Resource      string `gorm:"size:128;index"`
	ResourceID    string `gorm:"size:64;index"`
	IP            string `gorm:"size:45;index"` // IPv4/IPv6
	UserAgent     string `gorm:"size:512"`
	DeviceID      string `gorm:"size:64;index"`
	Method        string `gorm:"size:16"`
	URL           string `gorm:"size:512"`
	Params        JSON   `gorm:"type:json"` // redacted request snapshot
	Response      JSON   `gorm:"type:json"` // redacted response snapshot
	Status        string `gorm:"size:16;not null;index"`
	Severity      string `gorm:"size:16;not null;index"`
	ErrorMessage  string `gorm:"size:512"`
	ErrorCode     string `gorm:"size:64"`
	ErrorStack    string `gorm:"type:text"`
	DurationMs    int64
	Metadata      JSON      `gorm:"type:json"`
	IsAnomaly     bool      `gorm:"index"`
	AnomalyReason string    `gorm:"size:1024"` // joined descriptions of triggered heuristics
	Timestamp     time.Time `gorm:"not null;index"`
}

func (AuditEvent) TableName() string {
	return "audit_event"
}
