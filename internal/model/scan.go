package model

import (
	"time"
)

// ScanEvent is an immutable record of one successful resolution.
type ScanEvent struct {
	ID          int64     `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	ShortCodeID string    `json:"short_code_id" gorm:"size:36;index:idx_scan_events_code_time,priority:1;not null"`
	ScannedAt   time.Time `json:"scanned_at" gorm:"index:idx_scan_events_code_time,priority:2;not null"`
	IPAddress   string    `json:"ip_address" gorm:"size:45"`
	UserAgent   string    `json:"user_agent" gorm:"type:text"`
	Device      string    `json:"device" gorm:"size:16"`
	Browser     string    `json:"browser" gorm:"size:32"`
	OS          string    `json:"os" gorm:"size:32"`
	Country     string    `json:"country" gorm:"size:128"`
	City        string    `json:"city" gorm:"size:128"`
	Referrer    string    `json:"referrer" gorm:"type:text"`
}

func (ScanEvent) TableName() string {
	return "scan_events"
}
