package models

import (
	"time"

	"gorm.io/datatypes"
)

// RequestOutcome is one archived admission event. Rows are written only by
// the export operation; the live ring buffer stays in memory.
type RequestOutcome struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp  time.Time      `gorm:"index" json:"timestamp"`
	ClientID   string         `gorm:"size:128;index" json:"client_id"`
	Route      string         `gorm:"size:256;index" json:"route"`
	State      string         `gorm:"size:16" json:"state"`
	StatusCode int            `json:"status_code"`
	LatencyUS  int64          `json:"latency_us"`
	Detail     datatypes.JSON `json:"detail"` // User agent, limit tier/value, remaining.
	CreatedAt  time.Time      `json:"created_at"`
}

// TableName pins the table name.
func (RequestOutcome) TableName() string { return "request_outcomes" }
