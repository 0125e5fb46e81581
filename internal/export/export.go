// Package export archives monitor events to the relational store so
// outcomes survive the in-memory ring buffer. It sits on the operator
// surface, never the admission path.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/docquery/gatekeeper/internal/db"
	"github.com/docquery/gatekeeper/internal/models"
	"github.com/docquery/gatekeeper/internal/monitor"
)

// exportBatchSize bounds one insert statement.
const exportBatchSize = 500

// Archiver writes monitor events into the request_outcomes table.
type Archiver struct {
	db *gorm.DB
}

// NewArchiver constructs an Archiver.
func NewArchiver(conn *gorm.DB) *Archiver {
	return &Archiver{db: conn}
}

// Dialect reports which database dialect backs the archive.
func (a *Archiver) Dialect() string {
	if a == nil || a.db == nil {
		return ""
	}
	return db.DialectName(a.db)
}

// outcomeDetail is the JSON blob stored per row.
type outcomeDetail struct {
	UserAgent  string `json:"user_agent,omitempty"`
	LimitType  string `json:"limit_type,omitempty"`
	LimitValue uint   `json:"limit_value,omitempty"`
	Remaining  int64  `json:"remaining"`
}

// Export persists the given events and returns how many rows were written.
func (a *Archiver) Export(ctx context.Context, events []monitor.Event) (int, error) {
	if a == nil || a.db == nil {
		return 0, fmt.Errorf("export: archive database not configured")
	}
	if len(events) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([]models.RequestOutcome, 0, len(events))
	for _, ev := range events {
		detail, errMarshal := json.Marshal(outcomeDetail{
			UserAgent:  ev.UserAgent,
			LimitType:  ev.LimitType,
			LimitValue: ev.LimitValue,
			Remaining:  ev.Remaining,
		})
		if errMarshal != nil {
			return 0, fmt.Errorf("export: encode detail: %w", errMarshal)
		}
		rows = append(rows, models.RequestOutcome{
			Timestamp:  ev.Timestamp.UTC(),
			ClientID:   ev.ClientID,
			Route:      ev.Route,
			State:      ev.State.String(),
			StatusCode: ev.StatusCode,
			LatencyUS:  ev.Latency.Microseconds(),
			Detail:     datatypes.JSON(detail),
			CreatedAt:  now,
		})
	}

	if errCreate := a.db.WithContext(ctx).CreateInBatches(rows, exportBatchSize).Error; errCreate != nil {
		return 0, fmt.Errorf("export: insert outcomes: %w", errCreate)
	}
	return len(rows), nil
}

// Prune deletes archived rows older than horizon and reports how many went.
func (a *Archiver) Prune(ctx context.Context, horizon time.Duration) (int64, error) {
	if a == nil || a.db == nil {
		return 0, fmt.Errorf("export: archive database not configured")
	}
	cutoff := time.Now().UTC().Add(-horizon)
	res := a.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.RequestOutcome{})
	if res.Error != nil {
		return 0, fmt.Errorf("export: prune outcomes: %w", res.Error)
	}
	return res.RowsAffected, nil
}
