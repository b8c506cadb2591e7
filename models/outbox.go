package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
)

// Outbox publish statuses for ScanEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// ScanEventRecord is the transactional outbox for scan events.
// Rows are written in the same DB transaction as the scan; the dispatcher publishes after commit.
type ScanEventRecord struct {
	ID               int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	Topic            string     `gorm:"size:32;not null" json:"topic"`
	DrumId           int        `gorm:"not null;index" json:"drum_id"`
	OrderId          int        `gorm:"index" json:"order_id"`
	TxId             int        `gorm:"index" json:"tx_id"`
	Payload          []byte     `gorm:"type:blob" json:"payload"`
	OccurredAt       time.Time  `gorm:"not null" json:"occurred_at"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ScanEventRecord) TableName() string { return "scan_event_outbox" }

func ConvertToScanEventMessage(record ScanEventRecord) config.ScanEventMessage {
	return config.ScanEventMessage{
		ID:            record.ID,
		Topic:         record.Topic,
		DrumId:        record.DrumId,
		OrderId:       record.OrderId,
		TxId:          record.TxId,
		Payload:       record.Payload,
		OccurredAt:    record.OccurredAt,
		CorrelationId: record.CorrelationId,
	}
}

// ReplayOutbox moves FAILED/DEAD rows back to PENDING. drumId of 0 means all drums.
func ReplayOutbox(ctx context.Context, drumId int) (int64, error) {
	dbCtx := config.GetDB().WithContext(ctx).
		Model(&ScanEventRecord{}).
		Where("publish_status IN ?", []string{OutboxPublishStatusFailed, OutboxPublishStatusDead})
	if drumId > 0 {
		dbCtx = dbCtx.Where("drum_id = ?", drumId)
	}
	res := dbCtx.Updates(map[string]interface{}{
		"locked_at":        nil,
		"locked_by":        nil,
		"publish_status":   OutboxPublishStatusPending,
		"publish_attempts": 0,
		"next_attempt_at":  nil,
	})
	return res.RowsAffected, res.Error
}

// OutboxStatusCounts groups outbox rows by publish status.
func OutboxStatusCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		PublishStatus string
		Count         int64
	}
	err := config.GetDB().WithContext(ctx).Model(&ScanEventRecord{}).
		Select("publish_status, COUNT(*) AS count").
		Group("publish_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.PublishStatus] = r.Count
	}
	return out, nil
}
