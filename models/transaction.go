package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"gorm.io/gorm"
)

var ErrTransactionImmutable = errors.New("transactions are append-only")

// Transaction is the audit record of one scan attempt. Rows are never updated or deleted.
type Transaction struct {
	TxId            int             `gorm:"primaryKey;column:tx_id" json:"tx_id"`
	TxType          TransactionType `gorm:"type:enum('intake','processing','cancelled');not null;index" json:"tx_type"`
	Material        string          `gorm:"size:100;not null" json:"material"`
	DrumId          int             `gorm:"not null;index:idx_tx_drum_latest,priority:1" json:"drum_id"`
	OrderId         *int            `gorm:"index" json:"order_id"`
	TxNotes         string          `gorm:"size:255" json:"tx_notes"`
	TxDate          time.Time       `gorm:"not null;index" json:"tx_date"`
	Source          string          `gorm:"size:32" json:"source"`
	ScannerId       *string         `gorm:"size:64" json:"scanner_id"`
	// ClientTimestamp is the scanner's own clock reading, stored as sent. Server time decides the cooldown.
	ClientTimestamp *string         `gorm:"size:64" json:"client_timestamp"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime;index:idx_tx_drum_latest,priority:2" json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) BeforeUpdate(tx *gorm.DB) error {
	return ErrTransactionImmutable
}

func (t *Transaction) BeforeDelete(tx *gorm.DB) error {
	return ErrTransactionImmutable
}

type TransactionQuery struct {
	Page    int
	Limit   int
	DrumId  *int
	OrderId *int
	TxType  *TransactionType
	From    *time.Time
	To      *time.Time
}

func (q TransactionQuery) apply(dbCtx *gorm.DB) *gorm.DB {
	if q.DrumId != nil {
		dbCtx = dbCtx.Where("drum_id = ?", *q.DrumId)
	}
	if q.OrderId != nil {
		dbCtx = dbCtx.Where("order_id = ?", *q.OrderId)
	}
	if q.TxType != nil {
		dbCtx = dbCtx.Where("tx_type = ?", *q.TxType)
	}
	if q.From != nil {
		dbCtx = dbCtx.Where("tx_date >= ?", *q.From)
	}
	if q.To != nil {
		dbCtx = dbCtx.Where("tx_date < ?", *q.To)
	}
	return dbCtx
}

// ListTransactions returns newest first.
func ListTransactions(ctx context.Context, q TransactionQuery) ([]*Transaction, int64, error) {
	page := NormalizePage(q.Page, q.Limit)
	dbCtx := q.apply(config.GetDB().WithContext(ctx).Model(&Transaction{}))

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var txs []*Transaction
	err := dbCtx.Order("tx_date DESC, tx_id DESC").Limit(page.Limit).Offset(page.Offset()).Find(&txs).Error
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// EachTransaction streams matching rows oldest first in batches, for exports.
func EachTransaction(ctx context.Context, q TransactionQuery, fn func(*Transaction) error) error {
	var batch []*Transaction
	dbCtx := q.apply(config.GetDB().WithContext(ctx).Model(&Transaction{})).Order("tx_id ASC")
	res := dbCtx.FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
		for _, t := range batch {
			if err := fn(t); err != nil {
				return err
			}
		}
		return nil
	})
	return res.Error
}

// IntakeCount is the number of intake transactions recorded against one order.
type IntakeCount struct {
	OrderId int   `json:"order_id"`
	Intakes int64 `json:"intakes"`
}

// countIntakes runs on tx so a caller holding the order row lock sees a count no scan can change.
func countIntakes(tx *gorm.DB, orderIds []int) (map[int]int64, error) {
	var rows []IntakeCount
	dbCtx := tx.Model(&Transaction{}).
		Select("order_id, COUNT(*) AS intakes").
		Where("tx_type = ? AND order_id IS NOT NULL", TransactionTypeIntake)
	if len(orderIds) > 0 {
		dbCtx = dbCtx.Where("order_id IN ?", orderIds)
	}
	if err := dbCtx.Group("order_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int]int64, len(rows))
	for _, r := range rows {
		out[r.OrderId] = r.Intakes
	}
	return out, nil
}
