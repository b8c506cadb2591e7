package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/drum_backend/models"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedgerStore runs each scan in one MySQL transaction guarded by a named lock
// plus SELECT ... FOR UPDATE on the drum row.
type GormLedgerStore struct {
	DB              *gorm.DB
	LockWaitSeconds int
}

func NewGormLedgerStore(db *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{DB: db, LockWaitSeconds: 10}
}

func (s *GormLedgerStore) WithinDrumTx(ctx context.Context, drumId int, fn func(Ledger) error) error {
	if s.DB == nil {
		return errors.New("database not ready")
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireDrumScanLock(tx, drumId, s.LockWaitSeconds); err != nil {
			return err
		}
		defer ReleaseDrumScanLock(tx, drumId)
		return fn(&gormLedger{tx: tx})
	})
}

type gormLedger struct {
	tx *gorm.DB
}

func (l *gormLedger) GetDrum(ctx context.Context, drumId int) (*models.Drum, error) {
	var drum models.Drum
	err := l.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("drum_id = ?", drumId).
		First(&drum).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &drum, nil
}

func (l *gormLedger) GetLastTransaction(ctx context.Context, drumId int) (*models.Transaction, error) {
	var last models.Transaction
	err := l.tx.WithContext(ctx).
		Where("drum_id = ?", drumId).
		Order("updated_at DESC, tx_id DESC").
		First(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &last, nil
}

func (l *gormLedger) GetOrder(ctx context.Context, orderId int) (*models.Order, error) {
	var order models.Order
	err := l.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderId).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (l *gormLedger) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	return l.tx.WithContext(ctx).Create(t).Error
}

func (l *gormLedger) UpdateDrumStatus(ctx context.Context, drumId int, change DrumChange) error {
	updates := map[string]interface{}{"status": change.Status}
	if change.Location != nil {
		updates["location"] = *change.Location
	}
	if change.DateProcessed != nil {
		updates["date_processed"] = *change.DateProcessed
	}
	res := l.tx.WithContext(ctx).Model(&models.Drum{}).Where("drum_id = ?", drumId).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update drum %d: %w", drumId, utils.ErrorRecordNotFound)
	}
	return nil
}

func (l *gormLedger) IncrementOrderReceived(ctx context.Context, orderId int) (*models.Order, error) {
	res := l.tx.WithContext(ctx).Model(&models.Order{}).
		Where("order_id = ?", orderId).
		Update("quantity_received", gorm.Expr("quantity_received + 1"))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("increment order %d: %w", orderId, utils.ErrorRecordNotFound)
	}

	order, err := l.GetOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}
	status := models.DeriveOrderStatus(order.Quantity, order.QuantityReceived)
	if status != order.Status {
		if err := l.tx.WithContext(ctx).Model(&models.Order{}).
			Where("order_id = ?", orderId).
			Update("status", status).Error; err != nil {
			return nil, err
		}
		order.Status = status
	}
	return order, nil
}

func (l *gormLedger) RecordScanEvents(ctx context.Context, records []models.ScanEventRecord) error {
	if len(records) == 0 {
		return nil
	}
	return l.tx.WithContext(ctx).Create(&records).Error
}
