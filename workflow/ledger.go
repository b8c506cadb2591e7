package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/models"
)

// Ledger is the storage view a single scan works against.
// Every call on one Ledger value runs inside the same database transaction.
type Ledger interface {
	// GetDrum returns utils.ErrorRecordNotFound when the drum does not exist.
	GetDrum(ctx context.Context, drumId int) (*models.Drum, error)
	// GetLastTransaction returns nil, nil when the drum has never been scanned.
	GetLastTransaction(ctx context.Context, drumId int) (*models.Transaction, error)
	GetOrder(ctx context.Context, orderId int) (*models.Order, error)
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	UpdateDrumStatus(ctx context.Context, drumId int, change DrumChange) error
	// IncrementOrderReceived adds one received drum and re-derives the order status.
	IncrementOrderReceived(ctx context.Context, orderId int) (*models.Order, error)
	RecordScanEvents(ctx context.Context, records []models.ScanEventRecord) error
}

type DrumChange struct {
	Status        models.DrumStatus
	Location      *models.DrumLocation
	DateProcessed *time.Time
}

// LedgerStore serializes scans of the same drum. fn's error rolls everything back.
type LedgerStore interface {
	WithinDrumTx(ctx context.Context, drumId int, fn func(Ledger) error) error
}
