package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/models"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

const staleIdempotencyAfter = 5 * time.Minute

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func BeginIdempotency(tx *gorm.DB, handlerName, messageId string) (skip bool, err error) {
	key := models.IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !utils.IsDuplicateKey(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// Another worker holds it; a stale STARTED row is taken over.
		if time.Since(existing.UpdatedAt) < staleIdempotencyAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	return false, tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func MarkIdempotencySucceeded(tx *gorm.DB, handlerName, messageId string, outcome string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "outcome": &outcome, "last_error": nil}).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}

// Scanner is the part of ScanService the ingestion paths need.
type Scanner interface {
	Scan(ctx context.Context, req ScanRequest) *ScanResult
}

// IdempotencyStore abstracts the three idempotency calls so ingestion can be tested without MySQL.
type IdempotencyStore interface {
	Begin(ctx context.Context, handlerName, messageId string) (skip bool, err error)
	Succeeded(ctx context.Context, handlerName, messageId, outcome string) error
	Failed(ctx context.Context, handlerName, messageId string, cause error) error
}

type GormIdempotencyStore struct {
	DB *gorm.DB
}

func (g *GormIdempotencyStore) Begin(ctx context.Context, handlerName, messageId string) (bool, error) {
	return BeginIdempotency(g.DB.WithContext(ctx), handlerName, messageId)
}

func (g *GormIdempotencyStore) Succeeded(ctx context.Context, handlerName, messageId, outcome string) error {
	return MarkIdempotencySucceeded(g.DB.WithContext(ctx), handlerName, messageId, outcome)
}

func (g *GormIdempotencyStore) Failed(ctx context.Context, handlerName, messageId string, cause error) error {
	return MarkIdempotencyFailed(g.DB.WithContext(ctx), handlerName, messageId, cause)
}

const ScannerHandlerName = "scanner-ingest"

// MessageDisposition tells the Pub/Sub layer whether to ack.
type MessageDisposition int

const (
	// DispositionAck: processed (accepted or a final rejection) or a known duplicate.
	DispositionAck MessageDisposition = iota
	// DispositionRetry: infrastructure failure; redeliver later.
	DispositionRetry
)

// ProcessScannerMessage applies one scanner message at most once per message id.
// Domain rejections are final and acked; fatal outcomes are retried.
func ProcessScannerMessage(ctx context.Context, store IdempotencyStore, scanner Scanner, messageId string, req ScanRequest) (*ScanResult, MessageDisposition, error) {
	if messageId != "" && store != nil {
		skip, err := store.Begin(ctx, ScannerHandlerName, messageId)
		if err != nil {
			return nil, DispositionRetry, err
		}
		if skip {
			return nil, DispositionAck, nil
		}
	}

	res := scanner.Scan(ctx, req)
	if res.Outcome == ScanFatal && res.Reason == ReasonInternal {
		if messageId != "" && store != nil {
			_ = store.Failed(ctx, ScannerHandlerName, messageId, res.Err)
		}
		return res, DispositionRetry, res.Err
	}

	if messageId != "" && store != nil {
		outcome := string(res.Outcome)
		if res.Reason != "" {
			outcome += ":" + string(res.Reason)
		}
		if err := store.Succeeded(ctx, ScannerHandlerName, messageId, outcome); err != nil {
			// The scan committed; a redelivery would only add a cancelled audit row.
			return res, DispositionAck, err
		}
	}
	return res, DispositionAck, nil
}
