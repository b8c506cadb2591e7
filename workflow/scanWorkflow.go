package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/barcode"
	"bitbucket.org/mmdatafocus/drum_backend/config"
	"bitbucket.org/mmdatafocus/drum_backend/events"
	"bitbucket.org/mmdatafocus/drum_backend/models"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("bitbucket.org/mmdatafocus/drum_backend/workflow")

type OverDeliveryPolicy string

const (
	OverDeliveryFlag   OverDeliveryPolicy = "flag"
	OverDeliveryReject OverDeliveryPolicy = "reject"
)

type ScanPolicy struct {
	Cooldown          time.Duration
	VerifyTransitions bool
	OverDelivery      OverDeliveryPolicy
	// RecordOutbox writes scan events to the outbox for the Pub/Sub dispatcher.
	RecordOutbox bool
	LockTTL      time.Duration
	Timeout      time.Duration
}

func ScanPolicyFromEnv() ScanPolicy {
	return ScanPolicy{
		Cooldown:          config.ScanCooldown(),
		VerifyTransitions: config.VerifyTransitions(),
		OverDelivery:      OverDeliveryPolicy(config.OverDeliveryPolicy()),
		RecordOutbox:      config.ScanEventsTopic() != "",
		LockTTL:           config.ScanLockTTL(),
		Timeout:           config.ScanTimeout(),
	}
}

const (
	ScanSourceHTTP   = "http"
	ScanSourceBatch  = "batch"
	ScanSourcePubSub = "pubsub"
)

type ScanRequest struct {
	Barcode   string `json:"barcode" validate:"required,max=64"`
	Timestamp string `json:"timestamp" validate:"required,max=64"`
	ScannerId string `json:"scanner_id" validate:"max=64"`
	Source    string `json:"-"`
}

// ScanService runs a scan through decode, rescan guard, transition, verification and notification.
type ScanService struct {
	Store    LedgerStore
	Notifier events.Notifier
	Locker   DrumLocker
	Policy   ScanPolicy
	Logger   *logrus.Logger
	Now      func() time.Time
}

// NewScanService wraps notifier so publishing never blocks a scan response.
func NewScanService(store LedgerStore, notifier events.Notifier, policy ScanPolicy, logger *logrus.Logger) *ScanService {
	var n events.Notifier
	if notifier != nil {
		n = events.NewAsync(notifier, 5*time.Second, logger)
	}
	return &ScanService{
		Store:    store,
		Notifier: n,
		Policy:   policy,
		Logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

type pendingEvent struct {
	topic   string
	payload any
}

func (s *ScanService) Scan(ctx context.Context, req ScanRequest) *ScanResult {
	ctx, span := tracer.Start(ctx, "ScanService.Scan", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	decoded, err := barcode.Decode(req.Barcode)
	if err != nil {
		res := rejected(ReasonInvalidFormat, "Invalid barcode format")
		res.Err = err
		s.logOutcome(req, res)
		return res
	}
	span.SetAttributes(
		attribute.Int("drum.id", decoded.DrumId),
		attribute.Int("order.id", decoded.OrderId),
		attribute.String("scan.source", req.Source),
	)

	if s.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Policy.Timeout)
		defer cancel()
	}

	release := s.lockDrum(ctx, decoded.DrumId)
	defer release()

	now := s.now()
	var (
		res     *ScanResult
		pending []pendingEvent
	)
	err = s.Store.WithinDrumTx(ctx, decoded.DrumId, func(l Ledger) error {
		var applyErr error
		res, pending, applyErr = s.apply(ctx, l, decoded, req, now)
		return applyErr
	})
	if err != nil {
		res = fatalResult(decoded, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.Reason))
		s.logOutcome(req, res)
		return res
	}

	span.SetAttributes(attribute.String("scan.outcome", string(res.Outcome)), attribute.String("scan.reason", string(res.Reason)))
	s.logOutcome(req, res)
	if res.Accepted() {
		s.notify(ctx, pending)
		if res.TxType == models.TransactionTypeIntake {
			if err := models.InvalidateActiveOrders(ctx); err != nil {
				config.LogError(s.logger(), "Scan", "Scan", "invalidate active orders cache", res.OrderId, err)
			}
		}
	}
	return res
}

// apply runs inside the drum transaction. A returned error rolls back every write.
func (s *ScanService) apply(ctx context.Context, l Ledger, scan barcode.Scan, req ScanRequest, now time.Time) (*ScanResult, []pendingEvent, error) {
	drum, err := l.GetDrum(ctx, scan.DrumId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		res := rejected(ReasonDrumNotFound, fmt.Sprintf("Drum ID %d not found in database", scan.DrumId))
		res.DrumId = scan.DrumId
		res.OrderId = scan.OrderId
		return res, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	orderId := s.owningOrderId(drum, scan)
	res := &ScanResult{
		DrumId:    drum.DrumId,
		OrderId:   orderId,
		OldStatus: drum.Status,
		NewStatus: drum.Status,
	}

	last, err := l.GetLastTransaction(ctx, drum.DrumId)
	if err != nil {
		return nil, nil, err
	}
	decision := CheckScanRate(last, now, s.Policy.Cooldown)
	if !decision.Allowed {
		cancelled := s.newTransaction(drum, orderId, models.TransactionTypeCancelled, CancelledScanNote(decision), req, now)
		if err := l.CreateTransaction(ctx, cancelled); err != nil {
			return nil, nil, err
		}
		minutes := decision.ElapsedMinutes()
		res.Outcome = ScanRejected
		res.Reason = ReasonTooManyScans
		res.Message = cancelled.TxNotes
		res.TxId = cancelled.TxId
		res.TxType = cancelled.TxType
		res.MinutesSinceLastScan = &minutes
		return res, nil, nil
	}

	transition, ok := NextTransition(drum.Status)
	if !ok {
		res.Outcome = ScanRejected
		res.Reason = ReasonUnhandledStatus
		res.Message = fmt.Sprintf("Invalid or unhandled drum status for scanning: %s", drum.Status)
		return res, nil, nil
	}

	var before *models.Order
	if transition.IncrementsOrder {
		before, err = l.GetOrder(ctx, orderId)
		if err != nil {
			return nil, nil, fmt.Errorf("order %d for drum %d: %w", orderId, drum.DrumId, err)
		}
		if before.OverDeliveredAfter(1) {
			if s.Policy.OverDelivery == OverDeliveryReject {
				res.Outcome = ScanRejected
				res.Reason = ReasonOverDelivery
				res.Message = fmt.Sprintf("Order %d already received %d of %d drums", orderId, before.QuantityReceived, before.Quantity)
				return res, nil, nil
			}
			res.OverDelivered = true
			s.logger().WithFields(logrus.Fields{
				"module":            "Scan",
				"drum_id":           drum.DrumId,
				"order_id":          orderId,
				"quantity":          before.Quantity,
				"quantity_received": before.QuantityReceived,
			}).Warn("order over-delivered")
		}
	}

	t := s.newTransaction(drum, orderId, transition.TxType, transition.Notes, req, now)
	if err := l.CreateTransaction(ctx, t); err != nil {
		return nil, nil, err
	}
	change := DrumChange{Status: transition.To, Location: transition.Location}
	if transition.StampsProcessed {
		change.DateProcessed = &now
	}
	if err := l.UpdateDrumStatus(ctx, drum.DrumId, change); err != nil {
		return nil, nil, err
	}

	pending := []pendingEvent{{
		topic:   events.TopicDrumStatus,
		payload: events.DrumStatusEvent{DrumId: drum.DrumId, NewStatus: string(transition.To)},
	}}
	expect := transitionExpectation{DrumId: drum.DrumId, Status: transition.To}
	if transition.IncrementsOrder {
		order, err := l.IncrementOrderReceived(ctx, orderId)
		if err != nil {
			return nil, nil, err
		}
		received := order.QuantityReceived
		res.QuantityReceived = &received
		want := before.QuantityReceived + 1
		expect.OrderId = orderId
		expect.WantReceived = &want
		pending = append(pending, pendingEvent{
			topic:   events.TopicOrderUpdate,
			payload: events.OrderUpdateEvent{OrderId: orderId, DrumId: drum.DrumId, NewQuantityReceived: received},
		})
	}

	if s.Policy.VerifyTransitions {
		if err := verifyTransition(ctx, l, expect); err != nil {
			return nil, nil, err
		}
	}

	if s.Policy.RecordOutbox {
		records, err := outboxRecords(ctx, pending, drum.DrumId, orderId, t.TxId, now)
		if err != nil {
			return nil, nil, err
		}
		if err := l.RecordScanEvents(ctx, records); err != nil {
			return nil, nil, err
		}
	}

	res.Outcome = ScanAccepted
	res.NewStatus = transition.To
	res.TxId = t.TxId
	res.TxType = t.TxType
	res.Message = fmt.Sprintf("Drum %d moved from %s to %s", drum.DrumId, drum.Status, transition.To)
	return res, pending, nil
}

// owningOrderId prefers the drum's own order over the one printed on the label.
func (s *ScanService) owningOrderId(drum *models.Drum, scan barcode.Scan) int {
	if drum.OrderId == nil {
		return scan.OrderId
	}
	if *drum.OrderId != scan.OrderId {
		s.logger().WithFields(logrus.Fields{
			"module":        "Scan",
			"drum_id":       drum.DrumId,
			"label_order":   scan.OrderId,
			"drum_order_id": *drum.OrderId,
		}).Warn("barcode order does not match drum order")
	}
	return *drum.OrderId
}

func (s *ScanService) newTransaction(drum *models.Drum, orderId int, txType models.TransactionType, notes string, req ScanRequest, now time.Time) *models.Transaction {
	oid := orderId
	return &models.Transaction{
		TxType:          txType,
		Material:        drum.Material,
		DrumId:          drum.DrumId,
		OrderId:         &oid,
		TxNotes:         notes,
		TxDate:          now,
		Source:          req.Source,
		ScannerId:       utils.NilIfEmpty(req.ScannerId),
		ClientTimestamp: utils.NilIfEmpty(req.Timestamp),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func outboxRecords(ctx context.Context, pending []pendingEvent, drumId, orderId, txId int, now time.Time) ([]models.ScanEventRecord, error) {
	correlationId := utils.CorrelationIdOrNew(ctx)
	records := make([]models.ScanEventRecord, 0, len(pending))
	for _, p := range pending {
		payload, err := json.Marshal(p.payload)
		if err != nil {
			return nil, err
		}
		records = append(records, models.ScanEventRecord{
			Topic:         p.topic,
			DrumId:        drumId,
			OrderId:       orderId,
			TxId:          txId,
			Payload:       payload,
			OccurredAt:    now,
			PublishStatus: models.OutboxPublishStatusPending,
			CorrelationId: correlationId,
		})
	}
	return records, nil
}

func (s *ScanService) notify(ctx context.Context, pending []pendingEvent) {
	if s.Notifier == nil {
		return
	}
	for _, p := range pending {
		if err := s.Notifier.Publish(ctx, p.topic, p.payload); err != nil {
			config.LogError(s.logger(), "Scan", "notify", "publish "+p.topic, nil, err)
		}
	}
}

// Flush waits for in-flight notifications.
func (s *ScanService) Flush() {
	if a, ok := s.Notifier.(*events.Async); ok {
		a.Wait()
	}
}

func fatalResult(scan barcode.Scan, err error) *ScanResult {
	res := &ScanResult{
		Outcome: ScanFatal,
		Reason:  ReasonInternal,
		Message: "Internal server error",
		DrumId:  scan.DrumId,
		OrderId: scan.OrderId,
		Err:     err,
	}
	if errors.Is(err, ErrTransitionVerificationFailed) {
		res.Reason = ReasonTransitionVerificationFailed
		res.Message = "Drum state did not match the recorded transition"
	}
	return res
}

func (s *ScanService) logOutcome(req ScanRequest, res *ScanResult) {
	logger := s.logger()
	fields := logrus.Fields{
		"module":  "Scan",
		"barcode": req.Barcode,
		"source":  req.Source,
		"drum_id": res.DrumId,
		"outcome": res.Outcome,
		"reason":  res.Reason,
	}
	switch res.Outcome {
	case ScanAccepted:
		logger.WithFields(fields).Info(res.Message)
	case ScanRejected:
		logger.WithFields(fields).Warn(res.Message)
	default:
		config.LogError(logger, "Scan", "Scan", string(res.Reason), fields, res.Err)
	}
}

func (s *ScanService) logger() *logrus.Logger {
	if s.Logger == nil {
		return config.GetLogger()
	}
	return s.Logger
}

func (s *ScanService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}
