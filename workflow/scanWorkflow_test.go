package workflow

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/events"
	"bitbucket.org/mmdatafocus/drum_backend/models"
	"github.com/sirupsen/logrus"
)

type publishedEvent struct {
	topic   string
	payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (r *recordingNotifier) Publish(ctx context.Context, topic string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publishedEvent{topic: topic, payload: payload})
	return r.err
}

func (r *recordingNotifier) snapshot() []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publishedEvent{}, r.events...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	return l
}

func defaultPolicy() ScanPolicy {
	return ScanPolicy{
		Cooldown:          60 * time.Minute,
		VerifyTransitions: true,
		OverDelivery:      OverDeliveryFlag,
		RecordOutbox:      true,
	}
}

func newTestService(store *memStore, policy ScanPolicy) (*ScanService, *recordingNotifier, *testClock) {
	notifier := &recordingNotifier{}
	clock := &testClock{now: time.Date(2024, time.January, 22, 8, 31, 59, 0, time.UTC)}
	svc := NewScanService(store, notifier, policy, quietLogger())
	svc.Now = clock.Now
	return svc, notifier, clock
}

func scan(svc *ScanService, raw string) *ScanResult {
	res := svc.Scan(context.Background(), ScanRequest{Barcode: raw, Source: ScanSourceHTTP})
	svc.Flush()
	return res
}

func TestScanPendingDrumIntoInventory(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 3)
	store.seedDrum(1024, 52, models.DrumStatusPending)
	svc, notifier, _ := newTestService(store, defaultPolicy())

	res := scan(svc, "52-H1024")
	if res.Outcome != ScanAccepted || res.HTTPStatus() != http.StatusOK {
		t.Fatalf("expected accepted/200, got %s/%d (%s)", res.Outcome, res.HTTPStatus(), res.Message)
	}
	if res.OldStatus != models.DrumStatusPending || res.NewStatus != models.DrumStatusAvailable {
		t.Fatalf("unexpected statuses %s -> %s", res.OldStatus, res.NewStatus)
	}
	if res.QuantityReceived == nil || *res.QuantityReceived != 4 {
		t.Fatalf("expected quantityReceived 4, got %v", res.QuantityReceived)
	}

	txs := store.txsFor(1024)
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}
	tx := txs[0]
	if tx.TxType != models.TransactionTypeIntake || tx.DrumId != 1024 || tx.OrderId == nil || *tx.OrderId != 52 {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if tx.TxNotes != NoteScannedIntoInventory || tx.Material != "Acetone" {
		t.Fatalf("unexpected transaction notes/material %+v", tx)
	}

	drum := store.drum(1024)
	if drum.Status != models.DrumStatusAvailable {
		t.Fatalf("expected drum available, got %s", drum.Status)
	}
	if drum.Location == nil || *drum.Location != models.DrumLocationNewSite {
		t.Fatalf("expected drum at new-site, got %v", drum.Location)
	}
	order := store.order(52)
	if order.QuantityReceived != 4 || order.Status != models.OrderStatusPartial {
		t.Fatalf("expected order 4/partial, got %d/%s", order.QuantityReceived, order.Status)
	}

	got := notifier.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	byTopic := map[string]any{}
	for _, e := range got {
		byTopic[e.topic] = e.payload
	}
	if ds, ok := byTopic[events.TopicDrumStatus].(events.DrumStatusEvent); !ok || ds != (events.DrumStatusEvent{DrumId: 1024, NewStatus: "available"}) {
		t.Fatalf("unexpected drumStatus event %#v", byTopic[events.TopicDrumStatus])
	}
	if ou, ok := byTopic[events.TopicOrderUpdate].(events.OrderUpdateEvent); !ok || ou != (events.OrderUpdateEvent{OrderId: 52, DrumId: 1024, NewQuantityReceived: 4}) {
		t.Fatalf("unexpected orderUpdate event %#v", byTopic[events.TopicOrderUpdate])
	}
	if len(store.outbox) != 2 || store.outbox[0].TxId != tx.TxId {
		t.Fatalf("expected 2 outbox rows for tx %d, got %+v", tx.TxId, store.outbox)
	}
}

func TestScanAgainWithinCooldownIsCancelled(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 3)
	store.seedDrum(1024, 52, models.DrumStatusPending)
	svc, notifier, clock := newTestService(store, defaultPolicy())

	if res := scan(svc, "52-H1024"); !res.Accepted() {
		t.Fatalf("first scan should be accepted: %+v", res)
	}
	clock.Advance(10 * time.Minute)
	before := len(notifier.snapshot())

	res := scan(svc, "52-H1024")
	if res.Reason != ReasonTooManyScans || res.HTTPStatus() != http.StatusTooManyRequests {
		t.Fatalf("expected TooManyScans/429, got %s/%d", res.Reason, res.HTTPStatus())
	}
	if res.MinutesSinceLastScan == nil || *res.MinutesSinceLastScan != 10 {
		t.Fatalf("expected 10 minutes, got %v", res.MinutesSinceLastScan)
	}

	txs := store.txsFor(1024)
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	cancelled := txs[1]
	if cancelled.TxType != models.TransactionTypeCancelled {
		t.Fatalf("expected cancelled transaction, got %s", cancelled.TxType)
	}
	if cancelled.TxNotes != "Scanned 10 minutes after most recent scan" {
		t.Fatalf("unexpected note %q", cancelled.TxNotes)
	}
	if store.drum(1024).Status != models.DrumStatusAvailable {
		t.Fatalf("drum status must not change")
	}
	if store.order(52).QuantityReceived != 4 {
		t.Fatalf("order quantity must not change")
	}
	if len(notifier.snapshot()) != before {
		t.Fatalf("cancelled scans must not publish events")
	}
}

func TestScanAfterCooldownMovesToProcessed(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 4)
	store.seedDrum(1024, 52, models.DrumStatusAvailable)
	svc, notifier, clock := newTestService(store, defaultPolicy())
	store.seedTx(1024, models.TransactionTypeIntake, clock.Now().Add(-60*time.Minute))

	res := scan(svc, "52-H1024 2024/01/22 08:31:59")
	if !res.Accepted() || res.NewStatus != models.DrumStatusProcessed {
		t.Fatalf("expected accepted -> processed, got %+v", res)
	}
	if res.QuantityReceived != nil {
		t.Fatalf("processing must not report a quantity")
	}
	txs := store.txsFor(1024)
	if len(txs) != 2 || txs[1].TxType != models.TransactionTypeProcessing || txs[1].TxNotes != NoteScannedOutOfInventory {
		t.Fatalf("expected one new processing transaction, got %+v", txs)
	}
	drum := store.drum(1024)
	if drum.DateProcessed == nil || !drum.DateProcessed.Equal(clock.Now()) {
		t.Fatalf("expected date_processed to be stamped, got %v", drum.DateProcessed)
	}
	if store.order(52).QuantityReceived != 4 {
		t.Fatalf("processing must not touch quantity_received")
	}
	got := notifier.snapshot()
	if len(got) != 1 || got[0].topic != events.TopicDrumStatus {
		t.Fatalf("expected only a drumStatus event, got %+v", got)
	}
}

func TestScanUnhandledStatusWritesNothing(t *testing.T) {
	for _, status := range []models.DrumStatus{
		models.DrumStatusProcessed, models.DrumStatusWasted, models.DrumStatusLost, models.DrumStatusScheduled,
	} {
		store := newMemStore()
		store.seedOrder(52, 10, 3)
		store.seedDrum(1024, 52, status)
		svc, notifier, _ := newTestService(store, defaultPolicy())

		res := scan(svc, "52-H1024")
		if res.Reason != ReasonUnhandledStatus || res.HTTPStatus() != http.StatusBadRequest {
			t.Fatalf("%s: expected UnhandledStatus/400, got %s/%d", status, res.Reason, res.HTTPStatus())
		}
		if n := len(store.txsFor(1024)); n != 0 {
			t.Fatalf("%s: expected no transactions, got %d", status, n)
		}
		if store.drum(1024).Status != status {
			t.Fatalf("%s: status changed", status)
		}
		if len(notifier.snapshot()) != 0 {
			t.Fatalf("%s: expected no events", status)
		}
	}
}

func TestScanUnknownDrum(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 3)
	svc, _, _ := newTestService(store, defaultPolicy())

	res := scan(svc, "52-H9999")
	if res.Reason != ReasonDrumNotFound || res.HTTPStatus() != http.StatusNotFound {
		t.Fatalf("expected DrumNotFound/404, got %s/%d", res.Reason, res.HTTPStatus())
	}
	if len(store.txs) != 0 {
		t.Fatalf("expected no transactions")
	}
}

func TestScanInvalidBarcodeNeverTouchesLedger(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(store, defaultPolicy())

	for _, raw := range []string{"", "hello", "52-1024", "52-H1024 yesterday", " 52-H1024", "52-H1024\n"} {
		res := scan(svc, raw)
		if res.Reason != ReasonInvalidFormat || res.HTTPStatus() != http.StatusBadRequest {
			t.Fatalf("%q: expected InvalidFormat/400, got %s/%d", raw, res.Reason, res.HTTPStatus())
		}
	}
	if store.calls != 0 || len(store.txs) != 0 {
		t.Fatalf("invalid barcodes must not open a ledger transaction")
	}
}

func TestScanVerificationFailureRollsBack(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 3)
	store.seedDrum(1024, 52, models.DrumStatusPending)
	store.dropStatusUpdates = true
	svc, notifier, _ := newTestService(store, defaultPolicy())

	res := scan(svc, "52-H1024")
	if res.Outcome != ScanFatal || res.Reason != ReasonTransitionVerificationFailed {
		t.Fatalf("expected fatal verification failure, got %s/%s", res.Outcome, res.Reason)
	}
	if res.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.HTTPStatus())
	}
	if !errors.Is(res.Err, ErrTransitionVerificationFailed) {
		t.Fatalf("expected wrapped verification error, got %v", res.Err)
	}
	if len(store.txsFor(1024)) != 0 || len(store.outbox) != 0 {
		t.Fatalf("failed verification must roll back every write")
	}
	if store.order(52).QuantityReceived != 3 {
		t.Fatalf("order must be unchanged, got %d", store.order(52).QuantityReceived)
	}
	if len(notifier.snapshot()) != 0 {
		t.Fatalf("no events on fatal outcome")
	}
}

func TestScanOverDeliveryIsFlagged(t *testing.T) {
	store := newMemStore()
	store.seedOrder(7, 2, 2)
	store.seedDrum(70, 7, models.DrumStatusPending)
	svc, _, _ := newTestService(store, defaultPolicy())

	res := scan(svc, "7-H70")
	if !res.Accepted() || !res.OverDelivered {
		t.Fatalf("expected accepted and flagged, got %+v", res)
	}
	order := store.order(7)
	if order.QuantityReceived != 3 || order.Status != models.OrderStatusComplete {
		t.Fatalf("expected 3/complete, got %d/%s", order.QuantityReceived, order.Status)
	}
}

func TestScanOverDeliveryRejected(t *testing.T) {
	store := newMemStore()
	store.seedOrder(7, 2, 2)
	store.seedDrum(70, 7, models.DrumStatusPending)
	policy := defaultPolicy()
	policy.OverDelivery = OverDeliveryReject
	svc, _, _ := newTestService(store, policy)

	res := scan(svc, "7-H70")
	if res.Reason != ReasonOverDelivery || res.HTTPStatus() != http.StatusConflict {
		t.Fatalf("expected OverDelivery/409, got %s/%d", res.Reason, res.HTTPStatus())
	}
	if len(store.txsFor(70)) != 0 || store.drum(70).Status != models.DrumStatusPending || store.order(7).QuantityReceived != 2 {
		t.Fatalf("rejected over-delivery must write nothing")
	}
}

func TestScanUsesDrumOrderOverLabelOrder(t *testing.T) {
	store := newMemStore()
	store.seedOrder(7, 5, 0)
	store.seedOrder(99, 5, 0)
	store.seedDrum(5, 7, models.DrumStatusPending)
	svc, _, _ := newTestService(store, defaultPolicy())

	res := scan(svc, "99-H5")
	if !res.Accepted() || res.OrderId != 7 {
		t.Fatalf("expected accepted against order 7, got %+v", res)
	}
	if store.order(7).QuantityReceived != 1 || store.order(99).QuantityReceived != 0 {
		t.Fatalf("wrong order incremented: 7=%d 99=%d", store.order(7).QuantityReceived, store.order(99).QuantityReceived)
	}
}

func TestScanWithCooldownDisabled(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 0)
	store.seedDrum(1024, 52, models.DrumStatusPending)
	policy := defaultPolicy()
	policy.Cooldown = 0
	svc, _, _ := newTestService(store, policy)

	if res := scan(svc, "52-H1024"); res.NewStatus != models.DrumStatusAvailable {
		t.Fatalf("first scan: %+v", res)
	}
	if res := scan(svc, "52-H1024"); res.NewStatus != models.DrumStatusProcessed {
		t.Fatalf("second scan: %+v", res)
	}
}

func TestScanNotifierFailureKeepsTransition(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 3)
	store.seedDrum(1024, 52, models.DrumStatusPending)
	svc, notifier, _ := newTestService(store, defaultPolicy())
	notifier.err = errors.New("dashboard offline")

	res := scan(svc, "52-H1024")
	if !res.Accepted() {
		t.Fatalf("expected accepted, got %+v", res)
	}
	if store.drum(1024).Status != models.DrumStatusAvailable || store.order(52).QuantityReceived != 4 {
		t.Fatalf("notification failure must not undo the transition")
	}
}

func TestScanStoreFailureIsInternal(t *testing.T) {
	store := newMemStore()
	store.beginErr = errors.New("connection refused")
	svc, _, _ := newTestService(store, defaultPolicy())

	res := scan(svc, "52-H1024")
	if res.Outcome != ScanFatal || res.Reason != ReasonInternal || res.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("expected fatal internal 500, got %+v", res)
	}
}

func TestConcurrentScansOfOneDrumAreSerialized(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 3)
	store.seedDrum(1024, 52, models.DrumStatusPending)
	svc, _, _ := newTestService(store, defaultPolicy())

	const n = 20
	results := make([]*ScanResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Scan(context.Background(), ScanRequest{Barcode: "52-H1024"})
		}(i)
	}
	wg.Wait()
	svc.Flush()

	accepted, tooMany := 0, 0
	for _, r := range results {
		switch {
		case r.Accepted():
			accepted++
		case r.Reason == ReasonTooManyScans:
			tooMany++
		default:
			t.Fatalf("unexpected result %+v", r)
		}
	}
	if accepted != 1 || tooMany != n-1 {
		t.Fatalf("expected 1 accepted and %d rejected, got %d/%d", n-1, accepted, tooMany)
	}
	if got := store.order(52).QuantityReceived; got != 4 {
		t.Fatalf("expected quantity_received 4, got %d", got)
	}
	intakes := 0
	for _, tx := range store.txsFor(1024) {
		if tx.TxType == models.TransactionTypeIntake {
			intakes++
		}
	}
	if intakes != 1 {
		t.Fatalf("expected exactly 1 intake, got %d", intakes)
	}
}

func TestConcurrentIntakesOfOneOrderAllCount(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 0)
	for id := 1; id <= 10; id++ {
		store.seedDrum(id, 52, models.DrumStatusPending)
	}
	svc, _, _ := newTestService(store, defaultPolicy())

	var wg sync.WaitGroup
	for id := 1; id <= 10; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			svc.Scan(context.Background(), ScanRequest{Barcode: "52-H" + strconv.Itoa(id)})
		}(id)
	}
	wg.Wait()
	svc.Flush()

	order := store.order(52)
	if order.QuantityReceived != 10 || order.Status != models.OrderStatusComplete {
		t.Fatalf("expected 10/complete, got %d/%s", order.QuantityReceived, order.Status)
	}
}

type fakeLocker struct {
	mu       sync.Mutex
	err      error
	obtained int
	released int
}

func (f *fakeLocker) Obtain(ctx context.Context, drumId int, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.obtained++
	return func() {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
	}, nil
}

func TestScanReleasesDistributedLock(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 3)
	store.seedDrum(1024, 52, models.DrumStatusPending)
	svc, _, _ := newTestService(store, defaultPolicy())
	locker := &fakeLocker{}
	svc.Locker = locker

	scan(svc, "52-H1024")
	if locker.obtained != 1 || locker.released != 1 {
		t.Fatalf("expected lock obtained and released once, got %d/%d", locker.obtained, locker.released)
	}
}

func TestScanProceedsWhenDistributedLockUnavailable(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 3)
	store.seedDrum(1024, 52, models.DrumStatusPending)
	svc, _, _ := newTestService(store, defaultPolicy())
	svc.Locker = &fakeLocker{err: ErrScanLockNotObtained}

	if res := scan(svc, "52-H1024"); !res.Accepted() {
		t.Fatalf("expected accepted without redis lock, got %+v", res)
	}
}

func TestScanRecordsClientTimestamp(t *testing.T) {
	store := newMemStore()
	store.seedOrder(52, 10, 0)
	store.seedDrum(1024, 52, models.DrumStatusPending)
	svc, _, clock := newTestService(store, defaultPolicy())

	res := svc.Scan(context.Background(), ScanRequest{Barcode: "52-H1024", Timestamp: "2024-01-22T08:31:59Z", Source: ScanSourceHTTP})
	if !res.Accepted() {
		t.Fatalf("expected accepted, got %+v", res)
	}
	clock.Advance(5 * time.Minute)
	res = svc.Scan(context.Background(), ScanRequest{Barcode: "52-H1024", Timestamp: "2024-01-22T08:37:01Z", Source: ScanSourceHTTP})
	if res.Reason != ReasonTooManyScans {
		t.Fatalf("expected TooManyScans, got %+v", res)
	}
	svc.Flush()

	txs := store.txsFor(1024)
	if len(txs) != 2 {
		t.Fatalf("expected intake and cancelled rows, got %d", len(txs))
	}
	want := []string{"2024-01-22T08:31:59Z", "2024-01-22T08:37:01Z"}
	for i, tx := range txs {
		if tx.ClientTimestamp == nil || *tx.ClientTimestamp != want[i] {
			t.Fatalf("row %d: expected client timestamp %s, got %v", i, want[i], tx.ClientTimestamp)
		}
	}
	if !txs[0].TxDate.Equal(time.Date(2024, time.January, 22, 8, 31, 59, 0, time.UTC)) {
		t.Fatalf("tx_date must come from the server clock, got %s", txs[0].TxDate)
	}
}
