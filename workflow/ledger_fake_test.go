package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/models"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
)

// memStore is an in-memory LedgerStore. Each WithinDrumTx works on private copies
// that are written back only when fn succeeds, and scans of one drum run one at a time.
type memStore struct {
	mu     sync.Mutex
	drumMu map[int]*sync.Mutex
	drums  map[int]models.Drum
	orders map[int]models.Order
	txs    []models.Transaction
	outbox []models.ScanEventRecord
	nextTx int
	calls  int

	// dropStatusUpdates makes UpdateDrumStatus report success without changing anything.
	dropStatusUpdates bool
	beginErr          error
}

func newMemStore() *memStore {
	return &memStore{
		drumMu: map[int]*sync.Mutex{},
		drums:  map[int]models.Drum{},
		orders: map[int]models.Order{},
	}
}

func (s *memStore) seedOrder(id, quantity, received int) {
	s.orders[id] = models.Order{
		OrderId:          id,
		PoNumber:         "24-01-01-A-RS",
		Supplier:         "Acme Solvents",
		Material:         "Acetone",
		Quantity:         quantity,
		QuantityReceived: received,
		Status:           models.DeriveOrderStatus(quantity, received),
	}
}

func (s *memStore) seedDrum(id, orderId int, status models.DrumStatus) {
	oid := orderId
	s.drums[id] = models.Drum{DrumId: id, Material: "Acetone", Status: status, OrderId: &oid}
}

func (s *memStore) seedTx(drumId int, txType models.TransactionType, at time.Time) {
	s.nextTx++
	s.txs = append(s.txs, models.Transaction{
		TxId: s.nextTx, TxType: txType, DrumId: drumId, TxDate: at, CreatedAt: at, UpdatedAt: at,
	})
}

func (s *memStore) drum(id int) models.Drum {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drums[id]
}

func (s *memStore) order(id int) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) txsFor(drumId int) []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.DrumId == drumId {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) WithinDrumTx(ctx context.Context, drumId int, fn func(Ledger) error) error {
	s.mu.Lock()
	s.calls++
	if s.beginErr != nil {
		err := s.beginErr
		s.mu.Unlock()
		return err
	}
	lock := s.drumMu[drumId]
	if lock == nil {
		lock = &sync.Mutex{}
		s.drumMu[drumId] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	l := &memLedger{
		s:          s,
		drums:      map[int]models.Drum{},
		orders:     map[int]models.Order{},
		orderDelta: map[int]int{},
	}
	if err := fn(l); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range l.drums {
		s.drums[id] = d
	}
	for id, delta := range l.orderDelta {
		o := s.orders[id]
		o.QuantityReceived += delta
		o.Status = models.DeriveOrderStatus(o.Quantity, o.QuantityReceived)
		s.orders[id] = o
	}
	s.txs = append(s.txs, l.txs...)
	s.outbox = append(s.outbox, l.outbox...)
	return nil
}

type memLedger struct {
	s          *memStore
	drums      map[int]models.Drum
	orders     map[int]models.Order
	orderDelta map[int]int
	txs        []models.Transaction
	outbox     []models.ScanEventRecord
}

func (l *memLedger) GetDrum(ctx context.Context, drumId int) (*models.Drum, error) {
	if d, ok := l.drums[drumId]; ok {
		return &d, nil
	}
	l.s.mu.Lock()
	d, ok := l.s.drums[drumId]
	l.s.mu.Unlock()
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	l.drums[drumId] = d
	return &d, nil
}

func (l *memLedger) GetLastTransaction(ctx context.Context, drumId int) (*models.Transaction, error) {
	l.s.mu.Lock()
	all := append([]models.Transaction{}, l.s.txs...)
	l.s.mu.Unlock()
	all = append(all, l.txs...)

	var mine []models.Transaction
	for _, t := range all {
		if t.DrumId == drumId {
			mine = append(mine, t)
		}
	}
	if len(mine) == 0 {
		return nil, nil
	}
	sort.Slice(mine, func(i, j int) bool {
		if !mine[i].UpdatedAt.Equal(mine[j].UpdatedAt) {
			return mine[i].UpdatedAt.After(mine[j].UpdatedAt)
		}
		return mine[i].TxId > mine[j].TxId
	})
	last := mine[0]
	return &last, nil
}

func (l *memLedger) GetOrder(ctx context.Context, orderId int) (*models.Order, error) {
	if o, ok := l.orders[orderId]; ok {
		return &o, nil
	}
	l.s.mu.Lock()
	o, ok := l.s.orders[orderId]
	l.s.mu.Unlock()
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	l.orders[orderId] = o
	return &o, nil
}

func (l *memLedger) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	l.s.mu.Lock()
	l.s.nextTx++
	t.TxId = l.s.nextTx
	l.s.mu.Unlock()
	l.txs = append(l.txs, *t)
	return nil
}

func (l *memLedger) UpdateDrumStatus(ctx context.Context, drumId int, change DrumChange) error {
	d, err := l.GetDrum(ctx, drumId)
	if err != nil {
		return err
	}
	if l.s.dropStatusUpdates {
		return nil
	}
	d.Status = change.Status
	if change.Location != nil {
		loc := *change.Location
		d.Location = &loc
	}
	if change.DateProcessed != nil {
		at := *change.DateProcessed
		d.DateProcessed = &at
	}
	l.drums[drumId] = *d
	return nil
}

func (l *memLedger) IncrementOrderReceived(ctx context.Context, orderId int) (*models.Order, error) {
	o, err := l.GetOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}
	o.QuantityReceived++
	o.Status = models.DeriveOrderStatus(o.Quantity, o.QuantityReceived)
	l.orders[orderId] = *o
	l.orderDelta[orderId]++
	return o, nil
}

func (l *memLedger) RecordScanEvents(ctx context.Context, records []models.ScanEventRecord) error {
	l.outbox = append(l.outbox, records...)
	return nil
}
