package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

var ErrScanLockNotObtained = errors.New("drum scan lock not obtained")

// DrumLocker is a cross-instance lock taken before the database transaction.
// It only narrows contention; correctness comes from the database lock.
type DrumLocker interface {
	Obtain(ctx context.Context, drumId int, ttl time.Duration) (release func(), err error)
}

type RedisDrumLocker struct {
	Client *redislock.Client
}

func (r *RedisDrumLocker) Obtain(ctx context.Context, drumId int, ttl time.Duration) (func(), error) {
	if r.Client == nil {
		return nil, errors.New("redis lock not initialized")
	}
	lock, err := r.Client.Obtain(ctx, drumScanLockName(drumId), ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 40),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: drum %d", ErrScanLockNotObtained, drumId)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Release(ctx)
	}, nil
}

// lockDrum degrades to database locking only when the distributed lock is unavailable.
func (s *ScanService) lockDrum(ctx context.Context, drumId int) func() {
	if s.Locker == nil {
		return func() {}
	}
	ttl := s.Policy.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	release, err := s.Locker.Obtain(ctx, drumId, ttl)
	if err != nil {
		s.logger().WithFields(logrus.Fields{"module": "Scan", "drum_id": drumId}).Warn("continuing without distributed drum lock: " + err.Error())
		return func() {}
	}
	return release
}

// DrumLockerFromConfig returns nil until Redis is connected.
func DrumLockerFromConfig() DrumLocker {
	if c := config.GetRedisLock(); c != nil {
		return &RedisDrumLocker{Client: c}
	}
	return nil
}
