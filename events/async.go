package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Async publishes on a background goroutine so callers never wait on subscribers.
// Failures are logged and otherwise ignored.
type Async struct {
	Next    Notifier
	Timeout time.Duration
	Logger  *logrus.Logger

	wg sync.WaitGroup
}

func NewAsync(next Notifier, timeout time.Duration, logger *logrus.Logger) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{Next: next, Timeout: timeout, Logger: logger}
}

func (a *Async) Publish(ctx context.Context, topic string, payload any) error {
	if a.Next == nil {
		return nil
	}
	// The request context is usually cancelled as soon as the response is written.
	base := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		pctx, cancel := context.WithTimeout(base, a.Timeout)
		defer cancel()
		if err := a.Next.Publish(pctx, topic, payload); err != nil && a.Logger != nil {
			a.Logger.WithFields(logrus.Fields{
				"module": "Events",
				"topic":  topic,
			}).Warn("event publish failed: " + err.Error())
		}
	}()
	return nil
}

// Wait blocks until in-flight publishes finish. Used on shutdown.
func (a *Async) Wait() {
	a.wg.Wait()
}
