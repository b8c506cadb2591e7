package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/drum_backend/models"
)

var ErrTransitionVerificationFailed = errors.New("transition verification failed")

type transitionExpectation struct {
	DrumId       int
	Status       models.DrumStatus
	OrderId      int
	WantReceived *int
}

// verifyTransition re-reads state through the open ledger transaction.
func verifyTransition(ctx context.Context, l Ledger, want transitionExpectation) error {
	drum, err := l.GetDrum(ctx, want.DrumId)
	if err != nil {
		return fmt.Errorf("%w: re-read drum %d: %v", ErrTransitionVerificationFailed, want.DrumId, err)
	}
	if drum.Status != want.Status {
		return fmt.Errorf("%w: drum %d status is %s, expected %s", ErrTransitionVerificationFailed, want.DrumId, drum.Status, want.Status)
	}
	if want.WantReceived == nil {
		return nil
	}
	order, err := l.GetOrder(ctx, want.OrderId)
	if err != nil {
		return fmt.Errorf("%w: re-read order %d: %v", ErrTransitionVerificationFailed, want.OrderId, err)
	}
	if order.QuantityReceived != *want.WantReceived {
		return fmt.Errorf("%w: order %d quantity_received is %d, expected %d",
			ErrTransitionVerificationFailed, want.OrderId, order.QuantityReceived, *want.WantReceived)
	}
	return nil
}
