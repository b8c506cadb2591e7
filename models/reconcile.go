package models

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderReconciliation compares an order's counter with the intake rows in the ledger.
type OrderReconciliation struct {
	OrderId          int    `json:"order_id"`
	PoNumber         string `json:"po_number"`
	QuantityReceived int    `json:"quantity_received"`
	LedgerIntakes    int    `json:"ledger_intakes"`
	Fixed            bool   `json:"fixed"`
}

func (r OrderReconciliation) Mismatched() bool {
	return r.QuantityReceived != r.LedgerIntakes
}

// ReconcileOrderReceived locks the order row, recounts its intakes and, with fix, rewrites
// quantity_received and status from the ledger. Scans lock the same row before inserting an
// intake, so the count and the write cannot straddle a concurrent intake.
func ReconcileOrderReceived(ctx context.Context, orderId int, fix bool) (*OrderReconciliation, error) {
	var out *OrderReconciliation
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order Order
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderId).
			First(&order).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		}
		if err != nil {
			return err
		}

		// The locking read above does not open a snapshot, so this count sees every committed intake.
		counts, err := countIntakes(tx, []int{orderId})
		if err != nil {
			return err
		}
		out = &OrderReconciliation{
			OrderId:          order.OrderId,
			PoNumber:         order.PoNumber,
			QuantityReceived: order.QuantityReceived,
			LedgerIntakes:    int(counts[orderId]),
		}
		if !fix || !out.Mismatched() {
			return nil
		}

		err = tx.Model(&Order{}).Where("order_id = ?", orderId).Updates(map[string]interface{}{
			"quantity_received": out.LedgerIntakes,
			"status":            DeriveOrderStatus(order.Quantity, out.LedgerIntakes),
		}).Error
		if err != nil {
			return err
		}
		out.Fixed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
