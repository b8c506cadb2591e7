// reconcile-orders compares each order's quantity_received with the intake
// transactions recorded against it. With -fix, mismatched orders are rewritten
// from the ledger and their status re-derived.
//
// Each order is checked and fixed under its row lock, so it is safe to run
// while scanners are live.
//
// Usage (from backend directory):
//   go run ./cmd/reconcile-orders            # report only
//   go run ./cmd/reconcile-orders -fix
//   go run ./cmd/reconcile-orders -order-id 52 -fix
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"bitbucket.org/mmdatafocus/drum_backend/models"
)

func main() {
	orderID := flag.Int("order-id", 0, "Optional: reconcile only this order")
	fix := flag.Bool("fix", false, "Rewrite quantity_received and status from the ledger")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	var ids []int
	q := db.WithContext(ctx).Model(&models.Order{}).Order("order_id")
	if *orderID > 0 {
		q = q.Where("order_id = ?", *orderID)
	}
	if err := q.Pluck("order_id", &ids).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list orders: %v\n", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "no orders found")
		return
	}

	mismatched, fixed, failed := 0, 0, 0
	for _, id := range ids {
		r, err := models.ReconcileOrderReceived(ctx, id, *fix)
		if err != nil {
			fmt.Fprintf(os.Stderr, "order %d: %v\n", id, err)
			failed++
			continue
		}
		if !r.Mismatched() {
			continue
		}
		mismatched++
		fmt.Printf("order %d (%s): quantity_received=%d ledger_intakes=%d fixed=%v\n", r.OrderId, r.PoNumber, r.QuantityReceived, r.LedgerIntakes, r.Fixed)
		if r.Fixed {
			fixed++
		}
	}

	if fixed > 0 {
		if err := models.InvalidateActiveOrders(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: active order cache not invalidated: %v\n", err)
		}
	}
	fmt.Printf("checked=%d mismatched=%d fixed=%d failed=%d\n", len(ids), mismatched, fixed, failed)
	if failed > 0 || mismatched > fixed {
		os.Exit(3)
	}
}
