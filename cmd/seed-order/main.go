// seed-order creates a purchase order with its pending drums and prints the
// barcode for each drum, for labelling or scanner testing.
//
// Usage (from backend directory):
//   go run ./cmd/seed-order -supplier "Acme" -material "Resin" -quantity 4
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/barcode"
	"bitbucket.org/mmdatafocus/drum_backend/config"
	"bitbucket.org/mmdatafocus/drum_backend/models"
)

func main() {
	supplier := flag.String("supplier", "Seed Supplier", "Supplier name")
	material := flag.String("material", "Seed Material", "Material in each drum")
	quantity := flag.Int("quantity", 4, "Number of drums (1-1000)")
	etaDays := flag.Int("eta-days", 0, "Optional: ETA window end, in days from now")
	migrate := flag.Bool("migrate", false, "Run migrations first")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if *migrate {
		models.MigrateTable(db)
	}

	now := time.Now().UTC()
	input := &models.NewOrder{
		Supplier: strings.TrimSpace(*supplier),
		Material: strings.TrimSpace(*material),
		Quantity: *quantity,
	}
	if *etaDays > 0 {
		end := now.AddDate(0, 0, *etaDays)
		input.EtaStart = &now
		input.EtaEnd = &end
	}

	order, drums, err := models.CreateOrder(ctx, input, now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create order: %v\n", err)
		os.Exit(1)
	}
	if err := models.InvalidateActiveOrders(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: active order cache not invalidated: %v\n", err)
	}

	fmt.Printf("order %d %s (%s, %s) x%d\n", order.OrderId, order.PoNumber, order.Supplier, order.Material, order.Quantity)
	for _, d := range drums {
		fmt.Println(barcode.Encode(order.OrderId, d.DrumId))
	}
}
