// export-transactions writes the transaction ledger to an xlsx workbook.
//
// Usage (from backend directory):
//   go run ./cmd/export-transactions -from 2024-01-01 -to 2024-02-01 -out jan.xlsx
//   go run ./cmd/export-transactions -order-id 52 -upload
//
// -upload also stores the workbook in GCS_BUCKET and prints the object URL.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"bitbucket.org/mmdatafocus/drum_backend/models"
	"bitbucket.org/mmdatafocus/drum_backend/models/reports"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
)

func parseDay(flagName, raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -%s %q (want YYYY-MM-DD)\n", flagName, raw)
		os.Exit(2)
	}
	return &d
}

func main() {
	from := flag.String("from", "", "Optional: first day included (YYYY-MM-DD)")
	to := flag.String("to", "", "Optional: first day excluded (YYYY-MM-DD)")
	orderID := flag.Int("order-id", 0, "Optional: only transactions for this order")
	drumID := flag.Int("drum-id", 0, "Optional: only transactions for this drum")
	out := flag.String("out", "", "Output file (default: generated report name in the current directory)")
	upload := flag.Bool("upload", false, "Also upload the workbook to GCS_BUCKET")
	flag.Parse()

	q := models.TransactionQuery{From: parseDay("from", *from), To: parseDay("to", *to)}
	if *orderID > 0 {
		q.OrderId = orderID
	}
	if *drumID > 0 {
		q.DrumId = drumID
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	name := reports.TransactionReportFileName(q.From, q.To)
	if *out == "" {
		*out = name
	}

	var buf bytes.Buffer
	rows, err := reports.ExportTransactions(ctx, q, &buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d transactions to %s\n", rows, *out)

	if *upload {
		url, err := utils.UploadToGCS(ctx, utils.ReportObjectName(name), reports.ContentTypeXlsx, buf.Bytes())
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("uploaded:", url)
	}
}
