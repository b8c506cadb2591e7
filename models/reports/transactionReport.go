package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"bitbucket.org/mmdatafocus/drum_backend/models"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	TransactionSheet = "Transactions"
	ContentTypeXlsx  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	reportTimeLayout = "2006-01-02 15:04:05"
)

var transactionHeadings = []interface{}{
	"TxId", "Date", "Type", "DrumId", "OrderId", "Material", "Notes", "Source", "ScannerId",
}

// TransactionWorkbook streams transaction rows into a single-sheet xlsx file.
type TransactionWorkbook struct {
	f       *excelize.File
	sw      *excelize.StreamWriter
	rows    int
	flushed bool
}

func NewTransactionWorkbook() (*TransactionWorkbook, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", TransactionSheet); err != nil {
		return nil, err
	}
	sw, err := f.NewStreamWriter(TransactionSheet)
	if err != nil {
		return nil, err
	}
	if err := sw.SetColWidth(7, 7, 48); err != nil {
		return nil, err
	}
	if err := sw.SetRow("A1", transactionHeadings); err != nil {
		return nil, err
	}
	return &TransactionWorkbook{f: f, sw: sw}, nil
}

func (w *TransactionWorkbook) Add(t *models.Transaction) error {
	if w.flushed {
		return fmt.Errorf("workbook already written")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.rows+2)
	if err != nil {
		return err
	}
	if err := w.sw.SetRow(cell, transactionCells(t)); err != nil {
		return err
	}
	w.rows++
	return nil
}

func (w *TransactionWorkbook) Rows() int {
	return w.rows
}

func (w *TransactionWorkbook) WriteTo(out io.Writer) (int64, error) {
	if !w.flushed {
		if err := w.sw.Flush(); err != nil {
			return 0, err
		}
		w.flushed = true
	}
	return w.f.WriteTo(out)
}

func (w *TransactionWorkbook) Close() error {
	return w.f.Close()
}

func transactionCells(t *models.Transaction) []interface{} {
	orderId := ""
	if t.OrderId != nil {
		orderId = fmt.Sprint(*t.OrderId)
	}
	return []interface{}{
		t.TxId,
		t.TxDate.UTC().Format(reportTimeLayout),
		string(t.TxType),
		t.DrumId,
		orderId,
		t.Material,
		t.TxNotes,
		t.Source,
		utils.DereferencePtr(t.ScannerId, ""),
	}
}

// ExportTransactions writes every transaction matching q to out and returns the row count.
func ExportTransactions(ctx context.Context, q models.TransactionQuery, out io.Writer) (int, error) {
	started := time.Now()
	wb, err := NewTransactionWorkbook()
	if err != nil {
		return 0, err
	}
	defer wb.Close()

	if err := models.EachTransaction(ctx, q, wb.Add); err != nil {
		return 0, fmt.Errorf("read transactions: %w", err)
	}
	if _, err := wb.WriteTo(out); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}

	config.GetLogger().WithFields(logrus.Fields{
		"module": "Reports",
		"rows":   wb.Rows(),
		"ms":     time.Since(started).Milliseconds(),
	}).Info("transaction report exported")
	return wb.Rows(), nil
}

// TransactionReportFileName names an export by its date range, e.g. transactions_2024-01-01_2024-02-01.xlsx.
func TransactionReportFileName(from, to *time.Time) string {
	name := "transactions"
	if from != nil {
		name += "_" + from.Format("2006-01-02")
	}
	if to != nil {
		name += "_" + to.Format("2006-01-02")
	}
	return name + ".xlsx"
}
