package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/barcode"
	"bitbucket.org/mmdatafocus/drum_backend/middlewares"
	"bitbucket.org/mmdatafocus/drum_backend/models"
	"bitbucket.org/mmdatafocus/drum_backend/models/reports"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return n, nil
}

func queryIntPtr(c *gin.Context, key string) (*int, error) {
	if strings.TrimSpace(c.Query(key)) == "" {
		return nil, nil
	}
	n, err := queryInt(c, key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// queryDate accepts 2006-01-02 or RFC3339.
func queryDate(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be YYYY-MM-DD or RFC3339", key)
	}
	return &t, nil
}

func sortDesc(c *gin.Context) bool {
	return strings.EqualFold(c.Query("order"), "desc")
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
}

func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "id must be a positive number"})
		return 0, false
	}
	return id, true
}

func (a *app) listDrumsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			q   models.DrumQuery
			err error
		)
		if q.Page, err = queryInt(c, "page"); err != nil {
			badRequest(c, err)
			return
		}
		if q.Limit, err = queryInt(c, "limit"); err != nil {
			badRequest(c, err)
			return
		}
		if q.OrderId, err = queryIntPtr(c, "order_id"); err != nil {
			badRequest(c, err)
			return
		}
		if q.Statuses, err = models.ParseDrumStatuses(c.Query("status")); err != nil {
			badRequest(c, err)
			return
		}
		q.SortField = c.Query("sort")
		q.SortDesc = sortDesc(c)

		ctx := c.Request.Context()
		drums, total, err := models.ListDrums(ctx, q)
		if err != nil {
			if errors.Is(err, models.ErrInvalidQuery) {
				badRequest(c, err)
				return
			}
			internalError(c, err)
			return
		}
		items, err := middlewares.AttachOrderFields(ctx, drums)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewPageResult(items, models.NormalizePage(q.Page, q.Limit), total))
	}
}

func (a *app) getDrumHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		drum, err := models.GetDrum(c.Request.Context(), id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": fmt.Sprintf("Drum ID %d not found in database", id)})
			return
		}
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": drum})
	}
}

func (a *app) listOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			q   models.OrderQuery
			err error
		)
		if q.Page, err = queryInt(c, "page"); err != nil {
			badRequest(c, err)
			return
		}
		if q.Limit, err = queryInt(c, "limit"); err != nil {
			badRequest(c, err)
			return
		}
		for _, raw := range utils.SplitAndTrim(strings.ToLower(c.Query("status"))) {
			s := models.OrderStatus(raw)
			if !s.IsValid() {
				badRequest(c, fmt.Errorf("invalid order status %q", raw))
				return
			}
			q.Statuses = append(q.Statuses, s)
		}
		q.Supplier = strings.TrimSpace(c.Query("supplier"))
		q.SortField = c.Query("sort")
		q.SortDesc = sortDesc(c)

		orders, total, err := models.ListOrders(c.Request.Context(), q)
		if err != nil {
			if errors.Is(err, models.ErrInvalidQuery) {
				badRequest(c, err)
				return
			}
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewPageResult(orders, models.NormalizePage(q.Page, q.Limit), total))
	}
}

type createOrderResponse struct {
	Order    *models.Order  `json:"order"`
	Drums    []*models.Drum `json:"drums"`
	Barcodes []string       `json:"barcodes"`
}

func (a *app) createOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			invalidRequest(c, err)
			return
		}
		ctx := c.Request.Context()
		order, drums, err := models.CreateOrder(ctx, &input, a.now())
		if err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				invalidRequest(c, err)
				return
			}
			if errors.Is(err, models.ErrEtaWindow) {
				badRequest(c, err)
				return
			}
			internalError(c, err)
			return
		}
		if err := models.InvalidateActiveOrders(ctx); err != nil {
			_ = c.Error(err)
		}

		barcodes := make([]string, 0, len(drums))
		for _, d := range drums {
			barcodes = append(barcodes, barcode.Encode(order.OrderId, d.DrumId))
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": createOrderResponse{Order: order, Drums: drums, Barcodes: barcodes}})
	}
}

func (a *app) activeOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := models.GetActiveOrders(c.Request.Context(), a.now())
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": orders})
	}
}

func (a *app) nextPoNumberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		po, err := models.NextPoNumber(c.Request.Context(), a.now())
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"po_number": po}})
	}
}

func transactionQueryFrom(c *gin.Context) (models.TransactionQuery, error) {
	var (
		q   models.TransactionQuery
		err error
	)
	if q.Page, err = queryInt(c, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		return q, err
	}
	if q.DrumId, err = queryIntPtr(c, "drum_id"); err != nil {
		return q, err
	}
	if q.OrderId, err = queryIntPtr(c, "order_id"); err != nil {
		return q, err
	}
	if raw := strings.TrimSpace(c.Query("tx_type")); raw != "" {
		t, err := models.ParseTransactionType(strings.ToLower(raw))
		if err != nil {
			return q, err
		}
		q.TxType = &t
	}
	if q.From, err = queryDate(c, "from"); err != nil {
		return q, err
	}
	if q.To, err = queryDate(c, "to"); err != nil {
		return q, err
	}
	return q, nil
}

func (a *app) listTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := transactionQueryFrom(c)
		if err != nil {
			badRequest(c, err)
			return
		}
		txs, total, err := models.ListTransactions(c.Request.Context(), q)
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewPageResult(txs, models.NormalizePage(q.Page, q.Limit), total))
	}
}

// transactionsReportHandler streams the xlsx, or with upload=true stores it in GCS and returns the object uri.
func (a *app) transactionsReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := transactionQueryFrom(c)
		if err != nil {
			badRequest(c, err)
			return
		}
		ctx := c.Request.Context()
		fileName := reports.TransactionReportFileName(q.From, q.To)

		if strings.EqualFold(c.Query("upload"), "true") {
			var buf bytes.Buffer
			rows, err := reports.ExportTransactions(ctx, q, &buf)
			if err != nil {
				internalError(c, err)
				return
			}
			uri, err := utils.UploadToGCS(ctx, utils.ReportObjectName(fileName), reports.ContentTypeXlsx, buf.Bytes())
			if err != nil {
				internalError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"uri": uri, "rows": rows}})
			return
		}

		c.Header("Content-Type", reports.ContentTypeXlsx)
		c.Header("Content-Disposition", "attachment; filename="+fileName)
		c.Status(http.StatusOK)
		if _, err := reports.ExportTransactions(ctx, q, c.Writer); err != nil {
			_ = c.Error(err)
		}
	}
}
