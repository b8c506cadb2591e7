package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrEtaWindow = errors.New("eta_end must not be before eta_start")

type Order struct {
	OrderId          int         `gorm:"primaryKey;column:order_id" json:"order_id"`
	PoNumber         string      `gorm:"size:32;not null;index" json:"po_number"`
	Supplier         string      `gorm:"size:150;not null;index" json:"supplier"`
	Material         string      `gorm:"size:100;not null" json:"material"`
	Quantity         int         `gorm:"not null" json:"quantity"`
	QuantityReceived int         `gorm:"not null;default:0" json:"quantity_received"`
	Status           OrderStatus `gorm:"type:enum('pending','partial','complete');not null;default:'pending';index" json:"status"`
	Notes            *string     `gorm:"type:text" json:"notes"`
	DateOrdered      time.Time   `gorm:"not null;index" json:"date_ordered"`
	EtaStart         *time.Time  `json:"eta_start"`
	EtaEnd           *time.Time  `json:"eta_end"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

type NewOrder struct {
	PoNumber    string     `json:"po_number" validate:"omitempty,max=32"`
	Supplier    string     `json:"supplier" validate:"required,max=150"`
	Material    string     `json:"material" validate:"required,max=100"`
	Quantity    int        `json:"quantity" validate:"required,gte=1,lte=1000"`
	Notes       *string    `json:"notes"`
	DateOrdered *time.Time `json:"date_ordered"`
	EtaStart    *time.Time `json:"eta_start"`
	EtaEnd      *time.Time `json:"eta_end" validate:"omitempty"`
}

// ActiveOrder is an order still awaiting drums, with delivery status derived at read time.
type ActiveOrder struct {
	Order
	EtaStatus       EtaStatus       `json:"eta_status"`
	ReceivedPercent decimal.Decimal `json:"received_percent"`
	Outstanding     int             `json:"outstanding"`
}

// EtaStatusAt: overdue once eta_end has passed with nothing received, confirmed once a start is set.
func (o *Order) EtaStatusAt(now time.Time) EtaStatus {
	if o.EtaEnd != nil && o.EtaEnd.Before(now) && o.Status == OrderStatusPending {
		return EtaStatusOverdue
	}
	if o.EtaStart != nil {
		return EtaStatusConfirmed
	}
	return EtaStatusTbc
}

// ReceivedPercent is quantity_received/quantity as a percentage, two decimals.
func (o *Order) ReceivedPercent() decimal.Decimal {
	if o.Quantity <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(o.QuantityReceived)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(o.Quantity))).
		Round(2)
}

// OverDeliveredAfter reports whether receiving more drums would push the order past its quantity.
func (o *Order) OverDeliveredAfter(more int) bool {
	return o.QuantityReceived+more > o.Quantity
}

func (input *NewOrder) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.EtaStart != nil && input.EtaEnd != nil && input.EtaEnd.Before(*input.EtaStart) {
		return ErrEtaWindow
	}
	return nil
}

// CreateOrder inserts the order and one pending drum per unit of quantity in a single transaction.
func CreateOrder(ctx context.Context, input *NewOrder, now time.Time) (*Order, []*Drum, error) {
	if err := input.validate(); err != nil {
		return nil, nil, err
	}

	var (
		order *Order
		drums []*Drum
	)
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poNumber := input.PoNumber
		if poNumber == "" {
			var err error
			poNumber, err = nextPoNumber(tx, now)
			if err != nil {
				return err
			}
		}
		dateOrdered := now
		if input.DateOrdered != nil {
			dateOrdered = *input.DateOrdered
		}
		order = &Order{
			PoNumber:    poNumber,
			Supplier:    input.Supplier,
			Material:    input.Material,
			Quantity:    input.Quantity,
			Status:      OrderStatusPending,
			Notes:       input.Notes,
			DateOrdered: dateOrdered,
			EtaStart:    input.EtaStart,
			EtaEnd:      input.EtaEnd,
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		drums = make([]*Drum, 0, input.Quantity)
		for i := 0; i < input.Quantity; i++ {
			orderId := order.OrderId
			drums = append(drums, &Drum{
				Material: input.Material,
				Status:   DrumStatusPending,
				OrderId:  &orderId,
			})
		}
		return tx.CreateInBatches(drums, 100).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return order, drums, nil
}

func GetOrder(ctx context.Context, orderId int) (*Order, error) {
	var order Order
	err := config.GetDB().WithContext(ctx).Where("order_id = ?", orderId).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetOrdersByIds preserves no particular order; callers key by OrderId.
func GetOrdersByIds(ctx context.Context, ids []int) ([]*Order, error) {
	var orders []*Order
	if len(ids) == 0 {
		return orders, nil
	}
	err := config.GetDB().WithContext(ctx).Where("order_id IN ?", utils.UniqueSlice(ids)).Find(&orders).Error
	return orders, err
}

type OrderQuery struct {
	Page      int
	Limit     int
	Statuses  []OrderStatus
	Supplier  string
	SortField string
	SortDesc  bool
}

var orderSortColumns = map[string]string{
	"order_id":     "order_id",
	"po_number":    "po_number",
	"supplier":     "supplier",
	"material":     "material",
	"date_ordered": "date_ordered",
	"eta_start":    "eta_start",
	"status":       "status",
}

func ListOrders(ctx context.Context, q OrderQuery) ([]*Order, int64, error) {
	page := NormalizePage(q.Page, q.Limit)
	orderBy, err := SortClause(orderSortColumns, q.SortField, q.SortDesc, "date_ordered")
	if err != nil {
		return nil, 0, err
	}

	dbCtx := config.GetDB().WithContext(ctx).Model(&Order{})
	if len(q.Statuses) > 0 {
		dbCtx = dbCtx.Where("status IN ?", q.Statuses)
	}
	if q.Supplier != "" {
		dbCtx = dbCtx.Where("supplier = ?", q.Supplier)
	}

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var orders []*Order
	if err := dbCtx.Order(orderBy).Limit(page.Limit).Offset(page.Offset()).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

const activeOrdersCacheScope = "active"

// GetActiveOrders lists pending/partial orders, cached briefly in Redis.
func GetActiveOrders(ctx context.Context, now time.Time) ([]ActiveOrder, error) {
	cached, ok, err := utils.RetrieveRedisList[Order](ctx, activeOrdersCacheScope)
	if err != nil {
		config.LogError(config.GetLogger(), "Orders", "GetActiveOrders", "redis read", nil, err)
	}
	orders := cached
	if !ok {
		err := config.GetDB().WithContext(ctx).
			Where("status IN ?", []OrderStatus{OrderStatusPending, OrderStatusPartial}).
			Order("eta_start IS NULL, eta_start ASC, date_ordered ASC").
			Find(&orders).Error
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedisList(ctx, orders, activeOrdersCacheScope); err != nil {
			config.LogError(config.GetLogger(), "Orders", "GetActiveOrders", "redis write", nil, err)
		}
	}
	return BuildActiveOrders(orders, now), nil
}

func BuildActiveOrders(orders []Order, now time.Time) []ActiveOrder {
	out := make([]ActiveOrder, 0, len(orders))
	for i := range orders {
		o := orders[i]
		outstanding := o.Quantity - o.QuantityReceived
		if outstanding < 0 {
			outstanding = 0
		}
		out = append(out, ActiveOrder{
			Order:           o,
			EtaStatus:       o.EtaStatusAt(now),
			ReceivedPercent: o.ReceivedPercent(),
			Outstanding:     outstanding,
		})
	}
	return out
}

// InvalidateActiveOrders drops the cached active-order list after receipts change.
func InvalidateActiveOrders(ctx context.Context) error {
	return utils.RemoveRedisList[Order](ctx, activeOrdersCacheScope)
}

// NextPoNumber previews the number the next order created today would get.
func NextPoNumber(ctx context.Context, now time.Time) (string, error) {
	return nextPoNumber(config.GetDB().WithContext(ctx), now)
}

func nextPoNumber(tx *gorm.DB, now time.Time) (string, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 1)

	var count int64
	err := tx.Model(&Order{}).
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return FormatPoNumber(now, int(count)), nil
}

// FormatPoNumber renders YY-MM-DD-<letter>-RS; the letter is A..E for the first five orders of the day, then X.
func FormatPoNumber(day time.Time, ordersToday int) string {
	letter := "X"
	if ordersToday >= 0 && ordersToday < 5 {
		letter = string(rune('A' + ordersToday))
	}
	return fmt.Sprintf("%s-%s-RS", day.Format("06-01-02"), letter)
}
