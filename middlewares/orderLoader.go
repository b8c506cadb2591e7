package middlewares

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/drum_backend/models"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type orderFetcher func(ctx context.Context, ids []int) ([]*models.Order, error)

func gormOrderFetcher(db *gorm.DB) orderFetcher {
	return func(ctx context.Context, ids []int) ([]*models.Order, error) {
		if db == nil {
			return nil, errors.New("database not connected")
		}
		var results []*models.Order
		err := db.WithContext(ctx).Where("order_id IN ?", ids).Find(&results).Error
		return results, err
	}
}

type orderReader struct {
	fetch orderFetcher
}

func (r *orderReader) getOrders(ctx context.Context, ids []int) []*dataloader.Result[*models.Order] {
	results, err := r.fetch(ctx, ids)
	if err != nil {
		return handleError[*models.Order](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(o *models.Order) int { return o.OrderId })
}

func GetOrder(ctx context.Context, id int) (*models.Order, error) {
	loaders := For(ctx)
	return loaders.orderLoader.Load(ctx, id)()
}

func GetOrders(ctx context.Context, ids []int) ([]*models.Order, []error) {
	loaders := For(ctx)
	return loaders.orderLoader.LoadMany(ctx, ids)()
}

// AttachOrderFields fills supplier and date_ordered on each drum from its order.
func AttachOrderFields(ctx context.Context, drums []*models.Drum) ([]models.DrumListItem, error) {
	var ids []int
	for _, d := range drums {
		if d.OrderId != nil {
			ids = append(ids, *d.OrderId)
		}
	}
	ids = utils.UniqueSlice(ids)

	byId := make(map[int]*models.Order, len(ids))
	if len(ids) > 0 {
		orders, errs := GetOrders(ctx, ids)
		for i, o := range orders {
			if i < len(errs) && errs[i] != nil {
				return nil, errs[i]
			}
			if o != nil {
				byId[o.OrderId] = o
			}
		}
	}

	items := make([]models.DrumListItem, 0, len(drums))
	for _, d := range drums {
		item := models.DrumListItem{Drum: *d}
		if d.OrderId != nil {
			if o := byId[*d.OrderId]; o != nil {
				supplier := o.Supplier
				ordered := o.DateOrdered
				item.Supplier = &supplier
				item.DateOrdered = &ordered
			}
		}
		items = append(items, item)
	}
	return items, nil
}
