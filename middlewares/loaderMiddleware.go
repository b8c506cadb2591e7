package middlewares

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"bitbucket.org/mmdatafocus/drum_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders batch lookups made while building one response.
type Loaders struct {
	orderLoader *dataloader.Loader[int, *models.Order]
}

func NewLoaders(db *gorm.DB) *Loaders {
	return newLoaders(gormOrderFetcher(db))
}

func newLoaders(fetchOrders orderFetcher) *Loaders {
	orderReader := &orderReader{fetch: fetchOrders}
	return &Loaders{
		orderLoader: dataloader.NewBatchedLoader(orderReader.getOrders, dataloader.WithWait[int, *models.Order](time.Millisecond)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(config.GetDB())
		c.Request = c.Request.WithContext(WithLoaders(c.Request.Context(), loader))
		c.Next()
	}
}

func WithLoaders(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, l)
}

// For returns the request's loaders, or fresh ones for callers outside a request.
func For(ctx context.Context) *Loaders {
	if l, ok := ctx.Value(loadersKey).(*Loaders); ok && l != nil {
		return l
	}
	return NewLoaders(config.GetDB())
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// generateLoaderResults lines results up with the requested keys; missing keys load as nil.
func generateLoaderResults[T any](results []*T, ids []int, idOf func(*T) int) []*dataloader.Result[*T] {
	resultMap := make(map[int]*T, len(results))
	for _, r := range results {
		resultMap[idOf(r)] = r
	}
	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: resultMap[id]})
	}
	return loaderResults
}
