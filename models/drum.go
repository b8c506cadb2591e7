package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"gorm.io/gorm"
)

type Drum struct {
	DrumId        int           `gorm:"primaryKey;column:drum_id" json:"drum_id"`
	Material      string        `gorm:"size:100;not null" json:"material"`
	Status        DrumStatus    `gorm:"type:enum('pending','available','scheduled','processed','wasted','lost');not null;default:'pending';index" json:"status"`
	Location      *DrumLocation `gorm:"type:enum('new-site','old-site')" json:"location"`
	OrderId       *int          `gorm:"index" json:"order_id"`
	DateProcessed *time.Time    `json:"date_processed"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Drum) TableName() string { return "drums" }

// DrumListItem is a drum row joined with its order's supplier fields.
type DrumListItem struct {
	Drum
	Supplier    *string    `json:"supplier"`
	DateOrdered *time.Time `json:"date_ordered"`
}

type DrumQuery struct {
	Page      int
	Limit     int
	Statuses  []DrumStatus
	OrderId   *int
	SortField string
	SortDesc  bool
}

var drumSortColumns = map[string]string{
	"drum_id":        "drum_id",
	"material":       "material",
	"status":         "status",
	"location":       "location",
	"order_id":       "order_id",
	"date_processed": "date_processed",
	"created_at":     "created_at",
	"updated_at":     "updated_at",
}

func GetDrum(ctx context.Context, drumId int) (*Drum, error) {
	var drum Drum
	err := config.GetDB().WithContext(ctx).Where("drum_id = ?", drumId).First(&drum).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &drum, nil
}

// ListDrums returns one page of drums plus the total match count.
func ListDrums(ctx context.Context, q DrumQuery) ([]*Drum, int64, error) {
	page := NormalizePage(q.Page, q.Limit)

	orderBy, err := SortClause(drumSortColumns, q.SortField, q.SortDesc, "drum_id")
	if err != nil {
		return nil, 0, err
	}
	for _, s := range q.Statuses {
		if !s.IsValid() {
			return nil, 0, fmt.Errorf("%w: drum status %q", ErrInvalidQuery, s)
		}
	}

	dbCtx := config.GetDB().WithContext(ctx).Model(&Drum{})
	if len(q.Statuses) > 0 {
		dbCtx = dbCtx.Where("status IN ?", q.Statuses)
	}
	if q.OrderId != nil {
		dbCtx = dbCtx.Where("order_id = ?", *q.OrderId)
	}

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var drums []*Drum
	if err := dbCtx.Order(orderBy).Limit(page.Limit).Offset(page.Offset()).Find(&drums).Error; err != nil {
		return nil, 0, err
	}
	return drums, total, nil
}

// ParseDrumStatuses parses a comma list such as "pending,available".
func ParseDrumStatuses(raw string) ([]DrumStatus, error) {
	var out []DrumStatus
	for _, part := range utils.SplitAndTrim(strings.ToLower(raw)) {
		s, err := ParseDrumStatus(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, part)
		}
		out = append(out, s)
	}
	return out, nil
}
