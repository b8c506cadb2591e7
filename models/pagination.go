package models

import (
	"errors"
	"fmt"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// ErrInvalidQuery marks list filters or sort fields the caller got wrong.
var ErrInvalidQuery = errors.New("invalid query")

type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

func NormalizePage(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return Page{Page: page, Limit: limit}
}

// PageResult is the list envelope returned by the HTTP layer.
type PageResult[T any] struct {
	Data       []T   `json:"data"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

func NewPageResult[T any](data []T, p Page, total int64) PageResult[T] {
	if data == nil {
		data = []T{}
	}
	pages := int64(0)
	if p.Limit > 0 {
		pages = (total + int64(p.Limit) - 1) / int64(p.Limit)
	}
	return PageResult[T]{Data: data, Page: p.Page, Limit: p.Limit, Total: total, TotalPages: pages}
}

// SortClause maps a requested field onto a whitelisted column. Unknown fields are an error.
func SortClause(columns map[string]string, field string, desc bool, def string) (string, error) {
	col := def
	if field != "" {
		c, ok := columns[field]
		if !ok {
			return "", fmt.Errorf("%w: sort field %q", ErrInvalidQuery, field)
		}
		col = c
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return col + " " + dir, nil
}
