package rest

import (
	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/store"
)

const MAX_PAGE_SIZE = 100

// PageQueryParams holds the shared pagination query parameters
type PageQueryParams struct {
	Limit  int `form:"limit,default=20"`
	Offset int `form:"offset,default=0"`
}

// Clamp bounds the page size and offset to sane values
func (p *PageQueryParams) Clamp() {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > MAX_PAGE_SIZE {
		p.Limit = MAX_PAGE_SIZE
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// ListMyDiscountsQueryParams holds query parameters for GET /discounts/my-discounts
type ListMyDiscountsQueryParams struct {
	Status string `form:"status"`

	Limit  int `form:"limit,default=20"`
	Offset int `form:"offset,default=0"`
}

// StatusFilter parses the status filter, or nil when absent
func (q *ListMyDiscountsQueryParams) StatusFilter() (*domain.DiscountStatus, bool) {
	if q.Status == "" {
		return nil, true
	}
	status := domain.DiscountStatus(q.Status)
	if !domain.IsValidDiscountStatus(status) {
		return nil, false
	}
	return &status, true
}

// AdminListDiscountsQueryParams holds query parameters for GET /admin/discounts
type AdminListDiscountsQueryParams struct {
	Status        string `form:"status"`
	MinPercentage *int   `form:"min_percentage"`
	MaxPercentage *int   `form:"max_percentage"`
	Search        string `form:"search"`

	Limit  int `form:"limit,default=20"`
	Offset int `form:"offset,default=0"`
}

// Filter converts the query parameters into a store filter
func (q *AdminListDiscountsQueryParams) Filter() (store.DiscountFilter, bool) {
	page := PageQueryParams{Limit: q.Limit, Offset: q.Offset}
	page.Clamp()

	filter := store.DiscountFilter{
		MinPercentage: q.MinPercentage,
		MaxPercentage: q.MaxPercentage,
		Search:        q.Search,
		Limit:         page.Limit,
		Offset:        page.Offset,
	}

	if q.Status != "" {
		status := domain.DiscountStatus(q.Status)
		if !domain.IsValidDiscountStatus(status) {
			return filter, false
		}
		filter.Status = &status
	}

	return filter, true
}

// ChainActivityQueryParams holds query parameters for GET /balance/activity
type ChainActivityQueryParams struct {
	FromBlock uint64 `form:"from_block,default=0"`
	ToBlock   uint64 `form:"to_block,default=0"`
}
