package pagination

import (
	"net/http"
	"net/url"
	"strconv"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Params holds page-number pagination parameters.
type Params struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// DefaultParams returns the first page with the default page size.
func DefaultParams() Params {
	return Params{
		Page:     1,
		PageSize: DefaultPageSize,
	}
}

// FromRequest extracts page and page_size from the query string. Invalid or
// out-of-range values fall back to the defaults.
func FromRequest(r *http.Request) Params {
	p := DefaultParams()

	if page := r.URL.Query().Get("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 0 {
			p.Page = v
		}
	}

	if size := r.URL.Query().Get("page_size"); size != "" {
		if v, err := strconv.Atoi(size); err == nil && v > 0 && v <= MaxPageSize {
			p.PageSize = v
		}
	}

	return p
}

// Values encodes the params as query parameters for an upstream call.
func (p Params) Values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(p.Page))
	v.Set("page_size", strconv.Itoa(p.PageSize))
	return v
}

// Result is a paginated list view.
type Result[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewResult builds a Result. hasNext lets callers trust an upstream "next"
// link when the total count is unknown.
func NewResult[T any](data []T, totalCount int, params Params, hasNext bool) Result[T] {
	if data == nil {
		data = []T{}
	}
	size := params.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	totalPages := totalCount / size
	if totalCount%size > 0 {
		totalPages++
	}

	return Result[T]{
		Data:       data,
		TotalCount: totalCount,
		Page:       params.Page,
		PageSize:   size,
		TotalPages: totalPages,
		HasNext:    hasNext || params.Page < totalPages,
		HasPrev:    params.Page > 1,
	}
}
