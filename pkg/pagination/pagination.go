// Package pagination reads limit/offset query parameters and shapes
// paged list responses for the status API.
package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Missing values take defaults;
// malformed ones are an error so callers can answer 400.
func FromContext(c echo.Context) (Params, error) {
	var p Params
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid limit %q", v)
		}
		p.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid offset %q", v)
		}
		p.Offset = n
	}
	return p.Normalize(), nil
}

// Normalize clamps the limit to [1, MaxLimit] and the offset to >= 0.
func (p Params) Normalize() Params {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Fetch is how many rows to request: one more than the page so HasMore can
// be answered without a count query.
func (p Params) Fetch() int {
	return p.Limit + 1
}

// Page is one page of a list response.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
	NextOffset *int `json:"next_offset,omitempty"`
}

// NewPage builds a page from rows fetched with p.Fetch().
func NewPage[T any](rows []T, p Params) *Page[T] {
	page := &Page[T]{Items: rows, Limit: p.Limit, Offset: p.Offset}
	if len(rows) > p.Limit {
		page.Items = rows[:p.Limit]
		page.HasMore = true
		next := p.Offset + p.Limit
		page.NextOffset = &next
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}
