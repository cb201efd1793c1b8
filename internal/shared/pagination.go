package shared

import "math"

// Pagination describes one page of a remote list.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination computes pagination metadata. A page beyond the last one is
// kept as requested so the list renders empty instead of jumping.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 25
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// HasPrev reports whether a previous page exists.
func (p Pagination) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a following page exists.
func (p Pagination) HasNext() bool { return p.Page < p.TotalPages }

// Prev is the previous page number.
func (p Pagination) Prev() int { return p.Page - 1 }

// Next is the following page number.
func (p Pagination) Next() int { return p.Page + 1 }
