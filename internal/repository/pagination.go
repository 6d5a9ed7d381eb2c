package repository

import (
	"math"
	"net/url"
	"strconv"
)

// PageInfo is the pagination block list views render.
type PageInfo struct {
	CurrentPage  int  `json:"current_page"`
	TotalPages   int  `json:"total_pages"`
	TotalCount   int  `json:"total_count"`
	PerPage      int  `json:"per_page"`
	HasNext      bool `json:"has_next"`
	HasPrevious  bool `json:"has_previous"`
	NextPage     *int `json:"next_page"`
	PreviousPage *int `json:"previous_page"`
}

// fallbackPageSize is used when a non-empty count arrives with no results.
const fallbackPageSize = 30

// drfPageInfo derives PageInfo from count/next/previous. It returns nil
// when count is zero: an empty collection has no pagination.
func drfPageInfo(count int, observed int, next, previous *string) *PageInfo {
	if count <= 0 {
		return nil
	}

	pageSize := observed
	if pageSize == 0 {
		pageSize = fallbackPageSize
	}

	current := currentPage(next, previous)
	info := &PageInfo{
		CurrentPage: current,
		TotalPages:  int(math.Ceil(float64(count) / float64(pageSize))),
		TotalCount:  count,
		PerPage:     pageSize,
		HasNext:     present(next),
		HasPrevious: present(previous),
	}
	if info.HasNext {
		n := current + 1
		info.NextPage = &n
	}
	if info.HasPrevious {
		p := current - 1
		info.PreviousPage = &p
	}
	return info
}

// currentPage infers the page from the neighbour links: previous page + 1,
// else next page - 1, else 1. A link without a page parameter points at
// the first page (previous) or the second (next).
func currentPage(next, previous *string) int {
	if present(previous) {
		if p, ok := pageParam(*previous, 1); ok {
			return p + 1
		}
	}
	if present(next) {
		if p, ok := pageParam(*next, 2); ok {
			return p - 1
		}
	}
	return 1
}

func pageParam(link string, missing int) (int, bool) {
	u, err := url.Parse(link)
	if err != nil {
		return 0, false
	}
	raw := u.Query().Get("page")
	if raw == "" {
		return missing, true
	}
	p, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return p, true
}

func present(s *string) bool {
	return s != nil && *s != ""
}
