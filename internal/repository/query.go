package repository

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query is one list request: page, page size, filters and ordering.
type Query struct {
	Page     int
	PerPage  int
	Filters  map[string]any
	Ordering string
}

// Values encodes the query. Filters whose value is nil or an empty string
// are left out; filters win over Page/PerPage/Ordering of the same name.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Ordering != "" {
		v.Set("ordering", q.Ordering)
	}

	for key, value := range StripEmpty(q.Filters) {
		switch val := value.(type) {
		case []string:
			v.Del(key)
			for _, s := range val {
				v.Add(key, s)
			}
		default:
			v.Set(key, formatValue(val))
		}
	}
	return v
}

// StripEmpty returns a copy of filters without nil and empty string values.
func StripEmpty(filters map[string]any) map[string]any {
	out := make(map[string]any, len(filters))
	for k, v := range filters {
		if isEmpty(v) {
			continue
		}
		out[k] = v
	}
	return out
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case *string:
		return val == nil || strings.TrimSpace(*val) == ""
	case []string:
		return len(val) == 0
	}
	return false
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case *string:
		return *val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
