package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestDRFPageInfo_MiddlePage(t *testing.T) {
	info := drfPageInfo(25, 10,
		ptr("https://api.example.org/api/posts/?page=3"),
		ptr("https://api.example.org/api/posts/?page=1"))
	require.NotNil(t, info)

	assert.Equal(t, 2, info.CurrentPage)
	assert.Equal(t, 3, info.TotalPages)
	assert.Equal(t, 25, info.TotalCount)
	assert.Equal(t, 10, info.PerPage)
	assert.True(t, info.HasNext)
	assert.True(t, info.HasPrevious)
	require.NotNil(t, info.NextPage)
	require.NotNil(t, info.PreviousPage)
	assert.Equal(t, 3, *info.NextPage)
	assert.Equal(t, 1, *info.PreviousPage)
}

func TestDRFPageInfo_NormalizationIsStable(t *testing.T) {
	results := make([]json.RawMessage, 10)
	for i := range results {
		results[i] = json.RawMessage(`{"id":1}`)
	}
	env := Envelope{
		Kind:     Raw,
		Results:  results,
		Count:    25,
		Next:     ptr("http://x/?page=3"),
		Previous: ptr("http://x/?page=1"),
	}

	first, err := Normalize(env)
	require.NoError(t, err)
	second, err := Normalize(env)
	require.NoError(t, err)
	assert.Equal(t, first.Pagination, second.Pagination)
	assert.Equal(t, 2, first.Pagination.CurrentPage)
}

func TestCurrentPage(t *testing.T) {
	tests := []struct {
		name     string
		next     *string
		previous *string
		want     int
	}{
		{"no links", nil, nil, 1},
		{"first page", ptr("http://x/?page=2"), nil, 1},
		{"last page", nil, ptr("http://x/?page=4"), 5},
		{"previous without page param is page one", nil, ptr("http://x/?search=a"), 2},
		{"next without page param", ptr("http://x/"), nil, 1},
		{"unparseable previous falls back to next", ptr("http://x/?page=7"), ptr("http://x/?page=abc"), 6},
		{"nothing parseable", ptr("http://x/?page=z"), ptr("%zz"), 1},
		{"empty strings are absent", ptr(""), ptr(""), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, currentPage(tt.next, tt.previous))
		})
	}
}

func TestDRFPageInfo_ZeroCountHasNoPagination(t *testing.T) {
	assert.Nil(t, drfPageInfo(0, 0, nil, nil))
}

func TestDRFPageInfo_EmptyResultsUseFallbackSize(t *testing.T) {
	info := drfPageInfo(95, 0, nil, ptr("http://x/?page=3"))
	require.NotNil(t, info)
	assert.Equal(t, 30, info.PerPage)
	assert.Equal(t, 4, info.TotalPages)
	assert.Equal(t, 4, info.CurrentPage)
	assert.False(t, info.HasNext)
	assert.Nil(t, info.NextPage)
}
