package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		kind      EnvelopeKind
		items     int
		paginated bool
	}{
		{
			name:      "wrapped paginated",
			body:      `{"success":true,"data":{"results":[{"id":1},{"id":2}],"pagination":{"current_page":1,"total_pages":1,"total_count":2,"per_page":10,"has_next":false,"has_previous":false,"next_page":null,"previous_page":null}}}`,
			kind:      Paginated,
			items:     2,
			paginated: true,
		},
		{
			name:      "top level paginated",
			body:      `{"results":[{"id":1}],"pagination":{"current_page":2,"total_pages":2}}`,
			kind:      Paginated,
			items:     1,
			paginated: true,
		},
		{
			name:      "drf raw",
			body:      `{"count":3,"next":null,"previous":null,"results":[{"id":1},{"id":2},{"id":3}]}`,
			kind:      Raw,
			items:     3,
			paginated: true,
		},
		{
			name:  "drf raw empty",
			body:  `{"count":0,"next":null,"previous":null,"results":[]}`,
			kind:  Raw,
			items: 0,
		},
		{
			name:  "data array",
			body:  `{"success":true,"data":[{"id":1}]}`,
			kind:  Wrapped,
			items: 1,
		},
		{
			name:  "bare array",
			body:  `[{"id":1},{"id":2}]`,
			kind:  Wrapped,
			items: 2,
		},
		{
			name:  "items key",
			body:  `{"items":[{"id":1}]}`,
			kind:  Wrapped,
			items: 1,
		},
		{
			name:  "results without pagination",
			body:  `{"data":{"results":[{"id":9}]}}`,
			kind:  Paginated,
			items: 1,
		},
		{
			name:  "unknown object",
			body:  `{"success":true}`,
			kind:  Wrapped,
			items: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode(json.RawMessage(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, env.Kind)

			res, err := Normalize(env)
			require.NoError(t, err)
			assert.Len(t, res.Items, tt.items)
			assert.NotNil(t, res.Items)
			assert.Equal(t, tt.paginated, res.Pagination != nil)
		})
	}
}

func TestDecode_PaginationPassedThrough(t *testing.T) {
	body := `{"data":{"results":[],"pagination":{"current_page":4,"total_pages":9,"total_count":88,"per_page":10,"has_next":true,"has_previous":true,"next_page":5,"previous_page":3}}}`

	res, err := DecodeList[map[string]any](json.RawMessage(body))
	require.NoError(t, err)
	require.NotNil(t, res.Pagination)
	assert.Equal(t, 4, res.Pagination.CurrentPage)
	assert.Equal(t, 9, res.Pagination.TotalPages)
	assert.Equal(t, 5, *res.Pagination.NextPage)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode(json.RawMessage(`{"results":`))
	assert.Error(t, err)
}

func TestDecodeItem_UnwrapsData(t *testing.T) {
	type item struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}

	got, err := DecodeItem[item](json.RawMessage(`{"success":true,"data":{"id":3,"title":"Gala"}}`))
	require.NoError(t, err)
	assert.Equal(t, item{ID: 3, Title: "Gala"}, *got)

	got, err = DecodeItem[item](json.RawMessage(`{"id":4,"title":"Bare"}`))
	require.NoError(t, err)
	assert.Equal(t, 4, got.ID)

	got, err = DecodeItem[item](json.RawMessage(`{"success":true,"data":null}`))
	require.NoError(t, err)
	assert.Zero(t, got.ID)
}

func TestEnvelopeKind_String(t *testing.T) {
	assert.Equal(t, "wrapped", Wrapped.String())
	assert.Equal(t, "paginated", Paginated.String())
	assert.Equal(t, "raw", Raw.String())
}
