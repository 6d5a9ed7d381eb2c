package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EnvelopeKind tells which of the known response shapes a body had.
type EnvelopeKind int

const (
	// Wrapped is {"data": X}, {"items": [...]} or a bare array.
	Wrapped EnvelopeKind = iota
	// Paginated is {"results": [...], "pagination": {...}}, optionally
	// inside "data".
	Paginated
	// Raw is the offset style {"results", "count", "next", "previous"}.
	Raw
)

func (k EnvelopeKind) String() string {
	switch k {
	case Wrapped:
		return "wrapped"
	case Paginated:
		return "paginated"
	case Raw:
		return "raw"
	default:
		return "unknown"
	}
}

// Envelope is a decoded list response. Which fields are set depends on Kind.
type Envelope struct {
	Kind EnvelopeKind

	// Wrapped
	Data json.RawMessage

	// Paginated and Raw
	Results []json.RawMessage

	// Paginated
	Page *PageInfo

	// Raw
	Count    int
	Next     *string
	Previous *string
}

type listBody struct {
	Data       json.RawMessage   `json:"data"`
	Results    []json.RawMessage `json:"results"`
	Items      json.RawMessage   `json:"items"`
	Pagination *PageInfo         `json:"pagination"`
	Count      *int              `json:"count"`
	Next       *string           `json:"next"`
	Previous   *string           `json:"previous"`
}

// Decode classifies a list response body.
func Decode(raw json.RawMessage) (Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Envelope{Kind: Wrapped}, nil
	}
	if trimmed[0] == '[' {
		return Envelope{Kind: Wrapped, Data: trimmed}, nil
	}

	var body listBody
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode list response: %w", err)
	}

	if isObject(body.Data) {
		var inner listBody
		if err := json.Unmarshal(body.Data, &inner); err != nil {
			return Envelope{}, fmt.Errorf("failed to decode list data: %w", err)
		}
		switch {
		case inner.Results != nil:
			return Envelope{Kind: Paginated, Results: inner.Results, Page: inner.Pagination}, nil
		case isArray(inner.Items):
			return Envelope{Kind: Wrapped, Data: inner.Items}, nil
		}
		return Envelope{Kind: Wrapped, Data: body.Data}, nil
	}
	if isArray(body.Data) {
		return Envelope{Kind: Wrapped, Data: body.Data}, nil
	}

	if body.Results != nil {
		if body.Pagination == nil && body.Count != nil {
			return Envelope{
				Kind:     Raw,
				Results:  body.Results,
				Count:    *body.Count,
				Next:     body.Next,
				Previous: body.Previous,
			}, nil
		}
		return Envelope{Kind: Paginated, Results: body.Results, Page: body.Pagination}, nil
	}

	if isArray(body.Items) {
		return Envelope{Kind: Wrapped, Data: body.Items}, nil
	}
	return Envelope{Kind: Wrapped}, nil
}

// Normalize turns an envelope into items and canonical pagination.
func Normalize(env Envelope) (ListResult[json.RawMessage], error) {
	switch env.Kind {
	case Paginated:
		return ListResult[json.RawMessage]{Items: nonNil(env.Results), Pagination: env.Page}, nil
	case Raw:
		return ListResult[json.RawMessage]{
			Items:      nonNil(env.Results),
			Pagination: drfPageInfo(env.Count, len(env.Results), env.Next, env.Previous),
		}, nil
	default:
		var items []json.RawMessage
		if isArray(env.Data) {
			if err := json.Unmarshal(env.Data, &items); err != nil {
				return ListResult[json.RawMessage]{}, fmt.Errorf("failed to decode items: %w", err)
			}
		}
		return ListResult[json.RawMessage]{Items: nonNil(items)}, nil
	}
}

func nonNil(items []json.RawMessage) []json.RawMessage {
	if items == nil {
		return []json.RawMessage{}
	}
	return items
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// unwrapItem returns the value of a top-level "data" member, or raw.
func unwrapItem(raw json.RawMessage) json.RawMessage {
	if !isObject(raw) {
		return raw
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && !bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return env.Data
	}
	return raw
}
