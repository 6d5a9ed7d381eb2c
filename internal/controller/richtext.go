package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	quill "github.com/chocobits/go-delta-json-to-html"
	"github.com/microcosm-cc/bluemonday"
)

var ugc = bluemonday.UGCPolicy()

// RichTextHTML turns editor content into sanitized HTML. content is a
// Quill delta ({"ops":[...]} or the bare ops array); anything else is
// treated as HTML already.
func RichTextHTML(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", nil
	}
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return ugc.Sanitize(trimmed), nil
	}

	ops, err := deltaOps([]byte(trimmed))
	if err != nil {
		return "", err
	}
	html, err := quill.Render(ops)
	if err != nil {
		return "", fmt.Errorf("render delta: %w", err)
	}
	return strings.TrimSpace(ugc.Sanitize(string(html))), nil
}

func deltaOps(raw []byte) ([]byte, error) {
	if raw[0] == '[' {
		return raw, nil
	}
	var delta struct {
		Ops json.RawMessage `json:"ops"`
	}
	if err := json.Unmarshal(raw, &delta); err != nil {
		return nil, fmt.Errorf("invalid delta: %w", err)
	}
	if len(delta.Ops) == 0 {
		return nil, errors.New("invalid delta: missing ops")
	}
	return delta.Ops, nil
}

// richTextEmpty reports whether sanitized HTML carries no text, as an
// editor left with a blank paragraph does.
func richTextEmpty(html string) bool {
	text := bluemonday.StrictPolicy().Sanitize(html)
	return strings.TrimSpace(strings.ReplaceAll(text, "&nbsp;", "")) == ""
}
