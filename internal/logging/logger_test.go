package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"bogus", slog.LevelWarn},
		{"", slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestContextMethods_AddRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, slog.LevelInfo, "json")

	ctx := WithRequestID(context.Background(), "req-42")
	l.InfoContext(ctx, "hello")

	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestContextMethods_NoRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, slog.LevelInfo, "text")

	l.InfoContext(context.Background(), "plain")

	assert.NotContains(t, buf.String(), "request_id")
	assert.Contains(t, buf.String(), "plain")
}

func TestGetRequestID_Missing(t *testing.T) {
	assert.Equal(t, "", GetRequestID(context.Background()))
}

func TestWith_KeepsRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, slog.LevelInfo, "json").With("profile", "prod")

	l.WarnContext(WithRequestID(context.Background(), "req-7"), "slow")

	assert.Contains(t, buf.String(), `"profile":"prod"`)
	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
}

func TestFieldHelpers(t *testing.T) {
	assert.Equal(t, "status", Status(200).Key)
	assert.Equal(t, int64(200), Status(200).Value.Int64())
	assert.Equal(t, "boom", Error(errors.New("boom")).Value.String())
	assert.Equal(t, "", Error(nil).Value.String())
	assert.Equal(t, "events", Resource("events").Value.String())
}
