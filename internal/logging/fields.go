package logging

import "log/slog"

// Common field names for consistent logging across the client.
const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldResource  = "resource"
	FieldPage      = "page"
	FieldAttempt   = "attempt"
)

func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Resource returns a slog attribute naming the resource collection.
func Resource(name string) slog.Attr {
	return slog.String(FieldResource, name)
}

func Page(page int) slog.Attr {
	return slog.Int(FieldPage, page)
}

func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}
