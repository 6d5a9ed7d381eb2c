package mockapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON writes data with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ok writes the backend's success envelope.
func ok(w http.ResponseWriter, status int, data any, message string) {
	body := map[string]any{"success": true, "message": message}
	if data != nil {
		body["data"] = data
	}
	writeJSON(w, status, body)
}

// fail writes the backend's error envelope.
func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

// detail writes a bare DRF error.
func detail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

// fieldErrors writes a DRF field error map.
func fieldErrors(w http.ResponseWriter, errs map[string][]string) {
	writeJSON(w, http.StatusBadRequest, errs)
}
