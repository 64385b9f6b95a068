package workload

import (
	"encoding/json"
	"net/http"
	"time"
)

// apiResponse is the response envelope shared by both control-plane
// APIs, so module-facing and operator-facing responses look the same
// on the wire.
type apiResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Last resort; the header is already out.
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

func okBody(data any) apiResponse {
	return apiResponse{Status: "ok", Timestamp: time.Now().UTC(), Data: data}
}

func errorBody(msg string) apiResponse {
	return apiResponse{Status: "error", Timestamp: time.Now().UTC(), Error: msg}
}
