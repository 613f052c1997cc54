// Package httputil holds the JSON response helpers shared by the pipeline's
// HTTP surface (health endpoint and alert operations API).
package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// WriteJSON writes v as JSON with the given HTTP status code. Encoding
// failures after the header is written can only be logged.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httputil: encode response: %v", err)
	}
}

// WriteError writes a JSON error body of the form {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}
