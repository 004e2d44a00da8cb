// Helpers for sending standardized JSON responses.

package api

import (
	"encoding/json"
	"net/http"
)

// errorBody is the shape of every error response, matching the "error" field
// observers already understand on the progress stream.
type errorBody struct {
	Error string `json:"error"`
}

// RespondWithJSON writes a JSON response with the given status code and payload.
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		code = http.StatusInternalServerError
		response, _ = json.Marshal(errorBody{Error: "Failed to marshal response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// RespondWithError writes a standardized JSON error response.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, errorBody{Error: message})
}
