package handlers

import (
	"encoding/json"
	"net/http"
)

// decodeJSONBody unmarshals the request body into v. On failure it writes
// a 400 problem response and reports false so the handler can bail out.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}
