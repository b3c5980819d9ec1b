package httpx

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs shared by the API handlers.
const (
	ProblemTypeValidation = "https://nekazari.io/problems/validation-error"
	ProblemTypeNotFound   = "https://nekazari.io/problems/not-found"
	ProblemTypeConflict   = "https://nekazari.io/problems/conflict"
	ProblemTypeUpstream   = "https://nekazari.io/problems/upstream-unavailable"
	ProblemTypeInternal   = "https://nekazari.io/problems/internal-error"
)

// Problem is an RFC 7807 problem-details payload.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem writes an RFC 7807 error response.
func WriteProblem(w http.ResponseWriter, status int, problemType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON reads the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
