package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type errorBody struct {
	Error string      `json:"error"`
	Kind  orders.Kind `json:"kind,omitempty"`
	ID    string      `json:"id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(kind orders.Kind) int {
	switch kind {
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindValidation:
		return http.StatusBadRequest
	case orders.KindExpired, orders.KindInsufficientStock, orders.KindInvalidState:
		return http.StatusConflict
	case orders.KindConflict, orders.KindTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError maps domain errors to status codes. Anything unclassified is
// reported as a bare 500 so internals do not leak.
func writeError(w http.ResponseWriter, err error) {
	var de *orders.Error
	if !errors.As(err, &de) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	code := statusOf(de.Kind)
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, code, errorBody{Error: de.Error(), Kind: de.Kind, ID: de.ID})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: orders.KindValidation})
}
