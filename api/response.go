package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"log"

	"github.com/fly-apps/machine-scheduler/internal/cron"
)

type errRes struct {
	Error string `json:"error"`
}

type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func renderJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to write json response: %s", err)
	}
}

func renderResult(w http.ResponseWriter, result interface{}, status int) {
	renderJSON(w, Response{Result: result}, status)
}

func renderErr(w http.ResponseWriter, err error) {
	renderJSON(w, errRes{Error: err.Error()}, errStatus(err))
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, cron.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, cron.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// queryLimit reads a positive ?limit= value, falling back to def.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
