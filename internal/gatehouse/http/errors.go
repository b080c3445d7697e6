package http

import (
	"net/http"

	"github.com/confreg/gatehouse/pkg/httpx"
)

// writeError emits the standard JSON error envelope.
func writeError(w http.ResponseWriter, status int, code, description string) {
	httpx.WriteJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
