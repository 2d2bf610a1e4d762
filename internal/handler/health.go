package handler

import "net/http"

// HandleHealthz reports liveness with {"status":"ok"}.
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
