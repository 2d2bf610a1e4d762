package handler

import (
	"net/http"

	"github.com/msomdec/tilecrop/internal/service"
)

// RegisterRoutes sets up all HTTP routes on the given mux. A nil limiter
// leaves image loads unthrottled.
func RegisterRoutes(mux *http.ServeMux, images *service.ImageService, limiter *service.TokenBucket) {
	h := NewImageHandler(images)

	mux.HandleFunc("GET /healthz", HandleHealthz)

	load := http.Handler(http.HandlerFunc(h.HandleLoad))
	if limiter != nil {
		load = RateLimit(limiter, load)
	}
	mux.Handle("POST /images", load)
	mux.HandleFunc("GET /images", h.HandleList)
	mux.HandleFunc("GET /images/{id}", h.HandleGet)
	mux.HandleFunc("POST /images/{id}/crop", h.HandleCrop)
	mux.HandleFunc("GET /images/{id}/original", h.HandleOriginal)
	mux.HandleFunc("GET /images/{id}/pieces/{n}", h.HandlePiece)
}
