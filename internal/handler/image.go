package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/msomdec/tilecrop/internal/domain"
	"github.com/msomdec/tilecrop/internal/fetch"
	"github.com/msomdec/tilecrop/internal/service"
)

// ImageHandler exposes the image lifecycle over HTTP.
type ImageHandler struct {
	images *service.ImageService
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(images *service.ImageService) *ImageHandler {
	return &ImageHandler{images: images}
}

// HandleLoad fetches a remote image and records it.
// POST /images
func (h *ImageHandler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	img, err := h.images.LoadImage(r.Context(), req.URL, req.cropParams())
	if err != nil {
		writeServiceError(w, "load image", err)
		return
	}
	writeJSON(w, http.StatusCreated, toImageDTO(img))
}

// HandleList returns every image record.
// GET /images
func (h *ImageHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	images, err := h.images.ListImages(r.Context())
	if err != nil {
		writeServiceError(w, "list images", err)
		return
	}
	writeJSON(w, http.StatusOK, toImageDTOs(images))
}

// HandleGet returns one image record, or an empty object with 404.
// GET /images/{id}
func (h *ImageHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	img, err := h.images.GetImageInfo(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, struct{}{})
			return
		}
		writeServiceError(w, "get image", err)
		return
	}
	writeJSON(w, http.StatusOK, toImageDTO(img))
}

// HandleCrop splits an image into its tiles. Datastar requests receive
// progress as signal patches over SSE; others get the updated record.
// POST /images/{id}/crop
func (h *ImageHandler) HandleCrop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if r.Header.Get("Datastar-Request") != "true" {
		img, err := h.images.Crop(r.Context(), id)
		if err != nil {
			writeServiceError(w, "crop image", err)
			return
		}
		writeJSON(w, http.StatusOK, toImageDTO(img))
		return
	}

	sse := datastar.NewSSE(w, r)
	img, err := h.images.CropWithProgress(r.Context(), id, func(written, total int) {
		if err := sse.MarshalAndPatchSignals(CropProgressSignals{Written: written, Pieces: total}); err != nil {
			slog.Debug("patch crop progress", "error", err)
		}
	})

	final := CropProgressSignals{}
	if err != nil {
		final.Error = err.Error()
		if statusFor(err) == http.StatusInternalServerError {
			slog.Error("crop image", "id", id, "error", err)
		}
	} else {
		dto := toImageDTO(img)
		final = CropProgressSignals{
			Written: img.CropParams.Pieces,
			Pieces:  img.CropParams.Pieces,
			Cropped: true,
			Image:   &dto,
		}
	}
	if err := sse.MarshalAndPatchSignals(final); err != nil {
		slog.Debug("patch crop result", "error", err)
	}
}

// HandleOriginal serves the original image bytes.
// GET /images/{id}/original
func (h *ImageHandler) HandleOriginal(w http.ResponseWriter, r *http.Request) {
	data, err := h.images.ReadOriginal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "read original", err)
		return
	}
	writeImage(w, data)
}

// HandlePiece serves one tile, numbered from 1.
// GET /images/{id}/pieces/{n}
func (h *ImageHandler) HandlePiece(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "piece number must be a positive integer")
		return
	}

	data, err := h.images.ReadTile(r.Context(), r.PathValue("id"), n)
	if err != nil {
		writeServiceError(w, "read piece", err)
		return
	}
	writeImage(w, data)
}

func writeImage(w http.ResponseWriter, data []byte) {
	contentType := "application/octet-stream"
	if ext, ok := fetch.SniffExt(data); ok {
		contentType = fetch.ContentType(ext)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOutOfRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, domain.ErrAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrProbe), errors.Is(err, domain.ErrCrop):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps a service error to a JSON error response.
// Internal failures are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(op, "error", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
