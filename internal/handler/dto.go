package handler

import (
	"time"

	"github.com/msomdec/tilecrop/internal/domain"
)

// SizeDTO is the JSON representation of image dimensions.
type SizeDTO struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CropParamsDTO is the JSON representation of crop parameters.
type CropParamsDTO struct {
	Pieces    int    `json:"pieces"`
	Direction string `json:"direction"`
}

// ImageDTO is the JSON representation of an image record.
type ImageDTO struct {
	ID         string        `json:"id"`
	Path       string        `json:"path"`
	Ext        string        `json:"ext"`
	Size       SizeDTO       `json:"size"`
	CropParams CropParamsDTO `json:"cropParams"`
	Cropped    bool          `json:"cropped"`
	SourceURL  string        `json:"sourceUrl,omitempty"`
	Checksum   string        `json:"checksum,omitempty"`
	CreatedAt  string        `json:"createdAt"`
}

func toImageDTO(img *domain.Image) ImageDTO {
	return ImageDTO{
		ID:   img.ID,
		Path: img.Path,
		Ext:  img.Ext,
		Size: SizeDTO{Width: img.Size.Width, Height: img.Size.Height},
		CropParams: CropParamsDTO{
			Pieces:    img.CropParams.Pieces,
			Direction: string(img.CropParams.Direction),
		},
		Cropped:   img.Cropped,
		SourceURL: img.SourceURL,
		Checksum:  img.Checksum,
		CreatedAt: img.CreatedAt.Format(time.RFC3339Nano),
	}
}

func toImageDTOs(images []domain.Image) []ImageDTO {
	dtos := make([]ImageDTO, len(images))
	for i := range images {
		dtos[i] = toImageDTO(&images[i])
	}
	return dtos
}

// LoadRequest is the body of POST /images.
type LoadRequest struct {
	URL        string        `json:"url"`
	CropParams CropParamsDTO `json:"cropParams"`
}

func (r LoadRequest) cropParams() domain.CropParams {
	return domain.CropParams{
		Pieces:    r.CropParams.Pieces,
		Direction: domain.Direction(r.CropParams.Direction),
	}
}

// CropProgressSignals are the Datastar signals patched while a crop runs.
type CropProgressSignals struct {
	Written int       `json:"written"`
	Pieces  int       `json:"pieces"`
	Cropped bool      `json:"cropped"`
	Error   string    `json:"error,omitempty"`
	Image   *ImageDTO `json:"image,omitempty"`
}
