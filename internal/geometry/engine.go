// Package geometry measures image files and writes rectangular crops of them.
// JPEG, PNG, GIF, BMP and TIFF are supported both ways.
package geometry

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/msomdec/tilecrop/internal/domain"
)

const jpegQuality = 90

// Engine implements domain.Geometry with the pure-Go image codecs.
type Engine struct{}

// NewEngine creates a new Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Measure reads only the image header of file.
func (e *Engine) Measure(ctx context.Context, file string) (domain.Size, error) {
	if err := ctx.Err(); err != nil {
		return domain.Size{}, err
	}

	f, err := os.Open(file)
	if err != nil {
		return domain.Size{}, fmt.Errorf("%w: open %s: %w", domain.ErrProbe, file, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return domain.Size{}, fmt.Errorf("%w: decode %s: %w", domain.ErrProbe, file, err)
	}
	return domain.Size{Width: cfg.Width, Height: cfg.Height}, nil
}

// Crop decodes src, cuts rect out of it and writes the result to dst.
// rect is relative to the image origin and is clipped to its bounds.
func (e *Engine) Crop(ctx context.Context, src, dst string, rect image.Rectangle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encode, err := encoderFor(dst)
	if err != nil {
		return err
	}

	img, err := decodeFile(src)
	if err != nil {
		return err
	}

	bounds := img.Bounds()
	region := rect.Add(bounds.Min).Intersect(bounds)
	if region.Empty() {
		return fmt.Errorf("%w: region %v outside image bounds %v", domain.ErrCrop, rect, bounds)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrCrop, dst, err)
	}
	if err := encode.safe(out, extract(img, region)); err != nil {
		out.Close()
		return fmt.Errorf("%w: encode %s: %w", domain.ErrCrop, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", domain.ErrCrop, dst, err)
	}
	return nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrCrop, path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", domain.ErrCrop, path, err)
	}
	return img, nil
}

// extract copies region of img into a new image anchored at the origin.
// The tiff encoder indexes pixels from a zero origin. Paletted sources keep
// their palette.
func extract(img image.Image, region image.Rectangle) image.Image {
	bounds := image.Rect(0, 0, region.Dx(), region.Dy())
	var dst draw.Image
	switch src := img.(type) {
	case *image.Paletted:
		dst = image.NewPaletted(bounds, src.Palette)
	case *image.Gray:
		dst = image.NewGray(bounds)
	default:
		dst = image.NewRGBA(bounds)
	}
	draw.Draw(dst, bounds, img, region.Min, draw.Src)
	return dst
}

type encodeFunc func(w io.Writer, img image.Image) error

// safe runs the encoder, reporting a panic inside the codec as an error.
func (f encodeFunc) safe(w io.Writer, img image.Image) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encoder panic: %v", r)
		}
	}()
	return f(w, img)
}

func encoderFor(path string) (encodeFunc, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "jpg", "jpeg":
		return func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
		}, nil
	case "png":
		return png.Encode, nil
	case "gif":
		return func(w io.Writer, img image.Image) error {
			return gif.Encode(w, img, nil)
		}, nil
	case "bmp":
		return bmp.Encode, nil
	case "tif", "tiff":
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, nil)
		}, nil
	default:
		return nil, fmt.Errorf("%w: no encoder for extension %q", domain.ErrCrop, ext)
	}
}
