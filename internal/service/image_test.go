package service_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/msomdec/tilecrop/internal/domain"
	"github.com/msomdec/tilecrop/internal/fetch"
	"github.com/msomdec/tilecrop/internal/geometry"
	"github.com/msomdec/tilecrop/internal/service"
	"github.com/msomdec/tilecrop/internal/storage"
)

var fourPieces = domain.CropParams{Pieces: 4, Direction: domain.DirectionHorizontal}

func TestImageService_LoadImage(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	body := jpegBytes(t, 400, 200)

	img := env.load(t, "/test.jpg", body, fourPieces)

	if img.ID == "" {
		t.Fatal("expected image ID to be set")
	}
	if img.Ext != "jpg" {
		t.Fatalf("expected ext jpg, got %q", img.Ext)
	}
	if img.Size != (domain.Size{Width: 400, Height: 200}) {
		t.Fatalf("expected size 400x200, got %+v", img.Size)
	}
	if img.Cropped {
		t.Fatal("expected new image to be uncropped")
	}
	if img.SourceURL != env.url("/test.jpg") {
		t.Fatalf("expected source url, got %q", img.SourceURL)
	}
	if len(img.Checksum) != 64 {
		t.Fatalf("expected a 256-bit hex checksum, got %q", img.Checksum)
	}

	rootDir, _ := env.root.Dir()
	if filepath.Dir(img.Path) != rootDir || !strings.HasPrefix(filepath.Base(img.Path), "test_") {
		t.Fatalf("unexpected image path %q", img.Path)
	}
	stored, err := os.ReadFile(filepath.Join(img.Path, "index.jpg"))
	if err != nil {
		t.Fatalf("read original: %v", err)
	}
	if !bytes.Equal(stored, body) {
		t.Fatal("stored original differs from fetched bytes")
	}

	got, err := env.svc.GetImageInfo(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetImageInfo: %v", err)
	}
	if got.Cropped || got.Size != img.Size || got.Path != img.Path {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestImageService_LoadImage_DefaultsDirection(t *testing.T) {
	env := newTestEnv(t, nil)

	img := env.load(t, "/a.png", pngBytes(t, 10, 10), domain.CropParams{Pieces: 2})
	if img.CropParams.Direction != domain.DirectionHorizontal {
		t.Fatalf("expected horizontal default, got %q", img.CropParams.Direction)
	}
}

func TestImageService_LoadImage_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	svc := service.NewImageService(env.db.Images(), storage.NewRoot(), fetch.New(nil, 0), geometry.NewEngine())

	_, err := svc.LoadImage(context.Background(), env.url("/x.png"), fourPieces)
	if !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestImageService_LoadImage_InvalidParams(t *testing.T) {
	env := newTestEnv(t, nil)
	env.files["/a.png"] = pngBytes(t, 10, 10)

	for _, p := range []domain.CropParams{
		{Pieces: 0},
		{Pieces: -2},
		{Pieces: 2, Direction: "diagonal"},
	} {
		_, err := env.svc.LoadImage(context.Background(), env.url("/a.png"), p)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("%+v: expected ErrInvalidInput, got %v", p, err)
		}
	}
}

func TestImageService_LoadImage_FetchError(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.LoadImage(context.Background(), env.url("/missing.png"), fourPieces)
	if !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}

	images, err := env.svc.ListImages(context.Background())
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(images) != 0 {
		t.Fatalf("expected no records after failed load, got %d", len(images))
	}
}

func TestImageService_LoadImage_RejectsWebP(t *testing.T) {
	env := newTestEnv(t, nil)
	env.files["/a.webp"] = []byte("RIFF\x24\x00\x00\x00WEBPVP8 \x18\x00\x00\x00")

	_, err := env.svc.LoadImage(context.Background(), env.url("/a.webp"), fourPieces)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	dir, err := env.root.Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no image directory, got %d entries", len(entries))
	}
}

func TestImageService_LoadImage_ProbeError(t *testing.T) {
	env := newTestEnv(t, nil)
	// PNG signature followed by garbage: sniffs as png, fails to decode.
	env.files["/broken.png"] = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0xAB}, 64)...)

	_, err := env.svc.LoadImage(context.Background(), env.url("/broken.png"), fourPieces)
	if !errors.Is(err, domain.ErrProbe) {
		t.Fatalf("expected ErrProbe, got %v", err)
	}
}

func TestImageService_GetImageInfo(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	img := env.load(t, "/a.png", pngBytes(t, 10, 10), fourPieces)

	first, err := env.svc.GetImageInfo(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetImageInfo: %v", err)
	}
	second, err := env.svc.GetImageInfo(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetImageInfo: %v", err)
	}
	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatal("CreatedAt changed between reads")
	}
	first.CreatedAt = second.CreatedAt
	if *first != *second {
		t.Fatalf("record changed between reads:\n%+v\n%+v", first, second)
	}

	if _, err := env.svc.GetImageInfo(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.svc.GetImageInfo(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestImageService_ListImages(t *testing.T) {
	env := newTestEnv(t, nil)
	env.load(t, "/a.png", pngBytes(t, 10, 10), fourPieces)
	env.load(t, "/b.png", pngBytes(t, 10, 10), fourPieces)

	images, err := env.svc.ListImages(context.Background())
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
}

func TestImageService_ReadOriginal(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	body := pngBytes(t, 12, 8)
	img := env.load(t, "/a.png", body, fourPieces)

	data, err := env.svc.ReadOriginal(ctx, img.ID)
	if err != nil {
		t.Fatalf("ReadOriginal: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Fatal("original bytes differ")
	}

	if _, err := env.svc.ReadOriginal(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown id: expected ErrNotFound, got %v", err)
	}

	if err := os.Remove(filepath.Join(img.Path, "index.png")); err != nil {
		t.Fatalf("remove original: %v", err)
	}
	if _, err := env.svc.ReadOriginal(ctx, img.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing file: expected ErrNotFound, got %v", err)
	}
}

func TestImageService_ReadOriginal_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	svc := service.NewImageService(env.db.Images(), storage.NewRoot(), fetch.New(nil, 0), geometry.NewEngine())

	if _, err := svc.ReadOriginal(context.Background(), uuid.NewString()); !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestImageService_ReadTile(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	img := env.load(t, "/a.png", pngBytes(t, 40, 10), fourPieces)

	// Uncropped images reject every piece number.
	for _, n := range []int{1, 4, 9} {
		if _, err := env.svc.ReadTile(ctx, img.ID, n); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("uncropped piece %d: expected ErrInvalidInput, got %v", n, err)
		}
	}

	if _, err := env.svc.Crop(ctx, img.ID); err != nil {
		t.Fatalf("Crop: %v", err)
	}

	for n := 1; n <= 4; n++ {
		data, err := env.svc.ReadTile(ctx, img.ID, n)
		if err != nil {
			t.Fatalf("ReadTile(%d): %v", n, err)
		}
		want, err := os.ReadFile(filepath.Join(img.Path, strconv.Itoa(n-1)+".png"))
		if err != nil {
			t.Fatalf("read tile file: %v", err)
		}
		if !bytes.Equal(data, want) {
			t.Fatalf("piece %d returned bytes of another file", n)
		}
	}

	if _, err := env.svc.ReadTile(ctx, img.ID, 5); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("piece 5: expected ErrOutOfRange, got %v", err)
	}
	for _, n := range []int{0, -1} {
		if _, err := env.svc.ReadTile(ctx, img.ID, n); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("piece %d: expected ErrInvalidInput, got %v", n, err)
		}
	}
	if _, err := env.svc.ReadTile(ctx, uuid.NewString(), 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown id: expected ErrNotFound, got %v", err)
	}

	if err := os.Remove(filepath.Join(img.Path, "2.png")); err != nil {
		t.Fatalf("remove tile: %v", err)
	}
	if _, err := env.svc.ReadTile(ctx, img.ID, 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing tile: expected ErrNotFound, got %v", err)
	}
}

func TestImageService_MeasureDimensions(t *testing.T) {
	env := newTestEnv(t, nil)
	img := env.load(t, "/a.png", pngBytes(t, 33, 21), fourPieces)

	size, err := env.svc.MeasureDimensions(context.Background(), filepath.Join(img.Path, "index.png"))
	if err != nil {
		t.Fatalf("MeasureDimensions: %v", err)
	}
	if size != (domain.Size{Width: 33, Height: 21}) {
		t.Fatalf("expected 33x21, got %+v", size)
	}
}

func TestImageService_SetRoot(t *testing.T) {
	env := newTestEnv(t, nil)
	next := filepath.Join(t.TempDir(), "next")

	if err := env.svc.SetRoot(next); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	img := env.load(t, "/a.png", pngBytes(t, 10, 10), fourPieces)
	if filepath.Dir(img.Path) != next {
		t.Fatalf("expected image under %q, got %q", next, img.Path)
	}
}
