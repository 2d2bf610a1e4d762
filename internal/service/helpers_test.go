package service_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/msomdec/tilecrop/internal/domain"
	"github.com/msomdec/tilecrop/internal/fetch"
	"github.com/msomdec/tilecrop/internal/geometry"
	"github.com/msomdec/tilecrop/internal/repository/sqlite"
	"github.com/msomdec/tilecrop/internal/service"
	"github.com/msomdec/tilecrop/internal/storage"
)

type testEnv struct {
	svc    *service.ImageService
	db     *sqlite.DB
	root   *storage.Root
	server *httptest.Server
	files  map[string][]byte
}

// newTestEnv wires a service against a temp SQLite database, a temp storage
// root and an HTTP server that serves env.files by path.
func newTestEnv(t *testing.T, geo domain.Geometry) *testEnv {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	root, err := storage.Open(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("open root: %v", err)
	}

	env := &testEnv{db: db, root: root, files: make(map[string][]byte)}
	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := env.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(env.server.Close)

	if geo == nil {
		geo = geometry.NewEngine()
	}
	env.svc = service.NewImageService(db.Images(), root, fetch.New(env.server.Client(), 0), geo)
	return env
}

func (e *testEnv) url(path string) string {
	return e.server.URL + path
}

// load serves data at path and ingests it.
func (e *testEnv) load(t *testing.T, path string, data []byte, params domain.CropParams) *domain.Image {
	t.Helper()
	e.files[path] = data
	img, err := e.svc.LoadImage(context.Background(), e.url(path), params)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	return img
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(w, h), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// encodeBytes encodes a gradient of the given size in the format stored under ext.
func encodeBytes(t *testing.T, ext string, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := gradient(w, h)
	var err error
	switch ext {
	case "jpg":
		err = jpeg.Encode(&buf, img, nil)
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	case "bmp":
		err = bmp.Encode(&buf, img)
	case "tif":
		err = tiff.Encode(&buf, img, nil)
	default:
		t.Fatalf("no test encoder for %q", ext)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", ext, err)
	}
	return buf.Bytes()
}

// stubGeometry measures with the real engine and delegates crops to cropFn.
type stubGeometry struct {
	engine *geometry.Engine
	cropFn func(ctx context.Context, src, dst string, rect image.Rectangle) error
}

func newStubGeometry(cropFn func(ctx context.Context, src, dst string, rect image.Rectangle) error) *stubGeometry {
	return &stubGeometry{engine: geometry.NewEngine(), cropFn: cropFn}
}

func (g *stubGeometry) Measure(ctx context.Context, file string) (domain.Size, error) {
	return g.engine.Measure(ctx, file)
}

func (g *stubGeometry) Crop(ctx context.Context, src, dst string, rect image.Rectangle) error {
	return g.cropFn(ctx, src, dst, rect)
}
