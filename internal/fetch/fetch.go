package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/msomdec/tilecrop/internal/domain"
)

const defaultBaseName = "image"

// HTTPFetcher implements domain.Fetcher with a single HTTP GET.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates an HTTPFetcher. A nil client uses http.DefaultClient;
// maxBytes <= 0 disables the body size limit.
func New(client *http.Client, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads rawURL and sniffs the image type from the body.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*domain.Fetched, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid url %q", domain.ErrInvalidInput, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrFetch, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s", domain.ErrFetch, resp.Status)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrFetch, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrFetch, f.maxBytes)
	}

	ext, ok := SniffExt(data)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized image content", domain.ErrFetch)
	}
	if !Croppable(ext) {
		return nil, fmt.Errorf("%w: %s images cannot be cropped", domain.ErrInvalidInput, ext)
	}

	final := u
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}

	return &domain.Fetched{
		Body:     data,
		Ext:      ext,
		BaseName: BaseName(final),
		URL:      final.String(),
	}, nil
}

// BaseName returns the last path element of u up to its first dot.
func BaseName(u *url.URL) string {
	name, _, _ := strings.Cut(path.Base(u.Path), ".")
	if name == "" || name == "/" {
		return defaultBaseName
	}
	return name
}

var (
	tiffLittleEndian = []byte("II*\x00")
	tiffBigEndian    = []byte("MM\x00*")
)

// contentTypeExt maps sniffed MIME types to the extensions files are stored under.
var contentTypeExt = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/webp": "webp",
}

// Croppable reports whether tiles can be written in format ext. WebP is
// recognised for serving but has no encoder.
func Croppable(ext string) bool {
	return ext != "webp"
}

// SniffExt detects the image extension from the leading bytes of data.
func SniffExt(data []byte) (string, bool) {
	// DetectContentType has no TIFF signature.
	if bytes.HasPrefix(data, tiffLittleEndian) || bytes.HasPrefix(data, tiffBigEndian) {
		return "tif", true
	}
	ext, ok := contentTypeExt[http.DetectContentType(data)]
	return ext, ok
}

// ContentType returns the MIME type for a stored extension.
func ContentType(ext string) string {
	if ext == "tif" {
		return "image/tiff"
	}
	for ct, e := range contentTypeExt {
		if e == ext {
			return ct
		}
	}
	return "application/octet-stream"
}
