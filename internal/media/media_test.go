package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestSaveBanner(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	url, err := store.SaveBanner(ctx, bytes.NewReader(pngBytes(t, 1600, 400)))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(url, URLPrefix) || !strings.HasSuffix(url, ".png") {
		t.Fatalf("url = %q", url)
	}
	img, err := imaging.Open(filepath.Join(dir, filepath.Base(url)))
	if err != nil {
		t.Fatalf("open stored: %v", err)
	}
	if img.Bounds().Dx() != MaxBannerWidth || img.Bounds().Dy() != 300 {
		t.Fatalf("stored size = %v", img.Bounds())
	}

	rr := httptest.NewRecorder()
	store.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("serve status = %d", rr.Code)
	}

	if err := store.Remove(url); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.Base(url))); !os.IsNotExist(err) {
		t.Fatalf("file should be gone: %v", err)
	}
	if err := store.Remove("https://example.com/a.png"); err != nil {
		t.Fatalf("foreign urls are ignored: %v", err)
	}
}

func TestSaveBannerRejects(t *testing.T) {
	store, _ := NewStore(t.TempDir(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "text file", data: []byte("hello, not an image"), want: ErrUnsupportedType},
		{name: "gif", data: []byte("GIF89a\x01\x00\x01\x00"), want: ErrUnsupportedType},
		{name: "too large", data: append(pngBytes(t, 2, 2), make([]byte, MaxUploadBytes)...), want: ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.SaveBanner(ctx, bytes.NewReader(tt.data)); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
