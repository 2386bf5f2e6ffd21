// Package media stores uploaded announcement banners on local disk.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"duescheck/internal/log"
)

const (
	MaxUploadBytes = 5 << 20
	MaxBannerWidth = 1200
	URLPrefix      = "/uploads/"
)

var (
	ErrTooLarge        = errors.New("file exceeds 5 MiB")
	ErrUnsupportedType = errors.New("only JPEG and PNG images are accepted")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

type Store struct {
	dir    string
	logger *log.Logger
}

// NewStore creates dir when missing.
func NewStore(dir string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Store{dir: dir, logger: logger.WithComponent(log.ComponentMedia)}, nil
}

// SaveBanner validates r as a JPEG or PNG of at most MaxUploadBytes, scales
// it down to MaxBannerWidth and returns its public URL.
func (s *Store) SaveBanner(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return "", ErrTooLarge
	}
	ext, ok := extensions[http.DetectContentType(data)]
	if !ok {
		return "", ErrUnsupportedType
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	if img.Bounds().Dx() > MaxBannerWidth {
		img = imaging.Resize(img, MaxBannerWidth, 0, imaging.Lanczos)
	}

	name := uuid.NewString() + ext
	if err := imaging.Save(img, filepath.Join(s.dir, name), imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("save banner: %w", err)
	}
	s.logger.InfoContext(ctx, "Banner stored",
		"file", name,
		"width", img.Bounds().Dx(),
		"bytes", len(data))
	return URLPrefix + name, nil
}

// Remove deletes a banner previously returned by SaveBanner. URLs that do not
// point into the store are ignored.
func (s *Store) Remove(url string) error {
	if !strings.HasPrefix(url, URLPrefix) {
		return nil
	}
	name := path.Base(url)
	if name == "." || name == "/" || strings.Contains(name, "..") {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove banner: %w", err)
	}
	return nil
}

// Handler serves stored files under URLPrefix.
func (s *Store) Handler() http.Handler {
	return http.StripPrefix(URLPrefix, http.FileServer(http.Dir(s.dir)))
}
