// Package storage keeps uploaded business logos on disk or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
)

// MaxLogoSize caps uploaded logos.
const MaxLogoSize = 2 << 20

var (
	ErrUnsupportedImage = errors.New("storage: unsupported image type")
	ErrImageTooLarge    = errors.New("storage: image too large")
	ErrInvalidKey       = errors.New("storage: invalid key")
)

var imageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// LogoStore saves and removes logo objects. Put returns the public URL.
type LogoStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// Image is a validated upload.
type Image struct {
	Data        []byte
	ContentType string
	Ext         string
}

// ReadImage reads at most MaxLogoSize bytes from r and checks the content by
// sniffing, ignoring whatever type the client claimed.
func ReadImage(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxLogoSize+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read upload: %w", err)
	}
	if len(data) > MaxLogoSize {
		return nil, ErrImageTooLarge
	}
	ct := http.DetectContentType(data)
	ext, ok := imageTypes[ct]
	if !ok {
		return nil, ErrUnsupportedImage
	}
	return &Image{Data: data, ContentType: ct, Ext: ext}, nil
}

// LogoKey names a new logo object for a user. Keys never repeat so caches of
// the previous logo cannot serve stale bytes.
func LogoKey(userID uint, ext string) string {
	return fmt.Sprintf("logos/%d/%s%s", userID, uuid.NewString(), ext)
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	c := path.Clean(key)
	if c != key || c == "." || strings.HasPrefix(c, "../") || c == ".." {
		return "", ErrInvalidKey
	}
	return c, nil
}

// Save stores a validated image for userID under a fresh key and returns
// the key and public URL.
func Save(ctx context.Context, store LogoStore, userID uint, img *Image) (key, url string, err error) {
	key = LogoKey(userID, img.Ext)
	url, err = store.Put(ctx, key, img.ContentType, img.Data)
	if err != nil {
		return "", "", err
	}
	return key, url, nil
}
