// Package assets stores generated media and derives cover thumbnails.
package assets

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"scene-studio/internal/config"
)

// Backend persists asset bytes under a key and reads them back by the returned ref.
type Backend interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Download(ctx context.Context, ref string) ([]byte, error)
}

// Linker is implemented by backends that can hand out time-limited download links.
type Linker interface {
	Link(ctx context.Context, ref string, expiry time.Duration) (string, error)
}

// ErrUnknownRef is returned for refs the backend did not issue.
var ErrUnknownRef = errors.New("assets: unknown ref")

// New picks the backend named by cfg.AssetBackend.
func New(ctx context.Context, cfg config.Config) (Backend, error) {
	switch strings.ToLower(cfg.AssetBackend) {
	case "", "local":
		dir := cfg.AssetDir
		if dir == "" {
			dir = "./output"
		}
		return NewLocal(dir), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("asset backend s3 requested but S3_BUCKET is not configured")
		}
		return NewS3(ctx, cfg)
	case "minio":
		return NewMinIO(ctx, cfg)
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, errors.New("asset backend gcs requested but GCS_BUCKET is not configured")
		}
		return NewGCS(ctx, cfg.GCSBucket)
	default:
		return nil, fmt.Errorf("unknown asset backend %q", cfg.AssetBackend)
	}
}

// SceneKey names the object holding one scene asset of a project.
func SceneKey(projectID string, index int, kind, mimeType string) string {
	return sanitizeKey(fmt.Sprintf("projects/%s/%02d_%s.%s", projectID, index+1, kind, ExtensionFor(mimeType)))
}

// ExtensionFor maps a media type to a file extension.
func ExtensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg":
		return "mp3"
	default:
		return "bin"
	}
}

// ContentTypeFor is the inverse of ExtensionFor, keyed on the file extension of name.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean(key))
	key = strings.TrimPrefix(key, "/")
	key = strings.TrimPrefix(key, "./")
	for strings.HasPrefix(key, "../") {
		key = strings.TrimPrefix(key, "../")
	}
	return key
}
