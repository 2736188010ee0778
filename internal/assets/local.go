package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local writes assets below a base directory. Refs are "file://" plus the key.
type Local struct {
	baseDir string
}

func NewLocal(baseDir string) *Local {
	return &Local{baseDir: baseDir}
}

const fileScheme = "file://"

func (l *Local) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	key = sanitizeKey(key)
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fileScheme + key, nil
}

func (l *Local) Download(_ context.Context, ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, fileScheme) {
		return nil, ErrUnknownRef
	}
	key := sanitizeKey(strings.TrimPrefix(ref, fileScheme))
	data, err := os.ReadFile(filepath.Join(l.baseDir, filepath.FromSlash(key)))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}
