package playback

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"scene-studio/internal/models"
)

// FetchFunc reads the bytes behind an asset ref.
type FetchFunc func(ctx context.Context, ref string) ([]byte, error)

// Export writes every finished asset of p into a zip archive, numbered in playback order.
// Failed items are skipped. It returns the number of scenes written.
func Export(ctx context.Context, w io.Writer, p models.Project, fetch FetchFunc) (int, error) {
	zw := zip.NewWriter(w)
	n := 0
	for _, it := range p.Items {
		if it.Status != models.ItemSucceeded || it.AssetRef == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return n, err
		}
		n++
		if err := addFile(ctx, zw, fmt.Sprintf("%02d_visual%s", n, extOf(it.AssetRef)), it.AssetRef, fetch); err != nil {
			_ = zw.Close()
			return n, err
		}
		if it.NarrationRef != "" {
			if err := addFile(ctx, zw, fmt.Sprintf("%02d_narration%s", n, extOf(it.NarrationRef)), it.NarrationRef, fetch); err != nil {
				_ = zw.Close()
				return n, err
			}
		}
		if strings.TrimSpace(it.Prompt) != "" {
			f, err := zw.Create(fmt.Sprintf("%02d_prompt.txt", n))
			if err != nil {
				_ = zw.Close()
				return n, fmt.Errorf("zip entry: %w", err)
			}
			if _, err := io.WriteString(f, it.Prompt); err != nil {
				_ = zw.Close()
				return n, fmt.Errorf("zip entry: %w", err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("close zip: %w", err)
	}
	return n, nil
}

func addFile(ctx context.Context, zw *zip.Writer, name, ref string, fetch FetchFunc) error {
	data, err := fetch(ctx, ref)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", ref, err)
	}
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("zip entry: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("zip entry: %w", err)
	}
	return nil
}

func extOf(ref string) string {
	return path.Ext(ref)
}
