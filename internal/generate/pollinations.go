package generate

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PollinationsConfig configures the keyless image backend.
type PollinationsConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxBytes    int64
}

// Pollinations fetches stills from the public Pollinations image endpoint. It needs no key.
type Pollinations struct {
	cfg        PollinationsConfig
	httpClient *http.Client
}

func NewPollinations(cfg PollinationsConfig) *Pollinations {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://image.pollinations.ai"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 8 * time.Second
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 25 * 1024 * 1024
	}
	return &Pollinations{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

var frameSizes = map[string][2]int{
	"1:1":  {1024, 1024},
	"3:4":  {768, 1024},
	"4:3":  {1024, 768},
	"9:16": {720, 1280},
	"16:9": {1280, 720},
}

func (p *Pollinations) GenerateVisual(ctx context.Context, prompt, aspectRatio string) (Asset, error) {
	size, ok := frameSizes[aspectRatio]
	if !ok {
		size = frameSizes["16:9"]
	}
	q := url.Values{}
	q.Set("width", fmt.Sprint(size[0]))
	q.Set("height", fmt.Sprint(size[1]))
	q.Set("nologo", "true")
	target := fmt.Sprintf("%s/prompt/%s?%s", strings.TrimSuffix(p.cfg.BaseURL, "/"), url.PathEscape(prompt), q.Encode())

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		asset, retry, err := p.fetch(ctx, target)
		if err == nil {
			return asset, nil
		}
		lastErr = err
		if !retry || attempt == p.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Asset{}, genErr("visual", ctx.Err())
		case <-time.After(backoffWithJitter(p.cfg.BackoffBase, p.cfg.BackoffMax, attempt)):
		}
	}
	return Asset{}, genErr("visual", lastErr)
}

// fetch reports whether a failed attempt is worth retrying.
func (p *Pollinations) fetch(ctx context.Context, target string) (Asset, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Asset{}, false, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Asset{}, ctx.Err() == nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return Asset{}, retry, fmt.Errorf("download image: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBytes+1))
	if err != nil {
		return Asset{}, true, fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > p.cfg.MaxBytes {
		return Asset{}, false, fmt.Errorf("image too large (>%d bytes)", p.cfg.MaxBytes)
	}
	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(body)
	}
	return Asset{Data: body, MIMEType: mime}, false, nil
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
