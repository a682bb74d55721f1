/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package assets fetches images and SVG documents referenced by URL and
// reports their intrinsic size. Pixels are never decoded.
package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	applog "goposter/internal/log"
)

// DefaultMaxBytes caps a single fetched asset.
const DefaultMaxBytes = 32 << 20

// ErrTooLarge is returned for assets over the size cap.
var ErrTooLarge = errors.New("asset exceeds size limit")

// Image describes a fetched raster image.
type Image struct {
	URL    string `json:"url"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient sets the client used for http and https URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) {
		if c != nil {
			l.client = c
		}
	}
}

// WithMaxBytes sets the size cap.
func WithMaxBytes(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loader) {
		if lg != nil {
			l.log = lg
		}
	}
}

// Loader resolves http(s), file and data URLs.
type Loader struct {
	client   *http.Client
	maxBytes int64
	log      *slog.Logger
}

// NewLoader returns a loader with a 30s HTTP client.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: DefaultMaxBytes,
		log:      applog.WithComponent("assets"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Image fetches src and decodes its header.
func (l *Loader) Image(ctx context.Context, src string) (Image, error) {
	b, err := l.Fetch(ctx, src)
	if err != nil {
		return Image{}, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		l.log.Error("image decode failed", slog.String("url", short(src)), slog.Any("err", err))
		return Image{}, fmt.Errorf("decode image %s: %w", short(src), err)
	}
	return Image{URL: src, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Fetch reads the bytes behind src.
func (l *Loader) Fetch(ctx context.Context, src string) ([]byte, error) {
	b, err := l.fetch(ctx, src)
	if err != nil {
		l.log.Error("asset fetch failed", slog.String("url", short(src)), slog.Any("err", err))
		return nil, fmt.Errorf("load %s: %w", short(src), err)
	}
	return b, nil
}

func (l *Loader) fetch(ctx context.Context, src string) ([]byte, error) {
	if strings.HasPrefix(src, "data:") {
		return decodeDataURL(src)
	}
	u, err := url.Parse(src)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, err
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("http status %s", resp.Status)
		}
		return l.readCapped(resp.Body)
	case "file", "":
		p := u.Path
		if u.Scheme == "" {
			p = src
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		return l.readCapped(f)
	}
	return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
}

func (l *Loader) readCapped(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > l.maxBytes {
		return nil, ErrTooLarge
	}
	return b, nil
}

// decodeDataURL handles data:[<mediatype>][;base64],<data>.
func decodeDataURL(s string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data URL")
	}
	if strings.HasSuffix(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// some producers drop the padding
			if b2, err2 := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); err2 == nil {
				return b2, nil
			}
			return nil, fmt.Errorf("data URL: %w", err)
		}
		return b, nil
	}
	if p, err := url.PathUnescape(payload); err == nil {
		return []byte(p), nil
	}
	// not percent-encoded, e.g. inline SVG containing a literal %
	return []byte(payload), nil
}

// short keeps data URLs out of logs and error messages.
func short(src string) string {
	if len(src) > 64 {
		return src[:61] + "..."
	}
	return src
}
