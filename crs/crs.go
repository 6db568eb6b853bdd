// Package crs turns EPSG codes into WKT projection strings.
package crs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ErrUnknownCode is returned when no resolver knows an EPSG code.
var ErrUnknownCode = errors.New("unsupported EPSG code")

// DefaultURLTemplate is where HTTPResolver fetches WKT definitions by default.
const DefaultURLTemplate = "https://epsg.io/%d.wkt"

// Resolver looks up the WKT of an EPSG code.
type Resolver interface {
	Resolve(ctx context.Context, code int) (string, error)
}

// Cache memoizes a resolver. Codes are never evicted.
type Cache struct {
	resolver Resolver

	mu  sync.Mutex
	wkt map[int]string
}

func NewCache(r Resolver) *Cache {
	return &Cache{resolver: r, wkt: make(map[int]string)}
}

// WKT returns the projection of code. Code 0 means no projection and yields "".
func (c *Cache) WKT(ctx context.Context, code int) (string, error) {
	if code == 0 {
		return "", nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if wkt, ok := c.wkt[code]; ok {
		return wkt, nil
	}
	wkt, err := c.resolver.Resolve(ctx, code)
	if err != nil {
		return "", fmt.Errorf("EPSG:%d: %w", code, err)
	}
	c.wkt[code] = wkt
	return wkt, nil
}

// Static resolves codes from a fixed table.
type Static map[int]string

func (s Static) Resolve(_ context.Context, code int) (string, error) {
	if wkt, ok := s[code]; ok {
		return wkt, nil
	}
	return "", ErrUnknownCode
}

// Chain tries resolvers in order until one knows the code.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, code int) (string, error) {
	var errs []error
	for _, r := range c {
		wkt, err := r.Resolve(ctx, code)
		if err == nil {
			return wkt, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrUnknownCode
	}
	return "", errors.Join(errs...)
}

// HTTPResolver fetches definitions from a web service. URLTemplate holds one %d verb
// for the code.
type HTTPResolver struct {
	URLTemplate string
	Client      *http.Client
}

func (h *HTTPResolver) Resolve(ctx context.Context, code int) (string, error) {
	tmpl := h.URLTemplate
	if tmpl == "" {
		tmpl = DefaultURLTemplate
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(tmpl, code), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch definition: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrUnknownCode
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read definition: %w", err)
	}
	wkt := strings.TrimSpace(string(body))
	if wkt == "" {
		return "", ErrUnknownCode
	}
	return wkt, nil
}
