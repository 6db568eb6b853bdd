package geotiff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HTTPRangeReader reads a remote file with HTTP range requests.
type HTTPRangeReader struct {
	rangeReader
	ctx    context.Context
	url    string
	client *http.Client
}

// NewHTTPRangeReader creates a new reader for a remote file URL. Every range request
// is bound to ctx.
func NewHTTPRangeReader(ctx context.Context, url string, client *http.Client) (*HTTPRangeReader, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create head request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http head request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status for http head request: %s", resp.Status)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return nil, errors.New("server does not accept byte range requests")
	}
	if resp.ContentLength <= 0 {
		return nil, errors.New("could not determine content length or file is empty")
	}

	h := &HTTPRangeReader{ctx: ctx, url: url, client: client}
	h.rangeReader = rangeReader{size: resp.ContentLength, fetch: h.fetch}
	return h, nil
}

func (h *HTTPRangeReader) fetch(p []byte, off int64) (int, error) {
	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1))

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("expected status 206 Partial Content, got: %s", resp.Status)
	}
	return io.ReadFull(resp.Body, p)
}
