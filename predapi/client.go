package predapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/akhenakh/predraster/pixel"
	"github.com/akhenakh/predraster/tile"
)

// Client is an API served over HTTP by NewHandler.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a client for the prediction API at baseURL. A nil httpClient
// means http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), client: httpClient}
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		if strings.HasPrefix(path, "/sections/") {
			return fmt.Errorf("%w: %s", ErrUnknownSection, path)
		}
		return fmt.Errorf("%s not found", path)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s for %s: %s", resp.Status, path, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (c *Client) Region(ctx context.Context) (Region, error) {
	var r Region
	err := c.getJSON(ctx, "/region", &r)
	return r, err
}

func (c *Client) EPSG(ctx context.Context) (int, error) {
	var r crsResponse
	err := c.getJSON(ctx, "/crs", &r)
	return r.EPSG, err
}

func (c *Client) SectionNums(ctx context.Context) ([]int, error) {
	var nums []int
	err := c.getJSON(ctx, "/sections", &nums)
	return nums, err
}

func (c *Client) SectionInfo(ctx context.Context, section int) (SectionInfo, error) {
	var info SectionInfo
	err := c.getJSON(ctx, "/sections/"+strconv.Itoa(section), &info)
	return info, err
}

// TileIterator checks the section exists and returns its tile fetcher.
func (c *Client) TileIterator(ctx context.Context, section int) (TileIterator, error) {
	if _, err := c.SectionInfo(ctx, section); err != nil {
		return nil, err
	}
	return clientIterator{c: c, section: section}, nil
}

type clientIterator struct {
	c       *Client
	section int
}

func (it clientIterator) Tile(ctx context.Context, col, row int) (*RasterTile, error) {
	path := fmt.Sprintf("/sections/%d/tiles/%d/%d", it.section, col, row)
	resp, err := it.c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, tile.ErrNotFound
	default:
		return nil, fmt.Errorf("unexpected status %s for %s", resp.Status, path)
	}

	t := &RasterTile{}
	for _, f := range []struct {
		header string
		dst    *int
	}{
		{HeaderTileX0, &t.Region.X0},
		{HeaderTileY0, &t.Region.Y0},
		{HeaderTileWidth, &t.Region.Width},
		{HeaderTileHeight, &t.Region.Height},
	} {
		v, err := strconv.Atoi(resp.Header.Get(f.header))
		if err != nil {
			return nil, fmt.Errorf("invalid %s header in %s: %w", f.header, path, err)
		}
		*f.dst = v
	}
	if t.DataType, err = pixel.ParseDataType(resp.Header.Get(HeaderTileDataType)); err != nil {
		return nil, fmt.Errorf("invalid %s header in %s: %w", HeaderTileDataType, path, err)
	}
	if t.Data, err = io.ReadAll(resp.Body); err != nil {
		return nil, fmt.Errorf("reading tile %s: %w", path, err)
	}
	if want := t.DataType.BufferSize(t.PixelCount()); len(t.Data) != want {
		return nil, fmt.Errorf("tile %s has %d bytes, %d expected", path, len(t.Data), want)
	}
	return t, nil
}
