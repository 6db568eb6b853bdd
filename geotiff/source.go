package geotiff

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

// ReadSeekerAt is what Open needs from a file source.
type ReadSeekerAt interface {
	io.ReadSeeker
	io.ReaderAt
}

// OpenSource opens the bytes of a GeoTIFF from a location: an http(s) URL read with
// range requests, a bucket URL (file://, mem://, or any registered gocloud driver)
// where the path is the key, or a local file path. The returned function releases the
// source.
func OpenSource(ctx context.Context, location string) (ReadSeekerAt, func() error, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		r, err := NewHTTPRangeReader(ctx, location, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create HTTP reader for %s: %w", location, err)
		}
		return r, func() error { return nil }, nil
	case strings.Contains(location, "://"):
		bucketURL, key, err := splitBlobURL(location)
		if err != nil {
			return nil, nil, err
		}
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
		}
		r, err := NewBlobReader(ctx, bucket, key)
		if err != nil {
			bucket.Close()
			return nil, nil, err
		}
		return r, bucket.Close, nil
	default:
		f, err := os.Open(location)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open local file: %w", err)
		}
		return f, f.Close, nil
	}
}

// splitBlobURL separates "scheme://bucket/path/key?opts" into the bucket URL and the key.
// For file:// URLs the bucket is the directory of the file.
func splitBlobURL(location string) (string, string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob URL %q: %w", location, err)
	}
	if u.Scheme == "file" {
		dir, key := u.Path, ""
		if i := strings.LastIndex(u.Path, "/"); i >= 0 {
			dir, key = u.Path[:i], u.Path[i+1:]
		}
		if dir == "" {
			dir = "/"
		}
		bucket := url.URL{Scheme: "file", Path: dir, RawQuery: u.RawQuery}
		return bucket.String(), key, nil
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("blob URL %q has no key", location)
	}
	bucket := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
	return bucket.String(), key, nil
}
