package geotiff

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// BlobReader reads an object of a gocloud bucket (S3, GCS, Azure, local files...) with
// ranged reads.
type BlobReader struct {
	rangeReader
	ctx    context.Context
	bucket *blob.Bucket
	key    string
}

// NewBlobReader creates a reader for key in bucket. The bucket stays owned by the caller.
func NewBlobReader(ctx context.Context, bucket *blob.Bucket, key string) (*BlobReader, error) {
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes for key %s: %w", key, err)
	}
	r := &BlobReader{ctx: ctx, bucket: bucket, key: key}
	r.rangeReader = rangeReader{size: attrs.Size, fetch: r.fetch}
	return r, nil
}

func (r *BlobReader) fetch(p []byte, off int64) (int, error) {
	reader, err := r.bucket.NewRangeReader(r.ctx, r.key, off, int64(len(p)), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create range reader: %w", err)
	}
	defer reader.Close()
	return io.ReadFull(reader, p)
}
