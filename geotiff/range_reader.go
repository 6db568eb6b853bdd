package geotiff

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// rangeFetcher reads exactly len(p) bytes at off; callers keep the range inside the file.
type rangeFetcher func(p []byte, off int64) (int, error)

// rangeReader turns a ranged fetch into io.ReadSeeker and io.ReaderAt. Sequential
// reads share an offset under a mutex; ReadAt is stateless and safe for concurrent
// tile fetches.
type rangeReader struct {
	size  int64
	fetch rangeFetcher

	mu     sync.Mutex
	offset int64
}

func (r *rangeReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.ReadAt(p, r.offset)
	r.offset += int64(n)
	return n, err
}

func (r *rangeReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.offset
	case io.SeekEnd:
		offset += r.size
	default:
		return 0, errors.New("invalid whence")
	}
	if offset < 0 {
		return 0, errors.New("cannot seek to negative offset")
	}
	r.offset = offset
	return offset, nil
}

// ReadAt clips the read to the end of the file, returning io.EOF with the bytes read
// when it had to.
func (r *rangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("invalid offset %d", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	clipped := min(int64(len(p)), r.size-off)
	n, err := r.fetch(p[:clipped], off)
	if err == nil && clipped < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

// Size returns the length of the file.
func (r *rangeReader) Size() int64 { return r.size }
