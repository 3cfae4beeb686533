// Package sink wraps the writer of an index file with an optional
// compressor.
package sink

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Compression names.
const (
	None   = "none"
	Gzip   = "gzip"
	Zstd   = "zstd"
	LZ4    = "lz4"
	XZ     = "xz"
	Bzip2  = "bzip2"
	Brotli = "brotli"
)

// Compressions lists all supported compressions.
var Compressions = []string{None, Gzip, Zstd, LZ4, XZ, Bzip2, Brotli}

var (
	extensions = map[string]string{
		None:   "",
		Gzip:   ".gz",
		Zstd:   ".zst",
		LZ4:    ".lz4",
		XZ:     ".xz",
		Bzip2:  ".bz2",
		Brotli: ".br",
	}

	ErrCompression = errors.New("unknown compression")
	ErrWriter      = errors.New("failed to create compressor")
	ErrReader      = errors.New("failed to create decompressor")
)

// nopCloser does not close the underlying writer, which belongs to the
// caller.
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

// Extension returns the filename extension (including the dot) of the
// given compression, or "" for no compression.
func Extension(c string) (string, error) {
	ext, ok := extensions[c]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrCompression, c)
	}
	return ext, nil
}

// NewWriter returns a writer that compresses what is written to it and
// writes the result to w.  Closing the returned writer flushes the
// compressor but does not close w.
func NewWriter(w io.Writer, c string) (io.WriteCloser, error) {
	switch c {
	case None, "":
		return nopCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWriter, err)
		}
		return zw, nil
	case LZ4:
		return lz4.NewWriter(w), nil
	case XZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWriter, err)
		}
		return xw, nil
	case Bzip2:
		bw, err := bzip2.NewWriter(w, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWriter, err)
		}
		return bw, nil
	case Brotli:
		return brotli.NewWriter(w), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrCompression, c)
}

// NewReader returns a reader that decompresses r according to the
// given compression.  It is the inverse of NewWriter and is mostly used
// to check index files.
func NewReader(r io.Reader, c string) (io.Reader, error) {
	switch c {
	case None, "":
		return r, nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReader, err)
		}
		return zr, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReader, err)
		}
		return zr.IOReadCloser(), nil
	case LZ4:
		return lz4.NewReader(r), nil
	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReader, err)
		}
		return xr, nil
	case Bzip2:
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReader, err)
		}
		return br, nil
	case Brotli:
		return brotli.NewReader(r), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrCompression, c)
}

// FromExtension returns the compression whose extension ends the given
// filename, or None.
func FromExtension(filename string) string {
	for _, c := range Compressions {
		if ext := extensions[c]; ext != "" && strings.HasSuffix(filename, ext) {
			return c
		}
	}
	return None
}
