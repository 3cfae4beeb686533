// Package gzmember finds where each member of a multi-member gzip stream
// (e.g., a .warc.gz file where every WARC record is compressed on its own)
// begins and how many compressed bytes it spans, without decompressing
// anything.
//
// The header of the first member is used as the pattern to look for.
// This assumes all members were written by the same compressor with the
// same header fields.  Config.PatternLen narrows the pattern for streams
// that vary a field (typically MTIME) from member to member.
package gzmember

import (
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLen is the length of the fixed part of a gzip member header.
	HeaderLen = 10
	// MinPatternLen covers the magic and the compression method.
	MinPatternLen = 3
	// DefaultBufferSize is the number of bytes read per scan pass.
	DefaultBufferSize = 4096
)

// HeaderPattern is the fixed header of the first member.
type HeaderPattern [HeaderLen]byte

// Config defines scanner configuration options.  Zero values select
// the defaults.
type Config struct {
	BufferSize int // bytes read per pass (default 4096)
	PatternLen int // header bytes that must match (default HeaderLen)
}

// Scanner reports the offsets of gzip member headers in a byte stream.
type Scanner struct {
	r       io.Reader
	header  HeaderPattern
	m       *matcher
	buf     []byte
	pending []byte // header bytes consumed by NewScanner and not yet scanned
	base    int64  // stream position of the first header
	pos     int64  // absolute offset of the next byte to scan
	done    bool
}

var (
	// Magic is the two-byte prefix of every gzip member.
	Magic = [2]byte{0x1f, 0x8b}

	ErrInvalidFormat = errors.New("not a gzip stream")
	ErrRead          = errors.New("failed to read stream")
	ErrConfig        = errors.New("invalid scanner configuration")

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// NewScanner reads the first member header from r and returns a scanner
// that uses it as the pattern for all later members.  If r is also an
// io.Seeker, reported offsets are absolute positions in r; otherwise
// they are relative to where r was when NewScanner was called.
func NewScanner(r io.Reader, conf Config) (*Scanner, error) {
	if conf.BufferSize == 0 {
		conf.BufferSize = DefaultBufferSize
	}
	if conf.PatternLen == 0 {
		conf.PatternLen = HeaderLen
	}
	if conf.BufferSize < HeaderLen {
		return nil, fmt.Errorf("%w: buffer size %d", ErrConfig, conf.BufferSize)
	}
	if conf.PatternLen < MinPatternLen || conf.PatternLen > HeaderLen {
		return nil, fmt.Errorf("%w: pattern length %d", ErrConfig, conf.PatternLen)
	}

	var base int64
	if seeker, ok := r.(io.Seeker); ok {
		pos, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRead, err)
		}
		base = pos
	}
	s := &Scanner{
		r:    r,
		buf:  make([]byte, conf.BufferSize),
		base: base,
		pos:  base,
	}
	if _, err := io.ReadFull(r, s.header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short header", ErrInvalidFormat)
		}
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	if s.header[0] != Magic[0] || s.header[1] != Magic[1] {
		return nil, fmt.Errorf("%w: bad magic %#02x %#02x", ErrInvalidFormat, s.header[0], s.header[1])
	}
	s.pending = append([]byte(nil), s.header[:]...)
	s.m = newMatcher(s.header[:conf.PatternLen])
	verbose("header pattern % x (matching %d bytes) at offset %d", s.header, conf.PatternLen, base)
	return s, nil
}

// Header returns the header pattern of the first member.
func (s *Scanner) Header() HeaderPattern {
	return s.header
}

// Base returns the stream position of the first member.
func (s *Scanner) Base() int64 {
	return s.base
}

// Pass performs one scan pass: a single read of up to the buffer size
// and a search of the bytes read.  It returns the offsets of all member
// headers that completed during the pass, including those that started
// in an earlier pass.  The first pass only covers the header bytes that
// NewScanner already consumed.
//
// When the stream is exhausted, Pass returns the end-of-stream offset as
// a final sentinel boundary along with io.EOF.  Calls after that return
// nil and io.EOF.
func (s *Scanner) Pass() ([]int64, error) {
	if s.done {
		return nil, io.EOF
	}
	var found []int64
	if s.pending != nil {
		found = s.m.scan(s.pending, s.pos, found)
		s.pos += int64(len(s.pending))
		s.pending = nil
		return found, nil
	}
	n, err := io.ReadAtLeast(s.r, s.buf, 1)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrRead, err)
		}
		s.done = true
		verbose("end of stream at offset %d", s.pos)
		return []int64{s.pos}, io.EOF
	}
	found = s.m.scan(s.buf[:n], s.pos, found)
	s.pos += int64(n)
	return found, nil
}
