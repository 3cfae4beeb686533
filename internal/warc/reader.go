package warc

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Reader reads WARC records from a .warc.gz stream.
type Reader struct {
	cr      *countReader  // compressed bytes consumed so far
	zr      *gzip.Reader  // decompressor reset at every member
	br      *bufio.Reader // decompressed bytes of the current member
	members int           // members read so far
	done    bool
}

// countReader counts the compressed bytes consumed by the decompressor.
// It implements io.ByteReader so the decompressor does not buffer past
// the end of a member.
type countReader struct {
	r   *bufio.Reader
	cnt int64
}

func (cr *countReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.cnt += int64(n)
	return n, err //nolint:wrapcheck
}

func (cr *countReader) ReadByte() (byte, error) {
	b, err := cr.r.ReadByte()
	if err == nil {
		cr.cnt++
	}
	return b, err //nolint:wrapcheck
}

var (
	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// NewReader returns a reader of the records in r.  Record offsets are
// relative to where r is when NewReader is called.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		cr: &countReader{r: bufio.NewReader(r)},
	}
}

// Next decompresses the next gzip member and decodes the WARC record in
// it.  It returns io.EOF when there are no more members.
//
// If the member decompresses but does not hold a valid record, Next
// returns a *DecodeError and the caller can continue with the next
// record.  Any other error means the stream is unusable from this point.
func (r *Reader) Next() (*Record, error) {
	if r.done {
		return nil, io.EOF
	}
	offset := r.cr.cnt
	if err := r.nextMember(); err != nil {
		r.done = true
		return nil, err
	}
	index := r.members
	r.members++

	rec, decodeErr := readRecord(r.br)
	// Consume whatever is left of the member (e.g., the trailing CRLFs
	// after the block, or an undecodable record).
	if _, err := io.Copy(io.Discard, r.br); err != nil {
		r.done = true
		return nil, fmt.Errorf("%w: member %d at offset %d: %v", ErrGzip, index, offset, err)
	}
	if decodeErr != nil {
		verbose("member %d at offset %d: %v", index, offset, decodeErr)
		return nil, &DecodeError{Index: index, Offset: offset, Err: decodeErr}
	}
	rec.Offset = offset
	return rec, nil
}

// nextMember positions the decompressor at the start of the next member.
func (r *Reader) nextMember() error {
	var err error
	if r.zr == nil {
		r.zr, err = gzip.NewReader(r.cr)
	} else {
		err = r.zr.Reset(r.cr)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			verbose("end of stream after %d members", r.members)
			return io.EOF
		}
		return fmt.Errorf("%w: member %d at offset %d: %v", ErrGzip, r.members, r.cr.cnt, err)
	}
	r.zr.Multistream(false)
	if r.br == nil {
		r.br = bufio.NewReader(r.zr)
	} else {
		r.br.Reset(r.zr)
	}
	return nil
}

// Members returns the number of gzip members read so far.
func (r *Reader) Members() int {
	return r.members
}

// ReadAt decodes the single record whose gzip member spans length bytes
// at offset in r.  It is how an index entry is resolved back to its
// record.
func ReadAt(r io.ReaderAt, offset, length int64) (*Record, error) {
	wr := NewReader(io.NewSectionReader(r, offset, length))
	rec, err := wr.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty member at offset %d", ErrGzip, offset)
		}
		return nil, err
	}
	rec.Offset = offset
	return rec, nil
}
