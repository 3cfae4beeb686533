// Package warc decodes the records of a .warc.gz file, one gzip member
// at a time.
//
// Each record is expected to be compressed in its own member, which is
// what makes random access possible.  Reader decompresses exactly one
// member per call to Next() so that a record that fails to decode still
// consumes its member and later records stay aligned with the member
// boundaries reported by the gzmember package.
package warc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// Record is a decoded WARC record.
type Record struct {
	Version string               // e.g., WARC/1.0
	Header  textproto.MIMEHeader // named fields
	Date    time.Time            // parsed WARC-Date
	Block   []byte               // record block (Content-Length bytes)
	Offset  int64                // offset of the gzip member the record was read from
}

// DecodeError reports a record that could not be decoded.  It is not
// fatal: the record's member was consumed and the next record can be
// read.
type DecodeError struct {
	Index  int   // zero-based member number
	Offset int64 // offset of the member
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("record %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Well-known WARC named fields.
const (
	FieldType          = "WARC-Type"
	FieldDate          = "WARC-Date"
	FieldTargetURI     = "WARC-Target-URI"
	FieldPayloadDigest = "WARC-Payload-Digest"
	FieldContentType   = "Content-Type"
	FieldContentLength = "Content-Length"
)

var (
	ErrDecode = errors.New("failed to decode WARC record")
	ErrGzip   = errors.New("failed to decompress gzip member")
)

// Type returns the record's WARC-Type.
func (r *Record) Type() string {
	return r.Header.Get(FieldType)
}

// Get returns the value of the named field or "" if it's not present.
func (r *Record) Get(name string) string {
	return r.Header.Get(name)
}

// Has returns true if the named field is present, even if empty.
func (r *Record) Has(name string) bool {
	_, ok := r.Header[textproto.CanonicalMIMEHeaderKey(name)]
	return ok
}

// readRecord reads one WARC record from br.
func readRecord(br *bufio.Reader) (*Record, error) {
	tp := textproto.NewReader(br)
	version, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("%w: version line: %v", ErrDecode, err)
	}
	if !strings.HasPrefix(version, "WARC/") {
		return nil, fmt.Errorf("%w: invalid version line %q", ErrDecode, truncate(version))
	}
	header, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrDecode, err)
	}
	rec := &Record{Version: version, Header: header}
	if rec.Type() == "" {
		return nil, fmt.Errorf("%w: missing %v", ErrDecode, FieldType)
	}
	rec.Date, err = time.Parse(time.RFC3339Nano, header.Get(FieldDate))
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrDecode, FieldDate, err)
	}
	length, err := strconv.ParseInt(header.Get(FieldContentLength), 10, 64)
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: invalid %v %q", ErrDecode, FieldContentLength, header.Get(FieldContentLength))
	}
	rec.Block, err = io.ReadAll(io.LimitReader(br, length))
	if err != nil {
		return nil, fmt.Errorf("%w: block: %v", ErrDecode, err)
	}
	if int64(len(rec.Block)) != length {
		return nil, fmt.Errorf("%w: block has %d bytes, want %d", ErrDecode, len(rec.Block), length)
	}
	return rec, nil
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
