package warc_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/m-lab/warcindex/internal/testhelper"
	"github.com/m-lab/warcindex/internal/warc"
)

func TestVerbose(t *testing.T) {
	warc.Verbose(func(fmt string, args ...interface{}) {})
}

func TestNext(t *testing.T) {
	t.Parallel()
	date := time.Date(2011, 2, 25, 18, 32, 19, 0, time.UTC)
	records := []testhelper.WARCRecord{
		{Type: "warcinfo", ContentType: "application/warc-fields", Block: "software: test\r\n"},
		testhelper.ResponseRecord("http://example.com/", 200, "text/html"),
		{Type: "request", TargetURI: "http://example.com/", Date: date, Block: "GET / HTTP/1.1\r\n\r\n"},
		{Type: "metadata", TargetURI: "http://example.com/", Block: ""},
	}
	contents, offsets, err := testhelper.WARCGzip(records)
	if err != nil {
		t.Fatalf("WARCGzip() = %v", err)
	}
	r := warc.NewReader(bytes.NewReader(contents))
	for i, want := range records {
		t.Logf("%s>>> test %02d: %v%s", testhelper.ANSIPurple, i, want.Type, testhelper.ANSIEnd)
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("Next() = %v, want nil", err)
		}
		if rec.Type() != want.Type {
			t.Fatalf("Type() = %v, want %v", rec.Type(), want.Type)
		}
		if rec.Get(warc.FieldTargetURI) != want.TargetURI {
			t.Fatalf("Get(%v) = %v, want %v", warc.FieldTargetURI, rec.Get(warc.FieldTargetURI), want.TargetURI)
		}
		if string(rec.Block) != want.Block {
			t.Fatalf("Block = %q, want %q", rec.Block, want.Block)
		}
		if rec.Offset != offsets[i] {
			t.Fatalf("Offset = %v, want %v", rec.Offset, offsets[i])
		}
		if rec.Version != "WARC/1.0" {
			t.Fatalf("Version = %v, want WARC/1.0", rec.Version)
		}
	}
	if r.Members() != len(records) {
		t.Fatalf("Members() = %v, want %v", r.Members(), len(records))
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() = %v, want %v", err, io.EOF)
	}
}

func TestDate(t *testing.T) {
	t.Parallel()
	date := time.Date(2011, 2, 25, 18, 32, 19, 0, time.UTC)
	contents, _, err := testhelper.WARCGzip([]testhelper.WARCRecord{
		{Type: "resource", Date: date, Block: "x"},
		{Raw: "WARC/1.1\r\nWARC-Type: resource\r\nWARC-Date: 2011-02-25T18:32:19.123456Z\r\nContent-Length: 0\r\n\r\n"},
	})
	if err != nil {
		t.Fatalf("WARCGzip() = %v", err)
	}
	r := warc.NewReader(bytes.NewReader(contents))
	for i, want := range []time.Time{date, date.Add(123456 * time.Microsecond)} {
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: Next() = %v, want nil", i, err)
		}
		if !rec.Date.Equal(want) {
			t.Fatalf("record %d: Date = %v, want %v", i, rec.Date, want)
		}
	}
}

// TestDecodeError verifies that a record that fails to decode consumes
// exactly its own member.
func TestDecodeError(t *testing.T) {
	t.Parallel()
	good := testhelper.ResponseRecord("http://example.com/", 200, "text/html")
	tests := []struct {
		name string
		bad  testhelper.WARCRecord
	}{
		{"not warc", testhelper.WARCRecord{Raw: "HTTP/1.1 200 OK\r\n\r\n"}},
		{"no header end", testhelper.WARCRecord{Raw: "WARC/1.0\r\nWARC-Type: response\r\n"}},
		{"no type", testhelper.WARCRecord{Raw: "WARC/1.0\r\nWARC-Date: 2011-02-25T18:32:19Z\r\nContent-Length: 0\r\n\r\n"}},
		{"bad date", testhelper.WARCRecord{Raw: "WARC/1.0\r\nWARC-Type: response\r\nWARC-Date: yesterday\r\nContent-Length: 0\r\n\r\n"}},
		{"no length", testhelper.WARCRecord{Raw: "WARC/1.0\r\nWARC-Type: response\r\nWARC-Date: 2011-02-25T18:32:19Z\r\n\r\n"}},
		{"negative length", testhelper.WARCRecord{Raw: "WARC/1.0\r\nWARC-Type: response\r\nWARC-Date: 2011-02-25T18:32:19Z\r\nContent-Length: -1\r\n\r\n"}},
		{"short block", testhelper.WARCRecord{Raw: "WARC/1.0\r\nWARC-Type: response\r\nWARC-Date: 2011-02-25T18:32:19Z\r\nContent-Length: 100\r\n\r\nshort"}},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d: %v%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		contents, offsets, err := testhelper.WARCGzip([]testhelper.WARCRecord{good, test.bad, good})
		if err != nil {
			t.Fatalf("WARCGzip() = %v", err)
		}
		r := warc.NewReader(bytes.NewReader(contents))
		if _, err := r.Next(); err != nil {
			t.Fatalf("Next() = %v, want nil", err)
		}
		_, err = r.Next()
		var decodeErr *warc.DecodeError
		if !errors.As(err, &decodeErr) || !errors.Is(err, warc.ErrDecode) {
			t.Fatalf("Next() = %v, want %v", err, warc.ErrDecode)
		}
		if decodeErr.Index != 1 || decodeErr.Offset != offsets[1] {
			t.Fatalf("DecodeError = %+v, want index 1 offset %v", decodeErr, offsets[1])
		}
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("Next() = %v, want nil", err)
		}
		if rec.Offset != offsets[2] {
			t.Fatalf("Offset = %v, want %v", rec.Offset, offsets[2])
		}
	}
}

func TestGzipError(t *testing.T) {
	t.Parallel()
	contents, offsets, err := testhelper.WARCGzip([]testhelper.WARCRecord{
		testhelper.ResponseRecord("http://example.com/", 200, "text/html"),
		testhelper.ResponseRecord("http://example.com/a", 200, "text/html"),
	})
	if err != nil {
		t.Fatalf("WARCGzip() = %v", err)
	}
	tests := []struct {
		name     string
		contents []byte
		wantErr  error
	}{
		{"empty", nil, io.EOF},
		{"not gzip", []byte("WARC/1.0\r\n"), warc.ErrGzip},
		{"truncated header", contents[:offsets[1]+5], warc.ErrGzip},
		{"truncated member", contents[:len(contents)-4], warc.ErrGzip},
		{"trailing garbage", append(append([]byte{}, contents...), "garbage!!!!!"...), warc.ErrGzip},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d: %v%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		r := warc.NewReader(bytes.NewReader(test.contents))
		var err error
		for err == nil {
			_, err = r.Next()
		}
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("Next() = %v, want %v", err, test.wantErr)
		}
		// The reader is done after a fatal error.
		if _, err := r.Next(); !errors.Is(err, io.EOF) {
			t.Fatalf("Next() = %v, want %v", err, io.EOF)
		}
	}
}

func TestHas(t *testing.T) {
	t.Parallel()
	var b bytes.Buffer
	zw := gzip.NewWriter(&b)
	record := "WARC/1.0\r\nWARC-Type: response\r\nWARC-Date: 2011-02-25T18:32:19Z\r\nContent-Type:\r\nContent-Length: 0\r\n\r\n"
	if _, err := zw.Write([]byte(record)); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	rec, err := warc.NewReader(&b).Next()
	if err != nil {
		t.Fatalf("Next() = %v, want nil", err)
	}
	if !rec.Has("content-type") || rec.Get(warc.FieldContentType) != "" {
		t.Fatalf("Has(content-type) = false, want true")
	}
	if rec.Has(warc.FieldTargetURI) {
		t.Fatalf("Has(%v) = true, want false", warc.FieldTargetURI)
	}
}

func TestReadAt(t *testing.T) {
	t.Parallel()
	records := []testhelper.WARCRecord{
		{Type: "warcinfo", Block: "software: test\r\n"},
		testhelper.ResponseRecord("http://example.com/a", 200, "text/html"),
		testhelper.ResponseRecord("http://example.com/b", 404, "text/plain"),
	}
	contents, offsets, err := testhelper.WARCGzip(records)
	if err != nil {
		t.Fatalf("WARCGzip() = %v", err)
	}
	offsets = append(offsets, int64(len(contents)))
	r := bytes.NewReader(contents)
	for i := len(records) - 1; i >= 0; i-- {
		t.Logf("%s>>> test %02d: offset %d%s", testhelper.ANSIPurple, i, offsets[i], testhelper.ANSIEnd)
		rec, err := warc.ReadAt(r, offsets[i], offsets[i+1]-offsets[i])
		if err != nil {
			t.Fatalf("ReadAt() = %v, want nil", err)
		}
		if rec.Get(warc.FieldTargetURI) != records[i].TargetURI || rec.Offset != offsets[i] {
			t.Fatalf("ReadAt() = %v at %d, want %v at %d", rec.Get(warc.FieldTargetURI), rec.Offset, records[i].TargetURI, offsets[i])
		}
	}
	if _, err := warc.ReadAt(r, offsets[1]+1, 20); !errors.Is(err, warc.ErrGzip) {
		t.Fatalf("ReadAt() = %v, want %v", err, warc.ErrGzip)
	}
	if _, err := warc.ReadAt(r, int64(len(contents)), 0); !errors.Is(err, warc.ErrGzip) {
		t.Fatalf("ReadAt() = %v, want %v", err, warc.ErrGzip)
	}
}
