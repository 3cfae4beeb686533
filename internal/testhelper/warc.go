package testhelper

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// WARCRecord describes a synthetic WARC record.  Empty fields are left
// out of the record header.
type WARCRecord struct {
	Type        string    // WARC-Type
	TargetURI   string    // WARC-Target-URI
	Date        time.Time // WARC-Date (zero means 2024-01-02T03:04:05Z)
	Digest      string    // WARC-Payload-Digest
	ContentType string    // Content-Type
	Block       string    // record block
	Raw         string    // if set, the member holds these bytes instead of a record
}

// Bytes returns the uncompressed WARC record.
func (r WARCRecord) Bytes() []byte {
	if r.Raw != "" {
		return []byte(r.Raw)
	}
	date := r.Date
	if date.IsZero() {
		date = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	}
	var b bytes.Buffer
	b.WriteString("WARC/1.0\r\n")
	fmt.Fprintf(&b, "WARC-Type: %s\r\n", r.Type)
	fmt.Fprintf(&b, "WARC-Date: %s\r\n", date.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "WARC-Record-ID: <urn:uuid:%08x-0000-0000-0000-000000000000>\r\n", len(r.Block))
	if r.TargetURI != "" {
		fmt.Fprintf(&b, "WARC-Target-URI: %s\r\n", r.TargetURI)
	}
	if r.Digest != "" {
		fmt.Fprintf(&b, "WARC-Payload-Digest: %s\r\n", r.Digest)
	}
	if r.ContentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", r.ContentType)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(r.Block))
	b.WriteString(r.Block)
	b.WriteString("\r\n\r\n")
	return b.Bytes()
}

// HTTPResponse returns an HTTP response message to be used as the block
// of a response record.
func HTTPResponse(statusLine string, headers []string, body string) string {
	var b strings.Builder
	b.WriteString(statusLine + "\r\n")
	for _, h := range headers {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

// WARCGzip compresses each record into its own gzip member and returns
// the resulting .warc.gz contents and the offset of each member.
func WARCGzip(records []WARCRecord) ([]byte, []int64, error) {
	var b bytes.Buffer
	offsets := make([]int64, 0, len(records))
	for _, r := range records {
		offsets = append(offsets, int64(b.Len()))
		zw := gzip.NewWriter(&b)
		if _, err := zw.Write(r.Bytes()); err != nil {
			return nil, nil, fmt.Errorf("failed to compress record: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, nil, fmt.Errorf("failed to close member: %w", err)
		}
	}
	return b.Bytes(), offsets, nil
}

// WriteWARCFile writes the records as a .warc.gz file and returns the
// offset of each member.
func WriteWARCFile(path string, records []WARCRecord) ([]int64, error) {
	contents, offsets, err := WARCGzip(records)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, contents, 0o666); err != nil {
		return nil, fmt.Errorf("failed to write %v: %w", path, err)
	}
	return offsets, nil
}

// ResponseRecord returns a typical response record for uri.
func ResponseRecord(uri string, status int, mime string) WARCRecord {
	return WARCRecord{
		Type:        "response",
		TargetURI:   uri,
		Digest:      "sha1:3I42H3S6NNFQ2MSVX7XZKYAYSCX5QBYJ",
		ContentType: "application/http; msgtype=response",
		Block: HTTPResponse(
			fmt.Sprintf("HTTP/1.1 %d OK", status),
			[]string{"Content-Type: " + mime, "Content-Length: 5"},
			"hello"),
	}
}
