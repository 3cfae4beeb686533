package cdx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/m-lab/warcindex/api"
)

// Output formats.
const (
	FormatCDXJ  = "cdxj"
	FormatCDX   = "cdx"
	FormatJSONL = "jsonl"
)

// Formats lists all supported output formats.
var Formats = []string{FormatCDXJ, FormatCDX, FormatJSONL}

// Formatter formats index entries as lines of an index file.
type Formatter interface {
	// Header returns the first line of the index file (without the
	// trailing newline) or "" if the format has no header.
	Header() string
	// Format returns the line (without the trailing newline) of the
	// given entry.
	Format(e *api.IndexEntry) (string, error)
}

// CDXJ formats entries as "<key> <timestamp> <json>".
type CDXJ struct{}

// CDX11 formats entries in the 11-field CDX format.
type CDX11 struct{}

// JSONL formats entries as BigQuery rows with standard columns.
type JSONL struct {
	Archiver api.ArchiverV1
}

// cdx11Header is preceded by a space so that sorting the index file does
// not move it.
const cdx11Header = " CDX N b a m s k r M S V g"

// cdx11Escaper percent-encodes whitespace inside a field so that every
// line has exactly 11 space-separated fields.
var cdx11Escaper = strings.NewReplacer(" ", "%20", "\t", "%09", "\r", "%0D", "\n", "%0A")

// NewFormatter returns the formatter of the given format.  archiver is
// only used by the JSONL format.
func NewFormatter(format string, archiver api.ArchiverV1) (Formatter, error) { //nolint:ireturn
	switch format {
	case FormatCDXJ:
		return CDXJ{}, nil
	case FormatCDX:
		return CDX11{}, nil
	case FormatJSONL:
		return &JSONL{Archiver: archiver}, nil
	}
	return nil, fmt.Errorf("%v: %w", format, ErrFormat)
}

// Header implements Formatter.
func (CDXJ) Header() string {
	return ""
}

// Format implements Formatter.
func (CDXJ) Format(e *api.IndexEntry) (string, error) {
	b, err := json.Marshal(e.Fields)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return e.SearchableKey + " " + e.Timestamp + " " + string(b), nil
}

// Header implements Formatter.
func (CDX11) Header() string {
	return cdx11Header
}

// Format implements Formatter.  The fields are, in order: searchable
// key (N), date (b), original URL (a), MIME type (m), response code (s),
// digest (k), redirect (r), meta tags (M, always "-"), compressed record
// size (S), compressed file offset (V), and file name (g).
func (CDX11) Format(e *api.IndexEntry) (string, error) {
	f := e.Fields
	fields := []string{
		e.SearchableKey,
		e.Timestamp,
		f.URL,
		f.MIME,
		strconv.Itoa(f.Status),
		f.Digest,
		f.Redirect,
		api.Unset,
		strconv.FormatInt(f.Length, 10),
		strconv.FormatInt(f.Offset, 10),
		f.FileName,
	}
	for i, field := range fields {
		if field == "" {
			return "", fmt.Errorf("%w: CDX field %d is empty", ErrEncode, i)
		}
		fields[i] = cdx11Escaper.Replace(field)
	}
	return strings.Join(fields, " "), nil
}

// Header implements Formatter.
func (*JSONL) Header() string {
	return ""
}

// Format implements Formatter.
func (j *JSONL) Format(e *api.IndexEntry) (string, error) {
	date := ""
	if len(e.Timestamp) >= 8 {
		date = e.Timestamp[0:4] + "-" + e.Timestamp[4:6] + "-" + e.Timestamp[6:8]
	}
	row := api.StandardColumnsV1{
		Date:          date,
		Archiver:      j.Archiver,
		SearchableKey: e.SearchableKey,
		Timestamp:     e.Timestamp,
		Raw:           e.Fields,
	}
	row.Archiver.Filename = e.Fields.FileName
	b, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return string(b), nil
}
