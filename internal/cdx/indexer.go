// Package cdx builds CDX and CDXJ indexes of .warc.gz files.
//
// The index emitter walks the decoded WARC records and the gzip members
// of the same file in lockstep: the Nth record was decoded from the Nth
// member.  Records that are not HTTP responses are skipped.  A record
// that fails to decode, or whose target URI is not a valid address, is
// reported and skipped without affecting the pairing of later records.
package cdx

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/m-lab/warcindex/api"
	"github.com/m-lab/warcindex/internal/gzmember"
	"github.com/m-lab/warcindex/internal/surt"
	"github.com/m-lab/warcindex/internal/warc"
)

// RecordSource is a sequence of decoded WARC records.  Next returns
// io.EOF at the end and a *warc.DecodeError for a record that could not
// be decoded but whose member was consumed.
type RecordSource interface {
	Next() (*warc.Record, error)
}

// MemberSource is a sequence of gzip members.  Next returns io.EOF at
// the end.
type MemberSource interface {
	Next() (gzmember.Member, error)
}

// Summary counts what happened to the records of an index run.
type Summary struct {
	Records          int // records (members) read
	Indexed          int // lines written
	Skipped          int // records that are not HTTP responses
	DecodeErrors     int // records that failed to decode
	InvalidAddresses int // records whose target URI is not valid
	OffsetMismatches int // records decoded at a different offset than their member
	EncodeErrors     int // records whose entry the format cannot represent
}

var (
	ErrFormat         = errors.New("unknown index format")
	ErrEncode         = errors.New("failed to encode index entry")
	ErrWrite          = errors.New("failed to write index")
	ErrRecords        = errors.New("failed to read records")
	ErrMembers        = errors.New("failed to read members")
	ErrMemberMismatch = errors.New("records and gzip members do not pair up")

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warcindex_records_total",
			Help: "The number of WARC records processed, by outcome.",
		},
		[]string{"outcome"},
	)

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

func (s Summary) String() string {
	return fmt.Sprintf("%d records, %d indexed, %d skipped, %d decode errors, %d invalid addresses, %d encode errors",
		s.Records, s.Indexed, s.Skipped, s.DecodeErrors, s.InvalidAddresses, s.EncodeErrors)
}

// Index writes one line to w for every indexable record of the WARC file
// fileName, using the positionally paired member for the entry's offset
// and length.  The formatter's header, if any, is written first.
//
// An entry that the formatter cannot encode is reported and skipped like
// an undecodable record.  Index fails if records and members run out at
// different times, if either source fails, or if a line cannot be
// written.  The output written so far should not be trusted in that case.
func Index(w io.Writer, records RecordSource, members MemberSource, f Formatter, fileName string) (Summary, error) {
	var summary Summary
	if header := f.Header(); header != "" {
		if _, err := io.WriteString(w, header+"\n"); err != nil {
			return summary, fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}
	for {
		rec, recErr := records.Next()
		if recErr != nil && !errors.Is(recErr, io.EOF) && !errors.Is(recErr, warc.ErrDecode) {
			return summary, fmt.Errorf("%w: %w", ErrRecords, recErr)
		}
		m, memberErr := members.Next()
		if memberErr != nil && !errors.Is(memberErr, io.EOF) {
			return summary, fmt.Errorf("%w: %w", ErrMembers, memberErr)
		}
		recEOF, memberEOF := errors.Is(recErr, io.EOF), errors.Is(memberErr, io.EOF)
		if recEOF && memberEOF {
			break
		}
		if recEOF || memberEOF {
			return summary, fmt.Errorf("%w: %d records, member EOF %v, record EOF %v",
				ErrMemberMismatch, summary.Records, memberEOF, recEOF)
		}
		summary.Records++

		if recErr != nil {
			log.Printf("ERROR: %v: %v\n", fileName, recErr)
			summary.DecodeErrors++
			recordsTotal.WithLabelValues("decode_error").Inc()
			continue
		}
		if rec.Offset != m.Offset {
			// Only meaningful when both sources started at the same
			// position; pairing remains positional regardless.
			verbose("record %d decoded at offset %d but paired with member at %d", summary.Records-1, rec.Offset, m.Offset)
			summary.OffsetMismatches++
		}
		if !Indexable(rec) {
			summary.Skipped++
			recordsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		e, err := NewEntry(rec, m, fileName)
		if err != nil {
			if !errors.Is(err, surt.ErrInvalidAddress) {
				return summary, err
			}
			log.Printf("WARNING: %v: skipping record at offset %d: %v\n", fileName, m.Offset, err)
			summary.InvalidAddresses++
			recordsTotal.WithLabelValues("invalid_address").Inc()
			continue
		}
		if err := writeEntry(w, f, e); err != nil {
			if !errors.Is(err, ErrEncode) {
				return summary, err
			}
			log.Printf("WARNING: %v: skipping record at offset %d: %v\n", fileName, m.Offset, err)
			summary.EncodeErrors++
			recordsTotal.WithLabelValues("encode_error").Inc()
			continue
		}
		summary.Indexed++
		recordsTotal.WithLabelValues("indexed").Inc()
	}
	verbose("%v: %v", fileName, summary)
	return summary, nil
}

func writeEntry(w io.Writer, f Formatter, e *api.IndexEntry) error {
	line, err := f.Format(e)
	if err != nil {
		return err //nolint:wrapcheck
	}
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}
