package cdx

import (
	"strings"

	"github.com/m-lab/warcindex/api"
	"github.com/m-lab/warcindex/internal/gzmember"
	"github.com/m-lab/warcindex/internal/surt"
	"github.com/m-lab/warcindex/internal/warc"
)

const (
	// HTTPResponseType is the content type of response records that
	// hold an HTTP response.
	HTTPResponseType = "application/http; msgtype=response"
	responseRecord   = "response"
	timestampLayout  = "20060102150405"
	digestPrefix     = "sha1:"
)

// Indexable returns true if rec is a response record holding an HTTP
// response.  A response record without a Content-Type is indexable.
func Indexable(rec *warc.Record) bool {
	if rec.Type() != responseRecord {
		return false
	}
	if rec.Has(warc.FieldContentType) && rec.Get(warc.FieldContentType) != HTTPResponseType {
		return false
	}
	return true
}

// NewEntry builds the index entry of an indexable record stored in the
// given member of fileName.  It fails with surt.ErrInvalidAddress if the
// record's target URI cannot be canonicalized.
func NewEntry(rec *warc.Record, m gzmember.Member, fileName string) (*api.IndexEntry, error) {
	u, err := surt.Parse(rec.Get(warc.FieldTargetURI))
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	e := api.NewIndexEntry(fileName)
	e.SearchableKey = surt.Key(u)
	e.Timestamp = rec.Date.UTC().Format(timestampLayout)
	e.Fields.URL = u.String()
	e.Fields.Offset = m.Offset
	e.Fields.Length = m.Length
	if digest := strings.TrimPrefix(rec.Get(warc.FieldPayloadDigest), digestPrefix); digest != "" {
		e.Fields.Digest = digest
	}
	head := parseHTTPHead(rec.Block)
	e.Fields.Status = head.status
	if head.mime != "" {
		e.Fields.MIME = head.mime
	}
	if head.redirect != "" {
		e.Fields.Redirect = head.redirect
	}
	return e, nil
}
