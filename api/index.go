// Package api defines the data structures of index entries as they are
// written to CDX/CDXJ index files and loaded into BigQuery.
package api

// Unset is the value of string fields that could not be determined.
const Unset = "-"

// IndexEntry defines one line of an index file.  It describes one WARC
// response record and where its gzip member is in the .warc.gz file.
type IndexEntry struct {
	SearchableKey string     // sort key derived from the target URI
	Timestamp     string     // capture time in yyyymmddhhmmss format
	Fields        CDXJFields // JSON object of a CDXJ line
}

// CDXJFields defines the JSON object of a CDXJ line.  The order of the
// fields is the order in which they are written.
type CDXJFields struct {
	URL      string `json:"url"       bigquery:"url"`       // target URI
	Digest   string `json:"digest"    bigquery:"digest"`    // payload digest without algorithm prefix
	Redirect string `json:"redirect"  bigquery:"redirect"`  // value of the Location header
	MIME     string `json:"mime"      bigquery:"mime"`      // media type of the Content-Type header
	Offset   int64  `json:"offset"    bigquery:"offset"`    // offset of the gzip member
	Length   int64  `json:"length"    bigquery:"length"`    // compressed length of the gzip member
	Status   int    `json:"status"    bigquery:"status"`    // HTTP status code
	FileName string `json:"file_name" bigquery:"file_name"` // .warc.gz file the record is in
}

// NewIndexEntry returns an entry with all string fields unset and all
// numeric fields zero.
func NewIndexEntry(fileName string) *IndexEntry {
	return &IndexEntry{
		SearchableKey: "",
		Timestamp:     "",
		Fields: CDXJFields{
			URL:      Unset,
			Digest:   Unset,
			Redirect: Unset,
			MIME:     Unset,
			Offset:   0,
			Length:   0,
			Status:   0,
			FileName: fileName,
		},
	}
}
