package api

// StandardColumnsV1 defines version 1 of the columns of each row when
// index entries are loaded into BigQuery as JSONL.
type StandardColumnsV1 struct {
	Date          string     `json:"date"           bigquery:"date"`           // yyyy-mm-dd capture date
	Archiver      ArchiverV1 `json:"archiver"       bigquery:"archiver"`       // archiver details
	SearchableKey string     `json:"searchable_key" bigquery:"searchable_key"` // sort key of the entry
	Timestamp     string     `json:"timestamp"      bigquery:"timestamp"`      // capture time in yyyymmddhhmmss format
	Raw           CDXJFields `json:"raw"            bigquery:"raw"`            // the CDXJ fields of the entry
}

// ArchiverV1 defines version 1 of archiver details that includes:
// 1- The exact version of the running instance of the program.
// 2- Where the index is archived and which WARC file it describes.
type ArchiverV1 struct {
	Version    string `json:"Version"    bigquery:"Version"`    // running version of this program
	GitCommit  string `json:"GitCommit"  bigquery:"GitCommit"`  // git commit sha1 of this program
	ArchiveURL string `json:"ArchiveURL" bigquery:"ArchiveURL"` // GCS object name of the index
	Filename   string `json:"Filename"   bigquery:"Filename"`   // pathname of the indexed WARC file
}
