// Package indexfile creates the index file of a single .warc.gz archive
// and knows where the index file goes, both on the local filesystem and
// in GCS.
//
// Index files are written next to their archive as
//
//	<archive>.<format>[<compression extension>]
//
// and uploaded to GCS as
//
//	<GCSIndexDir>/<yyyy>/<mm>/<dd>/<archive base name>.<format>[<compression extension>]
package indexfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/m-lab/warcindex/api"
	"github.com/m-lab/warcindex/internal/cdx"
	"github.com/m-lab/warcindex/internal/gzmember"
	"github.com/m-lab/warcindex/internal/sink"
	"github.com/m-lab/warcindex/internal/warc"
)

// Config defines how index files are created.
type Config struct {
	Format      string          // cdx.FormatCDXJ, cdx.FormatCDX, or cdx.FormatJSONL
	Compression string          // one of sink.Compressions
	Scanner     gzmember.Config // gzip member scanner configuration
	Archiver    api.ArchiverV1  // archiver details of JSONL rows
}

// IndexFile defines the index file of one archive.
type IndexFile struct {
	Archive   string      // pathname of the .warc.gz archive
	LocalPath string      // pathname of the index file on local disk
	ObjDir    string      // GCS directory to upload the index file to
	ObjName   string      // GCS object name of the index file
	Timestamp string      // creation time that serves as its identifier
	Summary   cdx.Summary // what happened to the records of the archive
	Size      int64       // size of the index file
}

var (
	ErrOpen   = errors.New("failed to open archive")
	ErrCreate = errors.New("failed to create index file")

	// Testing and debugging support.
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// New returns a new instance of IndexFile for the given archive.  now
// is used for the date subdirectories of its GCS object.
func New(archive, gcsIndexDir string, conf Config, now time.Time) (*IndexFile, error) {
	ext, err := sink.Extension(conf.Compression)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	suffix := "." + conf.Format + ext
	nowUTC := now.UTC()
	return &IndexFile{
		Archive:   archive,
		LocalPath: archive + suffix,
		ObjDir:    dirName(gcsIndexDir, nowUTC),
		ObjName:   filepath.Base(archive) + suffix,
		Timestamp: nowUTC.Format("2006/01/02T150405.000000Z"),
		Summary:   cdx.Summary{},
		Size:      0,
	}, nil
}

// Description returns a string describing the index file for log
// messages.
func (f *IndexFile) Description() string {
	return fmt.Sprintf("index <%v %v>", f.Timestamp, f.LocalPath)
}

// ObjPath returns the full GCS object name of the index file.
func (f *IndexFile) ObjPath() string {
	return path.Join(f.ObjDir, f.ObjName)
}

// Create indexes the archive and writes the index file to its local
// path.  The index is written to a temporary file first and renamed
// when complete, so a partial index file is never left behind.
func (f *IndexFile) Create(conf Config) error {
	tmpPath := filepath.Join(filepath.Dir(f.LocalPath), "."+filepath.Base(f.LocalPath)+".tmp")
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreate, err)
	}
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("WARNING: failed to remove %v: %v\n", tmpPath, err)
		}
	}()
	summary, err := Write(out, f.Archive, conf)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: %v", ErrCreate, closeErr)
	}
	f.Summary = summary
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, f.LocalPath); err != nil {
		return fmt.Errorf("%w: %v", ErrCreate, err)
	}
	fi, err := os.Stat(f.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreate, err)
	}
	f.Size = fi.Size()
	verbose("created %v: %v bytes, %v", f.Description(), f.Size, f.Summary)
	return nil
}

// RemoveLocalFile removes the index file from the local filesystem.
func (f *IndexFile) RemoveLocalFile() {
	verbose("removing %v", f.LocalPath)
	if err := os.Remove(f.LocalPath); err != nil {
		log.Printf("ERROR: failed to remove: %v\n", err)
	}
}

// Write indexes the given archive and writes the index, compressed as
// configured, to w.  The archive is read twice: once to find the
// boundaries of its gzip members and once to decode its records.
func Write(w io.Writer, archive string, conf Config) (cdx.Summary, error) {
	formatter, err := cdx.NewFormatter(conf.Format, conf.Archiver)
	if err != nil {
		return cdx.Summary{}, err //nolint:wrapcheck
	}
	scanFile, err := os.Open(archive)
	if err != nil {
		return cdx.Summary{}, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	defer scanFile.Close()
	scanner, err := gzmember.NewScanner(scanFile, conf.Scanner)
	if err != nil {
		return cdx.Summary{}, fmt.Errorf("%v: %w", archive, err)
	}
	recordFile, err := os.Open(archive)
	if err != nil {
		return cdx.Summary{}, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	defer recordFile.Close()

	bw := bufio.NewWriter(w)
	sw, err := sink.NewWriter(bw, conf.Compression)
	if err != nil {
		return cdx.Summary{}, err //nolint:wrapcheck
	}
	verbose("indexing %v as %v", archive, conf.Format)
	summary, err := cdx.Index(sw, warc.NewReader(recordFile), gzmember.NewMembers(scanner), formatter, archive)
	if err != nil {
		return summary, fmt.Errorf("%v: %w", archive, err)
	}
	if err := sw.Close(); err != nil {
		return summary, fmt.Errorf("%w: %v", cdx.ErrWrite, err)
	}
	if err := bw.Flush(); err != nil {
		return summary, fmt.Errorf("%w: %v", cdx.ErrWrite, err)
	}
	return summary, nil
}

// dirName returns the GCS directory of index files created at t.
func dirName(indexDir string, t time.Time) string {
	return path.Join(indexDir, t.Format("2006/01/02"))
}
