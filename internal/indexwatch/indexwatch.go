// Package indexwatch indexes .warc.gz archives as a directory watcher
// notices them and uploads the index files to Google Cloud Storage (GCS).
//
// The archives should:
//
//  1. Be in (a subdirectory of) the watched directory configured via
//     IndexConfig.WatchDir.
//  2. Have pathnames that conform to regexp `[^a-zA-Z0-9/:._-]` and
//     not start with dot ('.') or have consecutive dots.
//  3. Be non-empty regular files.
//
// Archives that were indexed since they were last modified, either by
// this instance or by an earlier one that left the index file behind,
// are not indexed again.  Index files are written next to their archives and,
// if a bucket is configured, uploaded as described in package indexfile.
package indexwatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/m-lab/warcindex/internal/gcs"
	"github.com/m-lab/warcindex/internal/indexfile"
	"github.com/m-lab/warcindex/internal/watchdir"
)

// IndexWatch defines configuration options and other fields that are
// common to all archives indexed from a watched directory.
type IndexWatch struct {
	wdClient  watchdir.WatchDirClient // directory watcher that notifies us
	gcsConf   GCSConfig               // GCS configuration
	indexConf IndexConfig             // index configuration
	uploads   sync.WaitGroup          // uploads in progress

	indexed     map[string]time.Time // modification time of archives when they were indexed
	indexedLock sync.Mutex           // lock for indexed
}

// GCSConfig defines GCS configuration options.  An empty bucket means
// index files are only written locally.
type GCSConfig struct {
	Bucket    string
	IndexDir  string
	gcsClient gcs.GCSClient
}

// IndexConfig defines index configuration options.
type IndexConfig struct {
	indexfile.Config
	WatchDir string // directory being watched
	NoRm     bool   // do not remove index files after successful upload
}

var (
	ErrConfig       = errors.New("invalid configuration")
	ErrNotInDataDir = errors.New("is not in watched directory")
	ErrTooShort     = errors.New("is too short")
	ErrInvalidChars = errors.New("has invalid characters")
	ErrDotDot       = errors.New("includes '..'")
	ErrDotFile      = errors.New("starts with '.'")
	ErrNotRegular   = errors.New("is not a regular file")
	ErrEmpty        = errors.New("is empty")
	ErrIndexed      = errors.New("is already indexed")

	pathName = regexp.MustCompile(`[^a-zA-Z0-9/:._-]`)

	archivesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warcindex_archives_total",
			Help: "The number of archives processed in watch mode, by outcome.",
		},
		[]string{"outcome"},
	)

	// Testing and debugging support.
	GCSClient = gcs.NewClient
	timeNow   = time.Now
	verbose   = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// New returns a new IndexWatch instance.
func New(ctx context.Context, wdClient watchdir.WatchDirClient, gcsConf GCSConfig, indexConf IndexConfig) (*IndexWatch, error) {
	if wdClient == nil {
		return nil, fmt.Errorf("%w: nil watchdir client", ErrConfig)
	}
	if indexConf.WatchDir == "" || indexConf.Format == "" {
		return nil, fmt.Errorf("%w: empty string in parameters", ErrConfig)
	}
	if gcsConf.Bucket != "" && gcsConf.IndexDir == "" {
		return nil, fmt.Errorf("%w: bucket without index directory", ErrConfig)
	}
	iw := &IndexWatch{
		wdClient:  wdClient,
		gcsConf:   gcsConf,
		indexConf: indexConf,
		uploads:   sync.WaitGroup{},
		indexed:   make(map[string]time.Time),
	}
	if gcsConf.Bucket != "" {
		gcsClient, err := GCSClient(ctx, gcsConf.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		iw.gcsConf.gcsClient = gcsClient
	}
	iw.indexConf.WatchDir = filepath.Clean(iw.indexConf.WatchDir)
	return iw, nil
}

// IndexAndUpload continuously reads pathnames of new or potentially
// missed archives from the watch channel and indexes them until its
// context is canceled or the channel is closed.
func (iw *IndexWatch) IndexAndUpload(ctx context.Context) error {
	verbose("indexing and uploading archives in %v", iw.indexConf.WatchDir)
	for {
		select {
		case <-ctx.Done():
			verbose("'index and upload' context canceled for %v", iw.indexConf.WatchDir)
			return nil
		case watchEvent, chOpen := <-iw.wdClient.WatchChan():
			if !chOpen {
				verbose("watch channel closed")
				return nil
			}
			iw.indexArchive(ctx, watchEvent)
		}
	}
}

// Wait waits for all uploads in progress to finish.  This is primarily
// meant to provide a graceful shutdown.
func (iw *IndexWatch) Wait() {
	verbose("waiting for uploads of index files to finish")
	iw.uploads.Wait()
}

// indexArchive creates the index file of the given archive if it's a
// valid archive that has not been indexed before.
func (iw *IndexWatch) indexArchive(ctx context.Context, we watchdir.WatchEvent) {
	fullPath := we.Path
	if we.Missed {
		verbose("%v was missed", fullPath)
	}
	conf := iw.indexConf.Config
	f, err := indexfile.New(fullPath, iw.gcsConf.IndexDir, conf, timeNow())
	if err != nil {
		log.Printf("ERROR: %v: %v\n", fullPath, err)
		iw.ack(fullPath, "error")
		return
	}
	modTime, err := iw.archiveDetails(fullPath, f.LocalPath)
	if err != nil {
		verbose("WARNING: ignoring %v: %v", fullPath, err)
		iw.ack(fullPath, "ignored")
		return
	}
	if iw.gcsConf.gcsClient != nil {
		conf.Archiver.ArchiveURL = iw.gcsConf.gcsClient.URL(f.ObjPath())
	}
	if err := f.Create(conf); err != nil {
		log.Printf("ERROR: failed to index %v: %v\n", fullPath, err)
		iw.ack(fullPath, "error")
		return
	}
	log.Printf("indexed %v: %v\n", fullPath, f.Summary)
	iw.setIndexed(fullPath, modTime, true)
	if iw.gcsConf.gcsClient == nil {
		iw.ack(fullPath, "indexed")
		return
	}
	iw.uploads.Add(1)
	go iw.uploadInBackground(ctx, f)
}

// uploadInBackground uploads the given index file to GCS and, if
// successful, removes it from the local filesystem.
func (iw *IndexWatch) uploadInBackground(ctx context.Context, f *indexfile.IndexFile) {
	defer iw.uploads.Done()
	if err := iw.gcsConf.gcsClient.UploadFile(ctx, f.ObjPath(), f.LocalPath); err != nil {
		log.Printf("ERROR: failed to upload %v: %v\n", f.Description(), err)
		// Index it again next time the archive is noticed.
		if !iw.indexConf.NoRm {
			f.RemoveLocalFile()
		}
		iw.setIndexed(f.Archive, time.Time{}, false)
		iw.ack(f.Archive, "upload_error")
		return
	}
	if iw.indexConf.NoRm {
		verbose("not removing %v", f.Description())
	} else {
		f.RemoveLocalFile()
	}
	iw.ack(f.Archive, "uploaded")
}

func (iw *IndexWatch) setIndexed(fullPath string, modTime time.Time, indexed bool) {
	iw.indexedLock.Lock()
	defer iw.indexedLock.Unlock()
	if indexed {
		iw.indexed[fullPath] = modTime
	} else {
		delete(iw.indexed, fullPath)
	}
}

func (iw *IndexWatch) isIndexed(fullPath string, modTime time.Time) bool {
	iw.indexedLock.Lock()
	defer iw.indexedLock.Unlock()
	t, ok := iw.indexed[fullPath]
	return ok && t.Equal(modTime)
}

// ack tells the directory watcher we're done with the given archive.
func (iw *IndexWatch) ack(fullPath, outcome string) {
	archivesTotal.WithLabelValues(outcome).Inc()
	iw.wdClient.WatchAckChan() <- []string{fullPath}
}

// archiveDetails verifies that fullPath is in the watched directory, has
// a reasonable name, and is a non-empty regular file that has not been
// indexed since it was last modified.  If all is OK, it returns the
// archive's modification time.
func (iw *IndexWatch) archiveDetails(fullPath, indexPath string) (time.Time, error) {
	var zero time.Time
	cleanFilePath := filepath.Clean(fullPath)
	watchDir := iw.indexConf.WatchDir
	if !strings.HasPrefix(cleanFilePath, watchDir+"/") {
		return zero, fmt.Errorf("%v: %w", cleanFilePath, ErrNotInDataDir)
	}
	if len(cleanFilePath) <= len(watchDir)+1 {
		return zero, fmt.Errorf("%v: %w", cleanFilePath, ErrTooShort)
	}
	if pathName.MatchString(cleanFilePath) {
		return zero, fmt.Errorf("%v: %w", cleanFilePath, ErrInvalidChars)
	}
	if strings.Contains(cleanFilePath, "..") {
		return zero, fmt.Errorf("%v: %w", cleanFilePath, ErrDotDot)
	}
	filename := filepath.Base(cleanFilePath)
	if strings.HasPrefix(filename, ".") {
		return zero, fmt.Errorf("%v: %w", filename, ErrDotFile)
	}
	fi, err := os.Stat(fullPath)
	if err != nil {
		return zero, fmt.Errorf("failed to stat: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return zero, fmt.Errorf("%v: %w", filename, ErrNotRegular)
	}
	if fi.Size() == 0 {
		return zero, fmt.Errorf("%v: %w", filename, ErrEmpty)
	}
	if iw.isIndexed(fullPath, fi.ModTime()) {
		return zero, fmt.Errorf("%v: %w", filename, ErrIndexed)
	}
	if idx, err := os.Stat(indexPath); err == nil && !idx.ModTime().Before(fi.ModTime()) {
		return zero, fmt.Errorf("%v: %w", filename, ErrIndexed)
	}
	return fi.ModTime(), nil
}
