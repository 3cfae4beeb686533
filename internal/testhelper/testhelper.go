// Package testhelper implements code that helps in unit and integration
// testing.  The helpers in this package include verbose logging (with
// colored details), a local disk storage implementation that mimics
// downloads from and uploads to cloud storage (GCS), a directory watcher
// driven by the test, and writers of synthetic .warc.gz files.
package testhelper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/m-lab/warcindex/internal/gcs"
	"github.com/m-lab/warcindex/internal/schema"
	"github.com/m-lab/warcindex/internal/watchdir"
)

const (
	ANSIGreen  = "\033[00;32m"
	ANSIBlue   = "\033[00;34m"
	ANSIPurple = "\033[00;35m"
	ANSIEnd    = "\033[0m"
)

// VLogf logs messages in verbose mode (mostly for debugging).  Messages
// are prefixed by "filename:line-number function()" printed in green and
// the message printed in blue for easier visual inspection.
func VLogf(format string, args ...interface{}) {
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		log.Printf(format, args...)
		return
	}
	details := runtime.FuncForPC(pc)
	if details == nil {
		log.Printf(format, args...)
		return
	}
	file = filepath.Base(file)
	idx := strings.LastIndex(details.Name(), "/")
	if idx == -1 {
		idx = 0
	} else {
		idx++
	}
	a := []interface{}{ANSIGreen, file, line, details.Name()[idx:], ANSIBlue}
	a = append(a, args...)
	log.Printf("%s%s:%d: %s(): %s"+format+"%s", append(a, ANSIEnd)...)
}

// DiskRoot is the local directory that stands in for the bucket.
var DiskRoot = "testdata"

// diskStorageClient implements a local disk storage that mimics downloads
// from and uploads to GCS.
//
// To provide strict testing, each test client should set the bucket name to
// the operation(s) it expects that particular test to perform.  An empty
// bucket name means no GCS operation is expected.  To force a failure,
// the operation name should be prefixed by "fail".
type diskStorageClient struct {
	bucket string
}

// DiskNewClient creates and returns a disk storage client that will
// read from and write to DiskRoot on the local filesystem.
func DiskNewClient(ctx context.Context, bucket string) (gcs.GCSClient, error) { //nolint:ireturn
	if !strings.Contains(bucket, "newclient") {
		panic("unexpected call to NewClient()")
	}
	if bucket == "failnewclient" {
		return nil, schema.ErrStorageClient
	}
	return &diskStorageClient{bucket: bucket}, nil
}

// URL mimics the URL of a GCS object.
func (f *diskStorageClient) URL(objPath string) string {
	return "gs://disk-bucket/" + objPath
}

// Download mimics downloading from GCS.
func (f *diskStorageClient) Download(ctx context.Context, objPath string) ([]byte, error) {
	fmt.Printf("downloading from disk-bucket:%v\n", objPath) //nolint:forbidigo
	if !strings.Contains(f.bucket, "download") {
		panic("unexpected call to Download()")
	}
	if strings.Contains(f.bucket, "faildownload") {
		return nil, schema.ErrDownload
	}
	contents, err := os.ReadFile(filepath.Join(DiskRoot, objPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrObjectNotExist
		}
		return nil, err //nolint:wrapcheck
	}
	return contents, nil
}

// Upload mimics uploading to GCS.
func (f *diskStorageClient) Upload(ctx context.Context, objPath string, contents []byte) error {
	fmt.Printf("uploading %d bytes to disk-bucket:%s\n", len(contents), objPath) //nolint:forbidigo
	if !strings.Contains(f.bucket, "upload") {
		panic("unexpected call to Upload()")
	}
	if strings.Contains(f.bucket, "failupload") {
		return schema.ErrUpload
	}
	file := filepath.Join(DiskRoot, objPath)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		panic("Upload(): MkdirAll")
	}
	return os.WriteFile(file, contents, 0o666) //nolint:wrapcheck
}

// UploadFile mimics uploading a local file to GCS.
func (f *diskStorageClient) UploadFile(ctx context.Context, objPath, localPath string) error {
	contents, err := os.ReadFile(localPath)
	if err != nil {
		return err //nolint:wrapcheck
	}
	return f.Upload(ctx, objPath, contents)
}

// FakeWatchDir is a directory watcher whose events are sent by the
// test itself through WatchChan.
type FakeWatchDir struct {
	watchDir     string
	watchChan    chan watchdir.WatchEvent
	watchAckChan chan []string
}

// WatchDirNew returns a directory watcher that never watches anything.
func WatchDirNew(watchDir string) (*FakeWatchDir, error) {
	return &FakeWatchDir{
		watchDir:     watchDir,
		watchChan:    make(chan watchdir.WatchEvent, 100),
		watchAckChan: make(chan []string, 100),
	}, nil
}

func (w *FakeWatchDir) WatchChan() chan watchdir.WatchEvent {
	return w.watchChan
}

func (w *FakeWatchDir) WatchAckChan() chan<- []string {
	return w.watchAckChan
}

// AckChan returns the receiving end of the acknowledgement channel so
// tests can check what was acknowledged.
func (w *FakeWatchDir) AckChan() <-chan []string {
	return w.watchAckChan
}

func (w *FakeWatchDir) WatchAndNotify(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
