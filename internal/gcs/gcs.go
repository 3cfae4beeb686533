// Package gcs handles downloading and uploading objects to Google Cloud
// Storage (GCS).  Finished index files and BigQuery table schemas are
// uploaded through this package.
//
// The clients in the following methods will use default application
// credentials ~/.config/gcloud/application_default_credentials.json.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
)

// GCSClient is what the rest of the program needs from a GCS client.
// It is an interface so tests can substitute a local disk implementation.
type GCSClient interface { //nolint:revive
	Download(ctx context.Context, objPath string) ([]byte, error)
	Upload(ctx context.Context, objPath string, contents []byte) error
	UploadFile(ctx context.Context, objPath, localPath string) error
	URL(objPath string) string
}

type StorageClient struct {
	bucket       string
	client       stiface.Client
	bucketHandle stiface.BucketHandle
}

var (
	downloadTimeout = 2 * time.Minute
	uploadTimeout   = time.Hour

	errCreateClient   = errors.New("failed to create GCS client")
	errDownloadObject = errors.New("failed to download GCS object")
	errUploadObject   = errors.New("failed to upload GCS object")
	errCloseObject    = errors.New("failed to close GCS object")
	errOpenFile       = errors.New("failed to open local file")

	// Testing and debugging support.
	storageNewClient = storage.NewClient
	verbose          = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// NewClient returns a new GCS client for the specified bucket.
// The return value is an interface to facilitate testing.
func NewClient(ctx context.Context, bucket string) (GCSClient, error) { //nolint:ireturn
	verbose("creating new storage client for %v", bucket)
	client, err := storageNewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCreateClient, err)
	}
	adaptClient := stiface.AdaptClient(client)
	return newStorageClient(bucket, adaptClient, adaptClient.Bucket(bucket)), nil
}

func newStorageClient(bucket string, client stiface.Client, bucketHandle stiface.BucketHandle) *StorageClient {
	return &StorageClient{
		bucket:       bucket,
		client:       client,
		bucketHandle: bucketHandle,
	}
}

// URL returns the gs:// URL of the given object in the client's bucket.
func (s *StorageClient) URL(objPath string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, objPath)
}

// Download downloads the specified object from GCS.
func (s *StorageClient) Download(ctx context.Context, objPath string) ([]byte, error) {
	verbose("downloading '%v:%v'", s.bucket, objPath)
	storageCtx, storageCancel := context.WithTimeout(ctx, downloadTimeout)
	defer storageCancel()
	obj := s.bucketHandle.Object(objPath)
	reader, err := obj.NewReader(storageCtx)
	if err != nil {
		return nil, fmt.Errorf("'%v:%v': %w", s.bucket, objPath, err)
	}
	defer reader.Close()
	contents, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDownloadObject, err)
	}
	verbose("'%v:%v' %v bytes", s.bucket, objPath, len(contents))
	return contents, nil
}

// Upload uploads the specified contents to GCS.
//
// Methods in the storage package may retry calls that fail with transient
// errors. Retrying continues indefinitely unless the controlling context is
// canceled, the client is closed, or a non-transient error is received.
func (s *StorageClient) Upload(ctx context.Context, objPath string, contents []byte) error {
	return s.upload(ctx, objPath, bytes.NewReader(contents))
}

// UploadFile uploads the contents of the specified local file to GCS
// without reading it all into memory.
func (s *StorageClient) UploadFile(ctx context.Context, objPath, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errOpenFile, err)
	}
	defer f.Close()
	return s.upload(ctx, objPath, f)
}

func (s *StorageClient) upload(ctx context.Context, objPath string, r io.Reader) error {
	verbose("uploading '%v:%v'", s.bucket, objPath)
	obj := s.bucketHandle.Object(objPath)
	storageCtx, storageCancel := context.WithTimeout(ctx, uploadTimeout)
	defer storageCancel()
	writer := obj.NewWriter(storageCtx)
	n, err := io.Copy(writer, r)
	if err != nil {
		return fmt.Errorf("%w: %v", errUploadObject, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("%w: %v", errCloseObject, err)
	}
	verbose("successfully uploaded '%v:%v' to GCS %v bytes", s.bucket, objPath, n)
	return nil
}
