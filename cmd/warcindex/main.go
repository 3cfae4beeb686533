// Package main implements warcindex.
//
// warcindex builds CDX or CDXJ indexes of .warc.gz archives.  It supports
// three modes of operation:
//   - A short-lived mode that indexes the archives given with -input.
//   - A long-lived mode, enabled by -watch-dir, that indexes archives as
//     they appear in a directory.
//   - A short-lived mode, enabled by -schema, that creates the BigQuery
//     table schema of jsonl index files.
//
// In the first two modes, index files are uploaded to GCS if a bucket
// is specified.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-lab/go/prometheusx"
	"github.com/rjeczalik/notify"

	"github.com/m-lab/warcindex/api"
	"github.com/m-lab/warcindex/internal/gcs"
	"github.com/m-lab/warcindex/internal/indexfile"
	"github.com/m-lab/warcindex/internal/indexwatch"
	"github.com/m-lab/warcindex/internal/schema"
	"github.com/m-lab/warcindex/internal/watchdir"
)

var (
	// Set at build time with -ldflags "-X main.version=... -X main.gitCommit=...".
	version   = "v0.0.0"
	gitCommit = "unknown"

	errIndex = errors.New("failed to index")

	// Testing and debugging support.
	fatal            = log.Fatal
	gcsClient        = gcs.NewClient
	watchDirNew      = newWatchDir
	mustServeMetrics = prometheusx.MustServeMetrics
)

func main() {
	log.SetFlags(log.Ltime)
	if err := parseAndValidateCLI(); err != nil {
		fatal(err)
	}

	var err error
	switch {
	case createSchema:
		err = createTableSchema()
	case watchDir != "":
		err = watchAndIndex()
	default:
		err = indexInputs()
	}
	if err != nil {
		fatal(err)
	}
}

// archiver returns the archiver details of jsonl rows.
func archiver() api.ArchiverV1 {
	return api.ArchiverV1{
		Version:    "warcindex@" + version,
		GitCommit:  gitCommit,
		ArchiveURL: "",
		Filename:   "",
	}
}

// createTableSchema writes the table schema of jsonl index files to the
// schema file and, if a bucket was specified, uploads it to GCS if it's
// compatible with the one already there.
func createTableSchema() error {
	if err := schema.WriteTableSchema(schemaFile); err != nil {
		return err //nolint:wrapcheck
	}
	log.Printf("created table schema %v\n", schemaFile)
	if bucket == "" {
		return nil
	}
	client, err := gcsClient(context.Background(), bucket)
	if err != nil {
		return fmt.Errorf("%w: %v", schema.ErrStorageClient, err)
	}
	objPath := schema.TablePath(gcsIndexDir)
	if err := schema.ValidateAndUpload(client, objPath); err != nil {
		return fmt.Errorf("%v: %w", client.URL(objPath), err)
	}
	return nil
}

// indexInputs indexes each input archive.  A failure to index one
// archive does not prevent indexing the others.
func indexInputs() error {
	ctx := context.Background()
	var client gcs.GCSClient
	if bucket != "" {
		var err error
		if client, err = gcsClient(ctx, bucket); err != nil {
			return fmt.Errorf("%w: %v", schema.ErrStorageClient, err)
		}
	}
	var errs []error
	for _, input := range inputs {
		if err := indexInput(ctx, client, input); err != nil {
			log.Printf("ERROR: %v\n", err)
			errs = append(errs, err)
		}
	}
	if len(errs) != 0 {
		return fmt.Errorf("%w %d of %d archives: %w", errIndex, len(errs), len(inputs), errors.Join(errs...))
	}
	return nil
}

// indexInput indexes the given archive and, if client is not nil,
// uploads its index file.
func indexInput(ctx context.Context, client gcs.GCSClient, input string) error {
	conf := indexConfig()
	if output == "-" {
		summary, err := indexfile.Write(os.Stdout, input, conf)
		if err != nil {
			return err //nolint:wrapcheck
		}
		vLogf("%v: %v", input, summary)
		return nil
	}
	f, err := indexfile.New(input, gcsIndexDir, conf, time.Now())
	if err != nil {
		return err //nolint:wrapcheck
	}
	if output != "" {
		f.LocalPath = output
	}
	if client != nil {
		conf.Archiver.ArchiveURL = client.URL(f.ObjPath())
	}
	if err := f.Create(conf); err != nil {
		return err //nolint:wrapcheck
	}
	log.Printf("%v: %v\n", f.LocalPath, f.Summary)
	if client == nil {
		return nil
	}
	if err := client.UploadFile(ctx, f.ObjPath(), f.LocalPath); err != nil {
		return fmt.Errorf("failed to upload %v: %w", f.Description(), err)
	}
	log.Printf("uploaded %v\n", client.URL(f.ObjPath()))
	return nil
}

// watchAndIndex indexes archives as they appear in the watch directory
// until the program is stopped (or the test interval expires).
func watchAndIndex() error {
	srv := mustServeMetrics()
	defer srv.Close()

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	if testInterval != 0 {
		mainCtx, mainCancel = context.WithTimeout(mainCtx, testInterval)
		defer mainCancel()
	}
	wdClient, err := watchDirNew(filepath.Clean(watchDir))
	if err != nil {
		return fmt.Errorf("failed to instantiate watcher: %w", err)
	}
	gcsConf := indexwatch.GCSConfig{
		Bucket:   bucket,
		IndexDir: gcsIndexDir,
	}
	indexConf := indexwatch.IndexConfig{
		Config:   indexConfig(),
		WatchDir: watchDir,
		NoRm:     noRm,
	}
	indexwatch.GCSClient = gcsClient
	iwClient, err := indexwatch.New(mainCtx, wdClient, gcsConf, indexConf)
	if err != nil {
		return fmt.Errorf("failed to instantiate indexer: %w", err)
	}

	// If there's an unrecoverable error that causes channels to close
	// or if the main context is canceled, both goroutines terminate
	// and the following Wait() returns.
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer mainCancel()
		if err := wdClient.WatchAndNotify(mainCtx); err != nil {
			log.Printf("ERROR: %v\n", err)
		}
	}()
	go func() {
		defer wg.Done()
		defer mainCancel()
		// IndexAndUpload() runs forever unless the context is
		// canceled or the watch channel is closed.
		_ = iwClient.IndexAndUpload(mainCtx)
	}()
	wg.Wait()
	iwClient.Wait()
	return nil
}

// newWatchDir returns a directory watcher for the watch directory.
func newWatchDir(dir string) (watchdir.WatchDirClient, error) { //nolint:ireturn
	watchEvents := []notify.Event{notify.InCloseWrite, notify.InMovedTo}
	wd, err := watchdir.New(dir, watchExts, watchEvents, missedAge, missedInterval)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return wd, nil
}

// vLogf logs the given message if verbose mode is enabled.
func vLogf(format string, args ...interface{}) {
	if verbose {
		log.Printf(format, args...)
	}
}
