package indexwatch //nolint:testpackage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-lab/warcindex/internal/cdx"
	"github.com/m-lab/warcindex/internal/indexfile"
	"github.com/m-lab/warcindex/internal/schema"
	"github.com/m-lab/warcindex/internal/sink"
	"github.com/m-lab/warcindex/internal/testhelper"
	"github.com/m-lab/warcindex/internal/watchdir"
)

var testNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func TestVerbose(t *testing.T) { //nolint:paralleltest
	Verbose(func(fmt string, args ...interface{}) {})
}

func TestNew(t *testing.T) { //nolint:paralleltest
	saveGCSClient := GCSClient
	GCSClient = testhelper.DiskNewClient
	defer func() {
		GCSClient = saveGCSClient
	}()
	wdClient, err := testhelper.WatchDirNew("/some/path")
	if err != nil {
		t.Fatalf("testhelper.WatchDirNew() = %v, want nil", err)
	}
	indexConf := IndexConfig{
		Config:   indexfile.Config{Format: cdx.FormatCDXJ, Compression: sink.None},
		WatchDir: "/some/path",
	}
	noWatchDir := indexConf
	noWatchDir.WatchDir = ""
	tests := []struct {
		name      string
		wdClient  watchdir.WatchDirClient
		gcsConf   GCSConfig
		indexConf IndexConfig
		wantErr   error
	}{
		{"nil wdClient", nil, GCSConfig{}, indexConf, ErrConfig},
		{"empty watch dir", wdClient, GCSConfig{}, noWatchDir, ErrConfig},
		{"bucket without index dir", wdClient, GCSConfig{Bucket: "newclient"}, indexConf, ErrConfig},
		{"storage client failure", wdClient, GCSConfig{Bucket: "failnewclient", IndexDir: "index"}, indexConf, schema.ErrStorageClient},
		{"local only", wdClient, GCSConfig{}, indexConf, nil},
		{"with bucket", wdClient, GCSConfig{Bucket: "newclient", IndexDir: "index"}, indexConf, nil},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		_, err := New(context.Background(), test.wdClient, test.gcsConf, test.indexConf)
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("New() = %v, want %v", err, test.wantErr)
		}
	}
}

func TestArchiveDetails(t *testing.T) { //nolint:paralleltest
	dir := t.TempDir()
	write := func(name string, contents []byte) string {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("os.MkdirAll() = %v", err)
		}
		if err := os.WriteFile(path, contents, 0o666); err != nil {
			t.Fatalf("os.WriteFile() = %v", err)
		}
		return path
	}
	good := write("2024/01/02/a.warc.gz", []byte{0x1f, 0x8b})
	empty := write("empty.warc.gz", nil)
	bad := write("b$d.warc.gz", []byte{0x1f, 0x8b})
	hidden := write(".c.warc.gz", []byte{0x1f, 0x8b})
	indexed := write("d.warc.gz", []byte{0x1f, 0x8b})
	write("d.warc.gz.cdxj", []byte("x\n"))
	if err := os.Chtimes(indexed, testNow, testNow); err != nil {
		t.Fatalf("os.Chtimes() = %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "e.warc.gz"), 0o755); err != nil {
		t.Fatalf("os.Mkdir() = %v", err)
	}
	wdClient, _ := testhelper.WatchDirNew(dir)
	iw, err := New(context.Background(), wdClient, GCSConfig{}, IndexConfig{
		Config:   indexfile.Config{Format: cdx.FormatCDXJ, Compression: sink.None},
		WatchDir: dir,
	})
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	tests := []struct {
		path    string
		wantErr error
	}{
		{good, nil},
		{"/elsewhere/a.warc.gz", ErrNotInDataDir},
		{dir + "/", ErrNotInDataDir},
		{bad, ErrInvalidChars},
		{filepath.Join(dir, "x..warc.gz"), ErrDotDot},
		{hidden, ErrDotFile},
		{filepath.Join(dir, "e.warc.gz"), ErrNotRegular},
		{empty, ErrEmpty},
		{indexed, ErrIndexed},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.path, testhelper.ANSIEnd)
		_, err := iw.archiveDetails(test.path, test.path+".cdxj")
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("archiveDetails() = %v, want %v", err, test.wantErr)
		}
	}
}

func TestIndexAndUpload(t *testing.T) { //nolint:paralleltest,funlen
	if testing.Verbose() {
		Verbose(testhelper.VLogf)
		defer Verbose(func(fmt string, args ...interface{}) {})
	}
	saveGCSClient, saveDiskRoot, saveTimeNow := GCSClient, testhelper.DiskRoot, timeNow
	GCSClient = testhelper.DiskNewClient
	testhelper.DiskRoot = t.TempDir()
	timeNow = func() time.Time { return testNow }
	defer func() {
		GCSClient, testhelper.DiskRoot, timeNow = saveGCSClient, saveDiskRoot, saveTimeNow
	}()

	tests := []struct {
		name       string
		bucket     string
		noRm       bool
		wantLocal  bool
		wantObject bool
	}{
		{"local only", "", false, true, false},
		{"upload and remove", "newclient,upload", false, false, true},
		{"upload and keep", "newclient,upload", true, true, true},
		{"upload failure", "newclient,failupload", false, false, false},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d %s%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		dir := t.TempDir()
		archive := filepath.Join(dir, "crawl.warc.gz")
		if _, err := testhelper.WriteWARCFile(archive, []testhelper.WARCRecord{
			testhelper.ResponseRecord("http://example.com/", 200, "text/html"),
		}); err != nil {
			t.Fatalf("WriteWARCFile() = %v", err)
		}
		wdClient, _ := testhelper.WatchDirNew(dir)
		iw, err := New(context.Background(), wdClient, GCSConfig{Bucket: test.bucket, IndexDir: "index"}, IndexConfig{
			Config:   indexfile.Config{Format: cdx.FormatCDXJ, Compression: sink.None},
			WatchDir: dir,
			NoRm:     test.noRm,
		})
		if err != nil {
			t.Fatalf("New() = %v, want nil", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = iw.IndexAndUpload(ctx)
			close(done)
		}()
		wdClient.WatchChan() <- watchdir.WatchEvent{Path: archive, Missed: false}
		select {
		case acks := <-wdClient.AckChan():
			if len(acks) != 1 || acks[0] != archive {
				t.Fatalf("acks = %v, want [%v]", acks, archive)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for acknowledgement")
		}

		// A second notification for the same archive is ignored
		// unless the upload failed.
		wdClient.WatchChan() <- watchdir.WatchEvent{Path: archive, Missed: true}
		<-wdClient.AckChan()
		cancel()
		<-done
		iw.Wait()

		_, err = os.Stat(archive + ".cdxj")
		if gotLocal := err == nil; gotLocal != test.wantLocal {
			t.Fatalf("local index exists = %v, want %v", gotLocal, test.wantLocal)
		}
		_, err = os.Stat(filepath.Join(testhelper.DiskRoot, "index/2024/01/02/crawl.warc.gz.cdxj"))
		if gotObject := err == nil; gotObject != test.wantObject {
			t.Fatalf("index object exists = %v, want %v", gotObject, test.wantObject)
		}
		os.RemoveAll(filepath.Join(testhelper.DiskRoot, "index"))
	}
}
