package main

import (
	"bytes"
	"errors"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/m-lab/warcindex/internal/gzmember"
	"github.com/m-lab/warcindex/internal/testhelper"
)

func TestCLI(t *testing.T) { //nolint:funlen,paralleltest
	dir := t.TempDir()
	archive := filepath.Join(dir, "crawl.warc.gz")
	records := []testhelper.WARCRecord{
		{Type: "warcinfo", Block: "software: test\r\n"},
		testhelper.ResponseRecord("http://example.com/", 200, "text/html"),
	}
	offsets, err := testhelper.WriteWARCFile(archive, records)
	if err != nil {
		t.Fatalf("WriteWARCFile() = %v", err)
	}
	fi, err := os.Stat(archive)
	if err != nil {
		t.Fatalf("os.Stat() = %v", err)
	}
	off := strconv.FormatInt(offsets[1], 10)
	length := strconv.FormatInt(fi.Size()-offsets[1], 10)
	wantList := "0 " + strconv.FormatInt(offsets[1], 10) + "\n" + off + " " + length + "\n"

	tests := []struct {
		name       string
		wantErrStr string
		args       []string
		wantOut    []string // substrings of the output
	}{
		{"no file", errNoFile.Error(), []string{}, nil},
		{"no offset", errOffset.Error(), []string{"-file", archive}, nil},
		{"missing file", errOpenFile.Error(), []string{"-file", filepath.Join(dir, "x"), "-list"}, nil},
		{"bad member", "failed to decompress", []string{"-file", archive, "-offset", "1", "-length", "10"}, nil},
		{"bad match length", gzmember.ErrConfig.Error(), []string{"-file", archive, "-list", "-header-match-len", "11"}, nil},
		{"list", "", []string{"-file", archive, "-list"}, []string{wantList}},
		{
			"record", "", []string{"-file", archive, "-offset", off, "-length", length},
			[]string{"WARC/1.0\r\n", "Warc-Target-Uri: http://example.com/\r\n", "HTTP/1.1 200 OK", "hello"},
		},
		{
			"header only", "", []string{"-file", archive, "-offset", off, "-length", length, "-header-only"},
			[]string{"Warc-Type: response\r\n"},
		},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d: %v%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		var out bytes.Buffer
		stdout = &out
		callMain(t, test.args, test.wantErrStr)
		for _, want := range test.wantOut {
			if !strings.Contains(out.String(), want) {
				t.Fatalf("main() output = %q, want it to contain %q", out.String(), want)
			}
		}
		if test.name == "header only" && strings.Contains(out.String(), "hello") {
			t.Fatalf("main() output = %q, want no block", out.String())
		}
	}
	stdout = os.Stdout
}

// callMain calls main() with the given command line, expecting an error
// that includes wantErrStr (which could be "").
func callMain(t *testing.T, osArgs []string, wantErrStr string) {
	t.Helper()
	saveOSArgs, saveFatal := os.Args, fatal
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
	defer func() {
		var gotErr error
		switch x := recover().(type) {
		case nil:
		case string:
			gotErr = errors.New(x) //nolint:goerr113
		case error:
			gotErr = x
		}
		switch {
		case gotErr == nil && wantErrStr != "":
			t.Fatalf("main() = nil, wanted %v", wantErrStr)
		case gotErr != nil && wantErrStr == "":
			t.Fatalf("main() = %v, wanted \"\"", gotErr)
		case gotErr != nil && !strings.Contains(gotErr.Error(), wantErrStr):
			t.Fatalf("main() = %v, wanted %v", gotErr, wantErrStr)
		}
		os.Args, fatal = saveOSArgs, saveFatal
	}()
	os.Args = append([]string{"warcrecord-test"}, osArgs...)
	fatal = log.Panic
	main()
}
