// This tool is a part of e2e helper programs and creates synthetic
// .warc.gz archives in a directory, one every -sleep interval, to be
// picked up by warcindex in watch mode.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/m-lab/warcindex/internal/testhelper"
)

var (
	dir      = flag.String("dir", "../e2e/local/var/spool/warc", "directory in which archives are created")
	nFiles   = flag.Int("files", 0, "number of archives to create (0 means forever)")
	nRecords = flag.Int("records", 10, "maximum number of response records per archive")
	sleep    = flag.Duration("sleep", 100*time.Millisecond, "sleep time between archive creations")
	verbose  = flag.Bool("verbose", false, "enable verbose mode")

	statuses = []int{200, 200, 200, 301, 302, 404}
	mimes    = []string{"text/html", "text/plain", "image/png", "application/json"}
)

func main() {
	flag.Parse()
	if *dir == "" {
		*dir = os.Getenv("DIR")
	}
	if *dir == "" {
		fmt.Println("must specify a directory") //nolint
		os.Exit(1)
	}
	if err := os.MkdirAll(*dir, 0o755); err != nil {
		panic(err)
	}
	rand.Seed(int64(os.Getpid()))
	for n := 0; *nFiles == 0 || n < *nFiles; n++ {
		createArchive(n)
		time.Sleep(*sleep)
		fmt.Printf("%v\r", n) //nolint
	}
}

// createArchive writes the archive to a dot-file first and renames it so
// that the watcher never sees a partial archive.
func createArchive(n int) {
	records := []testhelper.WARCRecord{
		{Type: "warcinfo", ContentType: "application/warc-fields", Block: "software: gen_warc\r\n"},
	}
	for i := 0; i < 1+rand.Intn(*nRecords); i++ { //nolint
		uri := fmt.Sprintf("http://www.example%d.com/path/%d?b=2&a=1", rand.Intn(5), i) //nolint
		records = append(records,
			testhelper.WARCRecord{Type: "request", TargetURI: uri, Block: "GET / HTTP/1.1\r\n\r\n"},
			testhelper.ResponseRecord(uri, statuses[rand.Intn(len(statuses))], mimes[rand.Intn(len(mimes))]), //nolint
		)
	}
	now := time.Now().UTC().Format("20060102150405.000000")
	name := fmt.Sprintf("gen-%s-%05d.warc.gz", now, n)
	tmp := filepath.Join(*dir, "."+name)
	if *verbose {
		fmt.Printf("creating %v with %d records\n", name, len(records)) //nolint
	}
	if _, err := testhelper.WriteWARCFile(tmp, records); err != nil {
		panic(err)
	}
	if err := os.Rename(tmp, filepath.Join(*dir, name)); err != nil {
		panic(err)
	}
}
