// This tool is a part of e2e helper programs and verifies that for every
// CDXJ index file:
//
//  1. The archive named by each line exists.
//  2. The offset and length of each line decompress to a single WARC
//     response record whose target URI is the line's URL.
//  3. Lines are in the order of their offsets.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-lab/warcindex/api"
	"github.com/m-lab/warcindex/internal/sink"
	"github.com/m-lab/warcindex/internal/warc"
)

var verbose = flag.Bool("verbose", false, "enable verbose mode")

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		walkDir(".")
	} else {
		for _, arg := range flag.Args() {
			walkDir(arg)
		}
	}
}

func walkDir(dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Panicf("failed to access path: %v", err)
		}
		if d.IsDir() {
			return nil
		}
		c := sink.FromExtension(path)
		ext, _ := sink.Extension(c)
		if strings.HasSuffix(strings.TrimSuffix(path, ext), ".cdxj") {
			checkIndex(path, c)
		}
		return nil
	})
	if err != nil {
		log.Panicf("failed to walk directory %v: %v", dir, err)
	}
}

func checkIndex(index, compression string) {
	if *verbose {
		fmt.Printf("\nchecking index %v\n", index) //nolint:forbidigo
	}
	fi, err := os.Open(index)
	if err != nil {
		log.Panicf("failed to open %v: %v", index, err)
	}
	defer fi.Close()
	r, err := sink.NewReader(fi, compression)
	if err != nil {
		log.Panicf("failed to instantiate reader %v: %v", index, err)
	}

	archives := map[string]*os.File{}
	defer func() {
		for _, f := range archives {
			f.Close()
		}
	}()
	lastOffset := int64(-1)
	s := bufio.NewScanner(r)
	s.Split(bufio.ScanLines)
	for i := 0; s.Scan(); i++ {
		parts := strings.SplitN(s.Text(), " ", 3)
		if len(parts) != 3 {
			log.Panicf("%v line %d: not a CDXJ line", index, i)
		}
		var fields api.CDXJFields
		if err := json.Unmarshal([]byte(parts[2]), &fields); err != nil {
			log.Panicf("%v line %d: failed to unmarshal: %v", index, i, err)
		}
		archive, ok := archives[fields.FileName]
		if !ok {
			if archive, err = os.Open(fields.FileName); err != nil {
				log.Panicf("%v line %d: %v", index, i, err)
			}
			archives[fields.FileName] = archive
			lastOffset = -1
		}
		if fields.Offset <= lastOffset {
			log.Panicf("%v line %d: offset %d after %d", index, i, fields.Offset, lastOffset)
		}
		lastOffset = fields.Offset
		rec, err := warc.ReadAt(archive, fields.Offset, fields.Length)
		if err != nil {
			log.Panicf("%v line %d: %v", index, i, err)
		}
		if rec.Type() != "response" || rec.Get(warc.FieldTargetURI) != fields.URL {
			log.Panicf("%v line %d: found %v record of %v, want response of %v",
				index, i, rec.Type(), rec.Get(warc.FieldTargetURI), fields.URL)
		}
		if *verbose {
			fmt.Printf("%v at %d: OK\n", fields.URL, fields.Offset) //nolint:forbidigo
		}
	}
	if err := s.Err(); err != nil {
		log.Panicf("failed to read %v: %v", index, err)
	}
}
