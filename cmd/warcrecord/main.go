// Package main implements warcrecord.
//
// warcrecord prints the WARC record that an index entry points to, given
// the .warc.gz file and the entry's offset and length.  With -list, it
// prints the offset and length of every gzip member of the file instead.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/m-lab/go/flagx"

	"github.com/m-lab/warcindex/internal/gzmember"
	"github.com/m-lab/warcindex/internal/warc"
)

var (
	file       string
	offset     int64
	length     int64
	list       bool
	headerOnly bool
	matchLen   int

	errNoFile   = errors.New("must specify a file")
	errOffset   = errors.New("offset and length must be given and non-negative")
	errOpenFile = errors.New("failed to open file")

	// Testing and debugging support.
	fatal            = log.Fatal
	stdout io.Writer = os.Stdout
)

func main() {
	log.SetFlags(log.Ltime)
	if err := parseAndValidateCLI(); err != nil {
		fatal(err)
	}
	f, err := os.Open(file)
	if err != nil {
		fatal(fmt.Errorf("%w: %v", errOpenFile, err))
	}
	defer f.Close()
	if list {
		err = listMembers(f)
	} else {
		err = printRecord(f)
	}
	if err != nil {
		fatal(err)
	}
}

func parseAndValidateCLI() error {
	flag.StringVar(&file, "file", "", "pathname of the .warc.gz file")
	flag.Int64Var(&offset, "offset", -1, "offset of the record's gzip member")
	flag.Int64Var(&length, "length", -1, "compressed length of the record's gzip member")
	flag.BoolVar(&list, "list", false, "list the offset and length of every gzip member")
	flag.BoolVar(&headerOnly, "header-only", false, "print only the WARC header of the record")
	flag.IntVar(&matchLen, "header-match-len", gzmember.HeaderLen, "number of header bytes that must match the first member's")
	flag.Parse()
	if err := flagx.ArgsFromEnv(flag.CommandLine); err != nil {
		return err //nolint:wrapcheck
	}
	if file == "" {
		return errNoFile
	}
	if !list && (offset < 0 || length < 0) {
		return errOffset
	}
	return nil
}

// listMembers prints one "offset length" line per gzip member.
func listMembers(r io.Reader) error {
	members, err := gzmember.All(r, gzmember.Config{BufferSize: 0, PatternLen: matchLen})
	if err != nil {
		return err //nolint:wrapcheck
	}
	for _, m := range members {
		fmt.Fprintf(stdout, "%d %d\n", m.Offset, m.Length)
	}
	return nil
}

// printRecord prints the record at offset as it appears in the file,
// with its named fields sorted.
func printRecord(r io.ReaderAt) error {
	rec, err := warc.ReadAt(r, offset, length)
	if err != nil {
		return err //nolint:wrapcheck
	}
	fmt.Fprintf(stdout, "%s\r\n", rec.Version)
	names := make([]string, 0, len(rec.Header))
	for name := range rec.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range rec.Header[name] {
			fmt.Fprintf(stdout, "%s: %s\r\n", name, value)
		}
	}
	fmt.Fprint(stdout, "\r\n")
	if !headerOnly {
		_, err = stdout.Write(rec.Block)
	}
	return err //nolint:wrapcheck
}
