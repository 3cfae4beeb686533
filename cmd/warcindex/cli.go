package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/m-lab/go/flagx"

	"github.com/m-lab/warcindex/internal/cdx"
	"github.com/m-lab/warcindex/internal/gcs"
	"github.com/m-lab/warcindex/internal/gzmember"
	"github.com/m-lab/warcindex/internal/indexfile"
	"github.com/m-lab/warcindex/internal/indexwatch"
	"github.com/m-lab/warcindex/internal/schema"
	"github.com/m-lab/warcindex/internal/sink"
	"github.com/m-lab/warcindex/internal/testhelper"
	"github.com/m-lab/warcindex/internal/warc"
	"github.com/m-lab/warcindex/internal/watchdir"
)

var (
	// Flags related to what to index and how.
	inputs            flagx.StringArray
	output            string
	format            = flagx.Enum{Options: cdx.Formats, Value: cdx.FormatCDXJ}
	outputCompression = flagx.Enum{Options: sink.Compressions, Value: sink.None}
	headerMatchLen    int
	bufferSize        int

	// Flags related to the BigQuery table schema.
	createSchema bool
	schemaFile   string

	// Flags related to where to watch for archives (inotify events).
	watchDir       string
	watchExts      flagx.StringArray
	missedAge      time.Duration
	missedInterval time.Duration
	noRm           bool

	// Flags related to GCS.
	bucket      string
	gcsIndexDir string

	// Flags related to program's execution.
	verbose      bool
	testInterval time.Duration

	// Errors related to command line parsing and validation.
	errExtraArgs    = errors.New("extra arguments on the command line")
	errNoInput      = errors.New("must specify at least one input or a watch directory")
	errInputAndDir  = errors.New("cannot specify both inputs and a watch directory")
	errOutputInputs = errors.New("output can only be specified with a single input")
	errOutputDir    = errors.New("output cannot be specified in watch mode")
	errNoIndexDir   = errors.New("must specify GCS index directory with GCS bucket")
	errMatchLen     = errors.New("invalid header match length")
	errBufferSize   = errors.New("invalid buffer size")
)

func initFlags() {
	// Flags related to what to index and how.
	inputs = flagx.StringArray{}
	flag.Var(&inputs, "input", "pathname of a .warc.gz archive to index (can be repeated)")
	flag.StringVar(&output, "output", "", "pathname of the index file; \"-\" means stdout (default <input>.<format>[.<compression>])")
	format = flagx.Enum{Options: cdx.Formats, Value: cdx.FormatCDXJ}
	flag.Var(&format, "format", "index format: cdxj, cdx, or jsonl")
	outputCompression = flagx.Enum{Options: sink.Compressions, Value: sink.None}
	flag.Var(&outputCompression, "output-compression", "compression of index files: none, gzip, zstd, lz4, xz, bzip2, or brotli")
	flag.IntVar(&headerMatchLen, "header-match-len", gzmember.HeaderLen, "number of gzip header bytes that must match the first member's header")
	flag.IntVar(&bufferSize, "buffer-size", gzmember.DefaultBufferSize, "bytes read per scan pass")

	// Flags related to the BigQuery table schema.
	flag.BoolVar(&createSchema, "schema", false, "create the BigQuery table schema of jsonl index files and exit")
	flag.StringVar(&schemaFile, "schema-file", "warcindex.table.json", "pathname to write the table schema to")

	// Flags related to where to watch for archives (inotify events).
	flag.StringVar(&watchDir, "watch-dir", "", "directory to watch for new archives")
	watchExts = flagx.StringArray{".warc.gz"}
	flag.Var(&watchExts, "watch-extension", "filename extensions to watch within <watch-dir>")
	flag.DurationVar(&missedAge, "missed-age", 30*time.Minute, "minimum duration since an archive's last modification time before it is considered missed")
	flag.DurationVar(&missedInterval, "missed-interval", 10*time.Minute, "time interval between scans of filesystem for missed archives")
	flag.BoolVar(&noRm, "no-rm", false, "do not remove local index files after successful upload")

	// Flags related to GCS.
	flag.StringVar(&bucket, "gcs-bucket", "", "GCS bucket name to upload index files and table schema to")
	flag.StringVar(&gcsIndexDir, "gcs-index-dir", "warcindex/v1", "directory in GCS bucket under which index files will be uploaded")

	// Flags related to program's execution.
	flag.BoolVar(&verbose, "verbose", false, "enable verbose mode")
	flag.DurationVar(&testInterval, "test-interval", 0, "time interval to stop running (for test purposes only)")
}

// parseAndValidateCLI parses and validates the command line.
func parseAndValidateCLI() error {
	initFlags()
	// Note that watchExts was declared as flagx.StringArray{".warc.gz"}
	// so the usage message would show the right default value.
	// But we have to set it to nil before parsing the flags because
	// flagx.StringArray always appends to the array and there is no
	// way to remove an element from it.
	watchExts = nil
	flag.Parse()
	if flag.NArg() != 0 {
		return errExtraArgs
	}

	// Now, check if some flags were set in the environment instead
	// of on the command line.
	if err := flagx.ArgsFromEnv(flag.CommandLine); err != nil {
		return fmt.Errorf("failed to get args from the environment: %w", err)
	}

	// Enable verbose mode in all packages as soon as the flags are
	// parsed because they may be called for during argument validation.
	if verbose {
		gzmember.Verbose(testhelper.VLogf)
		warc.Verbose(testhelper.VLogf)
		cdx.Verbose(testhelper.VLogf)
		indexfile.Verbose(testhelper.VLogf)
		indexwatch.Verbose(testhelper.VLogf)
		gcs.Verbose(testhelper.VLogf)
		schema.Verbose(testhelper.VLogf)
		watchdir.Verbose(testhelper.VLogf)
	}
	if watchExts == nil {
		watchExts = []string{".warc.gz"}
	}
	if headerMatchLen < gzmember.MinPatternLen || headerMatchLen > gzmember.HeaderLen {
		return fmt.Errorf("%w: %d (must be %d-%d)", errMatchLen, headerMatchLen, gzmember.MinPatternLen, gzmember.HeaderLen)
	}
	if bufferSize < gzmember.HeaderLen {
		return fmt.Errorf("%w: %d (must be at least %d)", errBufferSize, bufferSize, gzmember.HeaderLen)
	}
	if bucket != "" && gcsIndexDir == "" {
		return errNoIndexDir
	}
	if createSchema {
		return nil
	}
	if len(inputs) == 0 && watchDir == "" {
		return errNoInput
	}
	if len(inputs) != 0 && watchDir != "" {
		return errInputAndDir
	}
	if output != "" {
		if watchDir != "" {
			return errOutputDir
		}
		if len(inputs) > 1 {
			return errOutputInputs
		}
	}
	return nil
}

// indexConfig returns the index configuration specified on the command
// line.
func indexConfig() indexfile.Config {
	return indexfile.Config{
		Format:      format.Value,
		Compression: outputCompression.Value,
		Scanner: gzmember.Config{
			BufferSize: bufferSize,
			PatternLen: headerMatchLen,
		},
		Archiver: archiver(),
	}
}
