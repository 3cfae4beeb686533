package cdx

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

// httpHead holds what the index needs from an HTTP response head.
type httpHead struct {
	status   int
	mime     string
	redirect string
}

// parseHTTPHead reads the status line and the header lines of an HTTP
// response up to the first blank line.  Anything it cannot make sense
// of is left unset.
func parseHTTPHead(block []byte) httpHead {
	head := httpHead{status: 0, mime: "", redirect: ""}
	br := bufio.NewReader(bytes.NewReader(block))

	// Status line: HTTP/1.1 200 OK.
	line, err := readLine(br)
	if fields := strings.Fields(line); len(fields) > 1 {
		if status, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
			head.status = int(status)
		}
	}
	for err == nil {
		line, err = readLine(br)
		if line == "" {
			break
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		switch strings.ToLower(key) {
		case "content-type":
			mime, _, _ := strings.Cut(value, ";")
			head.mime = strings.TrimSpace(mime)
		case "location":
			head.redirect = strings.TrimSpace(value)
		}
	}
	return head
}

// readLine returns the next line without its line terminator.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && (line == "" || err != io.EOF) { //nolint:errorlint
		return "", err //nolint:wrapcheck
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), err //nolint:wrapcheck
}
