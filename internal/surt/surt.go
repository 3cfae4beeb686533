// Package surt computes the searchable keys that CDX and CDXJ indexes
// are sorted by.  The key reverses the host labels so captures of the
// same site sort together, and normalizes the path and query so
// captures of the same resource sort adjacently regardless of case,
// trailing slash, or query parameter order:
//
//	https://www.Example.com/Path/?b=2&a=1 -> com,example)/path?a=1&b=2
//
// This is a narrow heuristic that matches common archive index
// conventions, not a general purpose URL canonicalization.
package surt

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid address")

// SearchableKey returns the searchable key of rawURL.
func SearchableKey(rawURL string) (string, error) {
	u, err := Parse(rawURL)
	if err != nil {
		return "", err
	}
	return Key(u), nil
}

// Parse parses rawURL and makes sure it has a host.
func Parse(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidAddress, rawURL)
	}
	return u, nil
}

// Key returns the searchable key of a parsed URL with a host.
func Key(u *url.URL) string {
	key := host(u.Hostname()) + ")" + path(u.EscapedPath())
	if u.RawQuery != "" || u.ForceQuery {
		key += "?" + query(u.RawQuery)
	}
	return key
}

// host reverses the labels of h and drops a leading "www" label.
func host(h string) string {
	labels := strings.Split(strings.ToLower(h), ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.TrimSuffix(strings.Join(labels, ","), ",www")
}

func path(p string) string {
	if p == "" {
		return "/"
	}
	p = strings.ToLower(p)
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// query lower-cases q and, if it has more than one parameter, sorts the
// parameters.
func query(q string) string {
	q = strings.ToLower(q)
	if !strings.Contains(q, "&") {
		return q
	}
	params := strings.Split(q, "&")
	sort.Strings(params)
	return strings.Join(params, "&")
}
