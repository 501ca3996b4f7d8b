// Package provider defines the canonical resource model shared by every
// storage backend, the DataProvider contract each backend implements, and
// the list filtering, sorting, and pagination machinery applied to results.
package provider

import (
	"strings"
	"time"
)

// SizeUnknown is the size sentinel for resources without a meaningful byte
// count (folders on some backends, mail threads). The wire format never
// omits the size field.
const SizeUnknown = -1

// Kind distinguishes the two resource shapes every backend must map onto.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Resource is the canonical snapshot of one file or folder at response
// time. Every field is always populated: unknown timestamps are empty
// strings, unknown sizes are SizeUnknown. Consumers get a stable schema
// regardless of which backend produced the resource.
type Resource struct {
	Name             string `json:"name"`
	Path             string `json:"path"`
	Kind             Kind   `json:"kind"`
	Provider         string `json:"provider"`
	MimeType         string `json:"mimeType"`
	Size             int64  `json:"size"`
	CreatedAtTime    string `json:"createdAtTime"`
	LastModifiedTime string `json:"lastModifiedTime"`
	ContentURI       string `json:"contentUri"`
}

// Timestamp formats a provider timestamp for the wire. Zero times become
// the empty string so the field is present but explicitly unknown.
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}

// Depth returns the number of path segments in a logical path. The root
// "/" has depth zero. Used by the filter/sort engine, which orders paths
// by depth rather than lexicographically.
func Depth(path string) int {
	n := 0

	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			n++
		}
	}

	return n
}
