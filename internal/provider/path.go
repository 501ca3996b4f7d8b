package provider

import "strings"

// ValidatePath rejects relative-path components before any I/O happens.
// Every adapter entry point calls this first: a "." or ".." segment is the
// traversal boundary that keeps requests inside the logical root (and, for
// local storage, inside the configured base path).
func ValidatePath(path string) error {
	for _, seg := range strings.Split(path, "/") {
		if seg == "." || seg == ".." {
			return Errorf(ErrBadRequest, "path %q contains a relative component", path)
		}
	}

	return nil
}

// SplitPath breaks a slash-delimited logical path into its non-empty
// segments. The root "/" yields no segments.
func SplitPath(path string) []string {
	var segments []string

	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	return segments
}

// JoinPath builds an absolute logical path from segments. No segments
// yields the root "/".
func JoinPath(segments ...string) string {
	if len(segments) == 0 {
		return "/"
	}

	return "/" + strings.Join(segments, "/")
}

// SharedPrefix is the first path segment selecting the shared-with-me
// resolution scope on backends that have one.
const SharedPrefix = "Shared"

// SplitShared reports whether the path addresses the shared scope and
// returns the remaining segments. Only the first segment is scope-
// selecting; nested segments resolve as normal children.
func SplitShared(path string) (bool, []string) {
	segments := SplitPath(path)
	if len(segments) > 0 && segments[0] == SharedPrefix {
		return true, segments[1:]
	}

	return false, segments
}
