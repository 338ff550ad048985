package dv

import (
	"fmt"
	"path"
	"strings"
)

// Logical paths are '/'-separated and start with '/'. The index layer
// represents the root as the empty string; adapters use "/" for the root.

// CleanPath normalizes a client-supplied path into its index form.
// "", "/" and "." all denote the root and yield "".
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" || p == "." {
		return "", nil
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return "", nil
	}
	for _, seg := range strings.Split(cleaned[1:], "/") {
		if len(seg) > MaxNameLength {
			return "", fmt.Errorf("%w: segment longer than %d characters in %q", ErrInvalidPath, MaxNameLength, p)
		}
	}
	return cleaned, nil
}

// SplitPath returns the segments of an index path. The root has none.
func SplitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// JoinPath builds an index path from segments.
func JoinPath(segments ...string) string {
	if len(segments) == 0 {
		return ""
	}
	return "/" + strings.Join(segments, "/")
}

// ParentPath returns the index path of the parent; "" for root-level entries.
func ParentPath(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return ""
	}
	return p[:i]
}

// BaseName returns the last segment of p.
func BaseName(p string) string {
	return p[strings.LastIndex(p, "/")+1:]
}

// AdapterPath converts an index path into the form adapters expect.
func AdapterPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// IsDescendant reports whether p lies strictly below ancestor.
func IsDescendant(p, ancestor string) bool {
	if ancestor == "" {
		return p != ""
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// SplitExt splits a document file name on its last dot. A name whose only
// dot is the leading one (".env") has no extension.
func SplitExt(name string) (base, ext string) {
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return name, ""
	}
	return name[:i], name[i+1:]
}
