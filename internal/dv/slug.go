package dv

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gosimple/slug"
)

// Slugify derives the URL-safe slug of an index path. Each segment is
// slugged on its own and the results are joined with '/', so the slug keeps
// the shape of the path. Segments that slug to nothing (punctuation only,
// unmappable scripts) fall back to a short content hash.
func Slugify(publicPath string) string {
	segments := SplitPath(publicPath)
	out := make([]string, len(segments))
	for i, seg := range segments {
		s := slug.Make(seg)
		if s == "" {
			sum := sha256.Sum256([]byte(seg))
			s = "x" + hex.EncodeToString(sum[:])[:12]
		}
		out[i] = s
	}
	return strings.Join(out, "/")
}
