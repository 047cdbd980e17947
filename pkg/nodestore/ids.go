package nodestore

import (
	"strconv"
	"strings"

	"storj.io/nodestore/pkg/revision"
)

// MainID returns the id of the main document for path, per §6.4:
// "<depth>:<path>", where depth is the number of '/' separated
// segments in path (the root path "/" has depth 0).
func MainID(path string) string {
	return strconv.Itoa(pathDepth(path)) + ":" + path
}

// PreviousID returns the id of a previous document for the main
// document at mainPath, holding revisions up to high at the given
// height: "<depth+2>:p/<main-path>/<high>/<height>" (§6.4, I7).
func PreviousID(mainPath string, high revision.Revision, height int) string {
	depth := pathDepth(mainPath) + 2
	return strconv.Itoa(depth) + ":p" + mainPath + "/" + high.String() + "/" + strconv.Itoa(height)
}

// pathDepth counts the non-empty '/' separated segments of path.
func pathDepth(path string) int {
	if path == "" || path == "/" {
		return 0
	}
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "/"))
}

// IsPreviousPath reports whether path is a previous-document path (it
// begins with "p", per I7).
func IsPreviousPath(path string) bool {
	return strings.HasPrefix(path, "p/") || path == "p"
}

// FormatID is the generic §6.4 entry point for main-document ids: it
// is MainID under another name, kept so callers that hold a bare path
// and don't care whether it is a main document's path don't need to
// know MainID's name. Previous-document ids carry extra state (a high
// revision and a height) that a path alone can't supply; build those
// with PreviousID.
func FormatID(path string) string {
	return MainID(path)
}

// ParseID decodes any document id into its depth-prefixed path and
// reports whether it names a previous document. For a previous id,
// the returned path is the raw "p/..." remainder; decode it further
// with ParsePreviousID.
func ParseID(id string) (path string, isPrevious bool, err error) {
	colon := strings.IndexByte(id, ':')
	if colon < 0 {
		return "", false, MalformedDocument.New("id %q has no depth prefix", id)
	}
	rest := id[colon+1:]
	return rest, IsPreviousPath(rest), nil
}

// ParsePreviousID decodes a previous-document id into its main path,
// high revision and height. It is the inverse of PreviousID.
func ParsePreviousID(id string) (mainPath string, high revision.Revision, height int, err error) {
	colon := strings.IndexByte(id, ':')
	if colon < 0 {
		return "", revision.Revision{}, 0, MalformedDocument.New("id %q has no depth prefix", id)
	}
	rest := id[colon+1:]
	if !strings.HasPrefix(rest, "p/") {
		return "", revision.Revision{}, 0, MalformedDocument.New("id %q is not a previous-document id", id)
	}
	rest = rest[1:] // drop leading "p", keep the path's leading "/"

	lastSlash := strings.LastIndexByte(rest, '/')
	if lastSlash < 0 {
		return "", revision.Revision{}, 0, MalformedDocument.New("id %q missing height segment", id)
	}
	heightStr := rest[lastSlash+1:]
	rest = rest[:lastSlash]

	secondSlash := strings.LastIndexByte(rest, '/')
	if secondSlash < 0 {
		return "", revision.Revision{}, 0, MalformedDocument.New("id %q missing high-revision segment", id)
	}
	highStr := rest[secondSlash+1:]
	mainPath = rest[:secondSlash]

	high, err = revision.Parse(highStr)
	if err != nil {
		return "", revision.Revision{}, 0, MalformedDocument.Wrap(err)
	}
	height, err = strconv.Atoi(heightStr)
	if err != nil {
		return "", revision.Revision{}, 0, MalformedDocument.New("id %q has non-numeric height: %v", id, err)
	}
	return mainPath, high, height, nil
}
