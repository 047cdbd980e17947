// Package commitvalue implements the stringly-typed encoding stored
// under `_revisions[r]` as a tagged variant, parsed
// once at the store boundary.
package commitvalue

import (
	"strings"

	"github.com/zeebo/errs"

	"storj.io/nodestore/pkg/revision"
)

// Malformed is returned when a stored commit-value string doesn't
// match one of the recognised encodings.
var Malformed = errs.Class("malformed commit value")

// Kind distinguishes the three possible commit states a revision's
// _revisions entry can encode. The zero Kind, Unknown, is never
// produced by Parse; it is the Value returned by CommitResolver
// implementations when a revision's commit value is unknown
// (§4.4's `None`).
type Kind int

const (
	Unknown Kind = iota
	Trunk
	MergedBranch
	UnmergedBranch
)

// Value is the parsed form of a `_revisions` entry.
//
//   - Trunk:         "c"            — Rev is the zero Revision, unused.
//   - MergedBranch:  "c-<rev>"      — Rev is the merge revision.
//   - UnmergedBranch: "b<rev>"      — Rev is the branch's base revision.
type Value struct {
	Kind Kind
	Rev  revision.Revision
}

// TrunkValue is the parsed "c" value.
var TrunkValue = Value{Kind: Trunk}

// IsCommitted is true iff v's Kind is Trunk or MergedBranch — the
// source encoding's rule that any value starting with "c" is
// committed.
func (v Value) IsCommitted() bool {
	return v.Kind == Trunk || v.Kind == MergedBranch
}

// IsCommittedString parses s as a stored commit-value string and
// reports whether it is committed. A string that fails to parse is
// treated as not committed rather than as an error; callers that need
// to distinguish "not committed" from "malformed" should call Parse
// directly.
func IsCommittedString(s string) bool {
	v, err := Parse(s)
	return err == nil && v.IsCommitted()
}

// ResolveCommitRevision returns the revision at which r becomes
// effective for visibility purposes: r itself for a trunk commit,
// the encoded merge revision for a merged branch commit, and a
// branch-tagged copy of r for an unmerged branch commit.
func ResolveCommitRevision(r revision.Revision, v Value) revision.Revision {
	switch v.Kind {
	case Trunk:
		return r
	case MergedBranch:
		return v.Rev
	case UnmergedBranch:
		return r.AsBranch()
	default:
		return r
	}
}

// String renders v in its canonical stored form.
func (v Value) String() string {
	switch v.Kind {
	case Trunk:
		return "c"
	case MergedBranch:
		return "c-" + v.Rev.String()
	case UnmergedBranch:
		return "b" + v.Rev.String()
	default:
		return ""
	}
}

// Parse decodes a stored commit-value string. It never produces
// Unknown: the absence of a commit value is represented by the
// caller as "no entry", not as a parseable string (§4.4's None).
func Parse(s string) (Value, error) {
	switch {
	case s == "c":
		return Value{Kind: Trunk}, nil
	case strings.HasPrefix(s, "c-"):
		rev, err := revision.Parse(s[2:])
		if err != nil {
			return Value{}, Malformed.Wrap(err)
		}
		return Value{Kind: MergedBranch, Rev: rev}, nil
	case strings.HasPrefix(s, "b"):
		rev, err := revision.Parse(s[1:])
		if err != nil {
			return Value{}, Malformed.Wrap(err)
		}
		return Value{Kind: UnmergedBranch, Rev: rev}, nil
	default:
		return Value{}, Malformed.New("unrecognised commit value %q", s)
	}
}
