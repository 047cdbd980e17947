// Package revision implements the totally ordered commit identifiers
// used throughout the node document store: the Revision triple and
// the per-writer RevisionVector snapshot built from them.
package revision

import (
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

// Malformed is returned when a revision string does not round-trip
// through Parse.
var Malformed = errs.Class("malformed revision")

// Revision is an immutable triple (timestamp_ms, counter, writer_id)
// with a branch flag. The branch flag is part of a Revision's
// identity for Equal and for map-key purposes; StableKey strips it
// when a branch-agnostic comparison is required.
type Revision struct {
	Timestamp int64
	Counter   uint32
	Writer    int
	Branch    bool
}

// New builds a trunk revision from its components.
func New(timestamp int64, counter uint32, writer int) Revision {
	return Revision{Timestamp: timestamp, Counter: counter, Writer: writer}
}

// NewBranch builds a branch revision from its components.
func NewBranch(timestamp int64, counter uint32, writer int) Revision {
	return Revision{Timestamp: timestamp, Counter: counter, Writer: writer, Branch: true}
}

// Zero is the sentinel revision used as the `_sweepRev` placeholder
// key (0, 0, writer_id) and wherever an absent revision must still be
// representable as a value. It must be preserved verbatim: deployed
// data depends on this exact encoding.
func Zero(writer int) Revision {
	return Revision{Writer: writer}
}

// AsTrunk returns a copy of r with the branch flag cleared.
func (r Revision) AsTrunk() Revision {
	r.Branch = false
	return r
}

// AsBranch returns a copy of r with the branch flag set.
func (r Revision) AsBranch() Revision {
	r.Branch = true
	return r
}

// StableKey returns a copy of r with the branch flag cleared, for use
// as a map key or comparison where branch tagging must not affect
// identity ("stable-only" comparisons per the revision ordering
// rules).
func (r Revision) StableKey() Revision {
	return r.AsTrunk()
}

// Equal reports whether r and o are the same revision, branch flag
// included.
func (r Revision) Equal(o Revision) bool {
	return r == o
}

// compareStable implements the stable total order: lexicographic
// comparison of (timestamp_ms, counter, writer_id), ignoring the
// branch flag. It returns -1, 0 or 1.
func compareStable(a, b Revision) int {
	switch {
	case a.Timestamp != b.Timestamp:
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	case a.Counter != b.Counter:
		if a.Counter < b.Counter {
			return -1
		}
		return 1
	case a.Writer != b.Writer:
		if a.Writer < b.Writer {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// CompareStable is the exported form of the stable total order used
// for all map iteration (§5): lexicographic on
// (timestamp_ms, counter, writer_id), branch flag ignored.
func CompareStable(a, b Revision) int {
	return compareStable(a, b)
}

// Less reports whether r is strictly before o in stable order.
func (r Revision) Less(o Revision) bool {
	return compareStable(r, o) < 0
}

// LessOrEqualStable reports whether r <= o in stable order.
func (r Revision) LessOrEqualStable(o Revision) bool {
	return compareStable(r, o) <= 0
}

// CompareBranchAware implements the second order mentioned in §3.1:
// it agrees with the stable order except that, for two revisions
// whose (timestamp, counter, writer) triple is identical (the trunk
// and branch-tagged views of the same underlying commit), the trunk
// revision sorts before the branch-tagged one.
func CompareBranchAware(a, b Revision) int {
	if c := compareStable(a, b); c != 0 {
		return c
	}
	switch {
	case a.Branch == b.Branch:
		return 0
	case a.Branch:
		return 1
	default:
		return -1
	}
}

// String renders the revision in its canonical "<ts_hex>-<cnt_hex>-<writer_hex>"
// form, prefixed with "b" when Branch is set. A timestamp whose hex
// form itself begins with 'b' is written with one leading '0', so it
// can never be mistaken for the branch prefix. Writer ids are
// non-negative cluster-member identifiers, as in the source system.
func (r Revision) String() string {
	var b strings.Builder
	if r.Branch {
		b.WriteByte('b')
	}
	ts := strconv.FormatInt(r.Timestamp, 16)
	if ts[0] == 'b' {
		b.WriteByte('0')
	}
	b.WriteString(ts)
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(uint64(r.Counter), 16))
	b.WriteByte('-')
	b.WriteString(strconv.FormatInt(int64(r.Writer), 16))
	return b.String()
}

// Parse is the total inverse of String: any string produced by
// String round-trips, and any deviation fails with Malformed.
func Parse(s string) (Revision, error) {
	var rev Revision
	if s == "" {
		return rev, Malformed.New("empty revision")
	}
	orig := s
	if s[0] == 'b' {
		rev.Branch = true
		s = s[1:]
	}
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return Revision{}, Malformed.New("expected 3 fields, got %d (%q)", len(parts), s)
	}
	ts, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || ts < 0 {
		return Revision{}, Malformed.New("timestamp field %q: %v", parts[0], err)
	}
	cnt, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return Revision{}, Malformed.New("counter field %q: %v", parts[1], err)
	}
	writer, err := strconv.ParseInt(parts[2], 16, 64)
	if err != nil || writer < 0 {
		return Revision{}, Malformed.New("writer field %q: %v", parts[2], err)
	}
	rev.Timestamp = ts
	rev.Counter = uint32(cnt)
	rev.Writer = int(writer)
	if rev.String() != orig {
		return Revision{}, Malformed.New("revision %q does not round-trip", orig)
	}
	return rev, nil
}
