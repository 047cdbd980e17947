package nodestore

import (
	"strconv"
	"strings"

	"github.com/zeebo/errs"

	"storj.io/nodestore/pkg/commitvalue"
	"storj.io/nodestore/pkg/previous"
	"storj.io/nodestore/pkg/revision"
)

// OpType enumerates the UpdateOp vocabulary consumed by the external
// store (§6.1).
type OpType int

const (
	OpSet OpType = iota
	OpMax
	OpSetMapEntry
	OpRemoveMapEntry
	OpUnsetMapEntry
	OpEquals
)

// Change is a single typed change within an UpdateOp.
type Change struct {
	Type   OpType
	Key    string
	Rev    revision.Revision // used by all map-entry ops and Equals
	Scalar any               // used by Set/Max
	Value  string            // used by SetMapEntry/Equals
}

// UpdateOp is the set of changes a writer asks the external store to
// apply atomically to one document, keyed by id.
type UpdateOp struct {
	ID      string
	Changes []Change
}

// NewUpdateOp starts building an UpdateOp against the document
// identified by id.
func NewUpdateOp(id string) *UpdateOp {
	return &UpdateOp{ID: id}
}

// Set sets a scalar system field unconditionally.
func (op *UpdateOp) Set(key string, value any) *UpdateOp {
	op.Changes = append(op.Changes, Change{Type: OpSet, Key: key, Scalar: value})
	return op
}

// Max sets key to max(existing, value) (used for _modified).
func (op *UpdateOp) Max(key string, value int64) *UpdateOp {
	op.Changes = append(op.Changes, Change{Type: OpMax, Key: key, Scalar: value})
	return op
}

// SetMapEntry adds or replaces map[rev] = value under key.
func (op *UpdateOp) SetMapEntry(key string, rev revision.Revision, value string) *UpdateOp {
	op.Changes = append(op.Changes, Change{Type: OpSetMapEntry, Key: key, Rev: rev, Value: value})
	return op
}

// RemoveMapEntry deletes one entry of the map under key.
func (op *UpdateOp) RemoveMapEntry(key string, rev revision.Revision) *UpdateOp {
	op.Changes = append(op.Changes, Change{Type: OpRemoveMapEntry, Key: key, Rev: rev})
	return op
}

// UnsetMapEntry tombstones one entry of the map under key, distinct
// from RemoveMapEntry for concurrent-commit ordering (§6.1).
func (op *UpdateOp) UnsetMapEntry(key string, rev revision.Revision) *UpdateOp {
	op.Changes = append(op.Changes, Change{Type: OpUnsetMapEntry, Key: key, Rev: rev})
	return op
}

// Equals adds a precondition: map[rev] must equal value (or be
// absent, if value is "") for the op to apply.
func (op *UpdateOp) Equals(key string, rev revision.Revision, value string) *UpdateOp {
	op.Changes = append(op.Changes, Change{Type: OpEquals, Key: key, Rev: rev, Value: value})
	return op
}

// --- Domain helper constructors (§6.1) ---

// SetRevision records a commit value for rev in _revisions.
func (op *UpdateOp) SetRevision(rev revision.Revision, value commitvalue.Value) *UpdateOp {
	return op.SetMapEntry(KeyRevisions, rev, value.String())
}

// UnsetRevision tombstones rev's _revisions entry.
func (op *UpdateOp) UnsetRevision(rev revision.Revision) *UpdateOp {
	return op.UnsetMapEntry(KeyRevisions, rev)
}

// RemoveRevision removes rev's _revisions entry outright.
func (op *UpdateOp) RemoveRevision(rev revision.Revision) *UpdateOp {
	return op.RemoveMapEntry(KeyRevisions, rev)
}

// SetCommitRoot records the commit-root depth for rev.
func (op *UpdateOp) SetCommitRoot(rev revision.Revision, depth int) *UpdateOp {
	return op.SetMapEntry(KeyCommitRoot, rev, itoa(depth))
}

// RemoveCommitRoot removes rev's _commitRoot entry.
func (op *UpdateOp) RemoveCommitRoot(rev revision.Revision) *UpdateOp {
	return op.RemoveMapEntry(KeyCommitRoot, rev)
}

// UnsetCommitRoot tombstones rev's _commitRoot entry.
func (op *UpdateOp) UnsetCommitRoot(rev revision.Revision) *UpdateOp {
	return op.UnsetMapEntry(KeyCommitRoot, rev)
}

// SetDeleted records whether rev marks the node deleted, and per
// §6.1 always also sets _deletedOnce=true when deleting.
func (op *UpdateOp) SetDeleted(rev revision.Revision, deleted bool) *UpdateOp {
	op.SetMapEntry(KeyDeleted, rev, boolString(deleted))
	if deleted {
		op.Set(KeyDeletedOnce, true)
	}
	return op
}

// SetPrevious adds a _previous entry for rg.
func (op *UpdateOp) SetPrevious(rg previous.Range) *UpdateOp {
	return op.SetMapEntry(KeyPrevious, rg.High, encodeRange(rg))
}

// RemovePreviousRange removes the _previous entry for rg's High.
func (op *UpdateOp) RemovePreviousRange(rg previous.Range) *UpdateOp {
	return op.RemoveMapEntry(KeyPrevious, rg.High)
}

// RemovePreviousRevision removes the _previous entry keyed by high.
func (op *UpdateOp) RemovePreviousRevision(high revision.Revision) *UpdateOp {
	return op.RemoveMapEntry(KeyPrevious, high)
}

// SetStalePrevious marks the _previous entry at high stale at height.
func (op *UpdateOp) SetStalePrevious(high revision.Revision, height int) *UpdateOp {
	return op.SetMapEntry(KeyStalePrev, high, itoa(height))
}

// SetBranchCommit records rev as a branch commit in _bc.
func (op *UpdateOp) SetBranchCommit(rev revision.Revision) *UpdateOp {
	return op.SetMapEntry(KeyBranchCommit, rev, "true")
}

// RemoveBranchCommit removes rev's _bc entry.
func (op *UpdateOp) RemoveBranchCommit(rev revision.Revision) *UpdateOp {
	return op.RemoveMapEntry(KeyBranchCommit, rev)
}

// SetHasBinary sets _bin to HasBinaryValue.
func (op *UpdateOp) SetHasBinary() *UpdateOp {
	return op.Set(KeyBin, int64(HasBinaryValue))
}

// SetChildrenFlag sets the _children flag.
func (op *UpdateOp) SetChildrenFlag(hasChildren bool) *UpdateOp {
	return op.Set(KeyChildren, hasChildren)
}

// sentinelKey builds the (0,0,writer_id) placeholder revision used as
// the storage key for the single-valued _lastRev/_sweepRev entries
// (§6.1, §9's open question — the encoding must be preserved
// verbatim for compatibility with deployed data).
func sentinelKey(writerID int) revision.Revision {
	return revision.Zero(writerID)
}

// SetLastRev stores rev as the last-changed revision for its writer,
// under the sentinel key (0,0,writer_id) inside _lastRev.
func (op *UpdateOp) SetLastRev(rev revision.Revision) *UpdateOp {
	return op.SetMapEntry(KeyLastRev, sentinelKey(rev.Writer), rev.String())
}

// SetSweepRev stores rev as the sweep revision for its writer, under
// the sentinel key (0,0,writer_id) inside _sweepRev.
func (op *UpdateOp) SetSweepRev(rev revision.Revision) *UpdateOp {
	return op.SetMapEntry(KeySweepRev, sentinelKey(rev.Writer), rev.String())
}

// SetModified bumps _modified to max(existing, floor) via MAX,
// applying the 5-second resolution floor (I5, §6.1).
func (op *UpdateOp) SetModified(rev revision.Revision) *UpdateOp {
	floor := (rev.Timestamp / 1000 / ModifiedResolutionSeconds) * ModifiedResolutionSeconds
	return op.Max(KeyModified, floor)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func encodeRange(rg previous.Range) string {
	return rg.Low.String() + "," + strconv.Itoa(rg.Height)
}

var errBadRange = errs.Class("malformed previous range")

// decodeRange is the inverse of encodeRange, used by the document
// parser (serialize.go).
func decodeRange(high revision.Revision, encoded string) (previous.Range, error) {
	comma := strings.IndexByte(encoded, ',')
	if comma < 0 {
		return previous.Range{}, errBadRange.New("missing comma in %q", encoded)
	}
	low, err := revision.Parse(encoded[:comma])
	if err != nil {
		return previous.Range{}, errBadRange.Wrap(err)
	}
	height, err := strconv.Atoi(encoded[comma+1:])
	if err != nil {
		return previous.Range{}, errBadRange.New("bad height in %q: %v", encoded, err)
	}
	return previous.Range{High: high, Low: low, Height: height}, nil
}
