package nodestore

import (
	"context"

	"storj.io/nodestore/pkg/commitvalue"
	"storj.io/nodestore/pkg/previous"
	"storj.io/nodestore/pkg/revision"
)

// CommitValueFunc resolves the commit value for a revision, the
// abstracted RevisionContext.getCommitValue collaborator (§6.3).
type CommitValueFunc func(ctx context.Context, r revision.Revision) (commitvalue.Value, error)

// VisibilityEngine decides whether a revision is visible from a given
// read-point, and finds the newest visible value in a ValueMap (§4.5).
// It holds no state; its methods are pure functions of their
// arguments, split out as a type only to mirror the component
// boundary the design is organised around.
type VisibilityEngine struct{}

// IsVisible implements the three top-level cases of §4.5.
//
// Visibility is a causality test: a committed revision m is visible
// from a read-point R iff R has already reached or passed m for that
// revision's writer (R "sees" m, Vector.Sees), not the other
// direction — a read-point is expected to observe everything that
// happened at or before it.
func (VisibilityEngine) IsVisible(r revision.Revision, cv commitvalue.Value, R *revision.Vector, localWriterID int) bool {
	switch cv.Kind {
	case commitvalue.Trunk, commitvalue.MergedBranch:
		m := commitvalue.ResolveCommitRevision(r, cv)
		if base := R.Base(); base != nil {
			return base.Sees(m)
		}
		return R.Sees(m)

	case commitvalue.UnmergedBranch:
		if r.Writer != localWriterID {
			return false
		}
		branchRev, isBranch := R.BranchRevision()
		if !isBranch || branchRev.Writer != r.Writer {
			return false
		}
		// R's branch contains the same commit r: visible iff r is at
		// or before the branch's current tip (earlier same-branch
		// commits stay visible as the branch advances).
		return revision.CompareStable(r, branchRev) <= 0

	default: // commitvalue.Unknown
		return false
	}
}

// LatestValue walks seq newest-first, skipping entries whose revision
// is not visible from R, and returns the first hit (§4.5). validCache
// is a caller-scoped cache of already-resolved commit values, keyed
// by revision, read and written here but never evicted by this call.
func (e VisibilityEngine) LatestValue(
	ctx context.Context,
	seq *ValueMap,
	R *revision.Vector,
	localWriterID int,
	getCommitValue CommitValueFunc,
	validCache map[revision.Revision]commitvalue.Value,
) (_ RevEntry, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	var result RevEntry
	found := false

	err = seq.Iterate(ctx, func(entry RevEntry) (bool, error) {
		cv, cached := validCache[entry.Rev]
		if !cached {
			var err error
			cv, err = getCommitValue(ctx, entry.Rev)
			if err != nil {
				return false, err
			}
			if validCache != nil {
				validCache[entry.Rev] = cv
			}
		}
		if e.IsVisible(entry.Rev, cv, R, localWriterID) {
			result, found = entry, true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return RevEntry{}, false, err
	}
	return result, found, nil
}

// LatestLocalValue is §4.5's local-map fast path: it resolves the
// same visibility walk LatestValue does, but against local's entries
// alone, never touching a previous document. Callers use this first
// and only fall back to the full ValueMap walk (LatestValue) when
// RequiresCompleteMapCheck says the local-only hit isn't trustworthy.
func (e VisibilityEngine) LatestLocalValue(
	ctx context.Context,
	local *RevMap,
	R *revision.Vector,
	localWriterID int,
	getCommitValue CommitValueFunc,
	validCache map[revision.Revision]commitvalue.Value,
) (_ RevEntry, _ bool, err error) {
	for _, entry := range local.Entries() {
		cv, cached := validCache[entry.Rev]
		if !cached {
			cv, err = getCommitValue(ctx, entry.Rev)
			if err != nil {
				return RevEntry{}, false, err
			}
			if validCache != nil {
				validCache[entry.Rev] = cv
			}
		}
		if e.IsVisible(entry.Rev, cv, R, localWriterID) {
			return entry, true, nil
		}
	}
	return RevEntry{}, false, nil
}

// IsMostRecentCommitted reports whether r is at or after the newest
// committed revision found walking local (a property's local RevMap)
// newest-first (§4.5). A local entry's revision counts as committed
// iff it has a committed value in revisions (the document's local
// _revisions map); a property's own entry value is its JSON-encoded
// state, not a commit-value string, so committedness can only be
// decided by cross-referencing _revisions. A local map with no
// committed revision at all has no anchor to compare against, so this
// reports false.
func IsMostRecentCommitted(local *RevMap, revisions *RevMap, r revision.Revision, isCommitted func(string) bool) bool {
	for _, e := range local.Entries() {
		cv, ok := revisions.Get(e.Rev)
		if !ok || !isCommitted(cv) {
			continue
		}
		return revision.CompareStable(r, e.Rev) >= 0
	}
	return false
}

// RequiresCompleteMapCheck is the §4.5 optimisation gate: a hit found
// against only the local map must be re-checked against the full
// ValueMap if it isn't the most recent committed local revision and a
// previous range could hold something stably newer (P4: this only
// ever returns true when some previous range's high is newer than
// v's revision).
func RequiresCompleteMapCheck(v RevEntry, local *RevMap, revisions *RevMap, isCommitted func(string) bool, prevIdx *previous.Index) bool {
	if IsMostRecentCommitted(local, revisions, v.Rev, isCommitted) {
		return false
	}
	for _, rg := range prevIdx.Values() {
		if revision.CompareStable(rg.High, v.Rev) > 0 {
			return true
		}
	}
	return false
}
