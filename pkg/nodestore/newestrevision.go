package nodestore

import (
	"context"

	"go.uber.org/zap"

	"storj.io/nodestore/pkg/commitvalue"
	"storj.io/nodestore/pkg/revision"
)

// NewestRevisionFinder collects collisions during a commit attempt
// and reports the newest committed revision of a document (§4.6).
type NewestRevisionFinder struct{}

// NewestRevisionResult is the outcome of a Find call.
type NewestRevisionResult struct {
	Newest     revision.Revision
	Found      bool
	Collisions []revision.Revision
}

// Find scans every revision of doc (local _revisions and
// _commitRoot, plus previous documents when a previous range could
// hold something newer than base) looking for collisions against a
// writer's attempted change, and reports the document's newest
// committed revision.
//
// change is excluded from the scan. branch reports whether the
// change itself is a branch commit.
func (f NewestRevisionFinder) Find(
	ctx context.Context,
	doc *Document,
	base *revision.Vector,
	change revision.Revision,
	branch bool,
	localWriterID int,
	getCommitValue CommitValueFunc,
	loader PreviousLoader,
	log *zap.Logger,
) (NewestRevisionResult, error) {
	candidates, err := f.candidateRevisions(ctx, doc, base, loader, log)
	if err != nil {
		return NewestRevisionResult{}, err
	}

	var vis VisibilityEngine
	var collisions []revision.Revision
	newestPerWriter := map[int]revision.Revision{}
	var overallNewest revision.Revision
	found := false

	for _, r := range candidates {
		if r == change {
			continue
		}
		if base.IsNewerThan(r) {
			continue // not concurrent with base, not a collision candidate
		}

		cv, err := getCommitValue(ctx, r)
		if err != nil {
			return NewestRevisionResult{}, err
		}

		if _, known := newestPerWriter[r.Writer]; known {
			if violatesBranchRules(r, cv, branch, localWriterID) {
				collisions = append(collisions, r)
			}
			continue
		}

		switch {
		case cv.Kind == commitvalue.Unknown:
			collisions = append(collisions, r) // uncommitted
		case cv.Kind == commitvalue.UnmergedBranch && r.Writer != localWriterID:
			collisions = append(collisions, r) // wrong branch
		case branch:
			collisions = append(collisions, r) // branch-base violation
		case !vis.IsVisible(r, cv, base, localWriterID):
			collisions = append(collisions, r) // committed but not yet visible
		default:
			m := commitvalue.ResolveCommitRevision(r, cv)
			newestPerWriter[r.Writer] = r
			if !found || revision.CompareStable(m, overallNewest) > 0 {
				overallNewest, found = m, true
			}
		}
	}

	if found {
		if v, ok := doc.RevMap(KeyDeleted).Get(overallNewest); ok && v == "true" {
			found = false
		}
	}

	return NewestRevisionResult{Newest: overallNewest, Found: found, Collisions: collisions}, nil
}

// violatesBranchRules implements the fast-path branch check used once
// a writer's per-writer newest is already known; the full evaluation
// in Find spells the same checks out case by case.
func violatesBranchRules(r revision.Revision, cv commitvalue.Value, branch bool, localWriterID int) bool {
	if cv.Kind == commitvalue.UnmergedBranch && r.Writer != localWriterID {
		return true
	}
	return branch
}

// candidateRevisions gathers every revision the document records via
// _revisions or _commitRoot, locally and (when warranted) in previous
// documents.
func (f NewestRevisionFinder) candidateRevisions(ctx context.Context, doc *Document, base *revision.Vector, loader PreviousLoader, log *zap.Logger) ([]revision.Revision, error) {
	seen := map[revision.Revision]bool{}
	var out []revision.Revision
	add := func(r revision.Revision) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}

	for _, e := range doc.RevMap(KeyRevisions).Entries() {
		add(e.Rev)
	}
	for _, e := range doc.RevMap(KeyCommitRoot).Entries() {
		add(e.Rev)
	}

	idx := doc.PreviousIndex()
	considerPrevious := false
	for _, rg := range idx.Values() {
		lower, ok := base.Get(rg.Low.Writer)
		if !ok || revision.CompareStable(rg.Low, lower) > 0 {
			considerPrevious = true
			break
		}
	}
	if !considerPrevious {
		return out, nil
	}

	for _, rg := range idx.Values() {
		id := PreviousID(doc.Path(), rg.High, rg.Height)
		prevDoc, err := loader.LoadPrevious(ctx, id)
		if err != nil {
			return nil, err
		}
		if prevDoc == nil {
			continue
		}
		for _, e := range prevDoc.RevMap(KeyRevisions).Entries() {
			add(e.Rev)
		}
		for _, e := range prevDoc.RevMap(KeyCommitRoot).Entries() {
			add(e.Rev)
		}
	}

	return out, nil
}
