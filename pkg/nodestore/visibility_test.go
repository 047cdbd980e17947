package nodestore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/nodestore/pkg/commitvalue"
	"storj.io/nodestore/pkg/nodestore"
	"storj.io/nodestore/pkg/previous"
	"storj.io/nodestore/pkg/revision"
)

type fakeLoader struct {
	docs map[string]*nodestore.Document
}

func (f *fakeLoader) LoadPrevious(ctx context.Context, id string) (*nodestore.Document, error) {
	if f.docs == nil {
		return nil, nil
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	return doc, nil
}

// S1: trunk read sees a committed value.
func TestLatestValueTrunkCommitted(t *testing.T) {
	r1 := r(10, 1)
	doc := nodestore.NewBuilder("1:/foo").
		PutRevisionEntry(nodestore.KeyRevisions, r1, "c").
		PutRevisionEntry("p", r1, `"hello"`).
		Build()

	R := revision.NewVector(r1)
	got := latestProperty(t, doc, "p", R, 1)
	assert.Equal(t, `"hello"`, got)
}

// S2: an unmerged branch commit is invisible from a trunk read.
func TestLatestValueUnmergedBranchInvisibleFromTrunk(t *testing.T) {
	r0 := r(5, 1)
	r1 := r(10, 1)
	doc := nodestore.NewBuilder("1:/foo").
		PutRevisionEntry(nodestore.KeyRevisions, r1, "b"+r0.String()).
		PutRevisionEntry("p", r1, `"x"`).
		Build()

	R := revision.NewVector(r0)
	_, found := latestPropertyEntry(t, doc, "p", R, 1)
	assert.False(t, found)
}

// S3: a branch read sees its own branch commit.
func TestLatestValueBranchReadSeesOwnCommit(t *testing.T) {
	r0 := r(5, 1)
	r1 := r(10, 1)
	doc := nodestore.NewBuilder("1:/foo").
		PutRevisionEntry(nodestore.KeyRevisions, r1, "b"+r0.String()).
		PutRevisionEntry("p", r1, `"x"`).
		Build()

	base := revision.NewVector(r0)
	branchVector := revision.NewVector(r1.AsBranch())
	R := revision.Branch(branchVector, base)

	got := latestProperty(t, doc, "p", R, 1)
	assert.Equal(t, `"x"`, got)
}

func TestIsVisibleMergedBranchUsesMergeRevision(t *testing.T) {
	var vis nodestore.VisibilityEngine
	merge := r(20, 1)
	rBranch := r(10, 1)
	cv := commitvalue.Value{Kind: commitvalue.MergedBranch, Rev: merge}

	R := revision.NewVector(r(15, 1)) // older than merge: not visible yet
	assert.False(t, vis.IsVisible(rBranch, cv, R, 1))

	R2 := revision.NewVector(r(25, 1)) // newer than merge: visible
	assert.True(t, vis.IsVisible(rBranch, cv, R2, 1))
}

func TestIsVisibleUnmergedBranchWrongWriterNeverVisible(t *testing.T) {
	var vis nodestore.VisibilityEngine
	rBranch := r(10, 2) // writer 2
	cv := commitvalue.Value{Kind: commitvalue.UnmergedBranch, Rev: r(5, 2)}
	R := revision.Branch(revision.NewVector(rBranch.AsBranch()), revision.NewVector(r(5, 2)))
	assert.False(t, vis.IsVisible(rBranch, cv, R, 1)) // local writer is 1
}

func TestIsVisibleUnknownNeverVisible(t *testing.T) {
	var vis nodestore.VisibilityEngine
	assert.False(t, vis.IsVisible(r(10, 1), commitvalue.Value{Kind: commitvalue.Unknown}, revision.NewVector(r(10, 1)), 1))
}

// P4: RequiresCompleteMapCheck(v, local) only ever fires when some
// previous range's high is stably newer than v's revision.
func TestRequiresCompleteMapCheckImpliesNewerPreviousRange(t *testing.T) {
	r1 := r(10, 1)
	r2 := r(30, 1) // newer, also committed locally, so r1 isn't the anchor

	revisions := nodestore.NewRevMap(
		nodestore.RevEntry{Rev: r1, Value: "c"},
		nodestore.RevEntry{Rev: r2, Value: "c"},
	)
	local := nodestore.NewRevMap(
		nodestore.RevEntry{Rev: r1, Value: `"old"`},
		nodestore.RevEntry{Rev: r2, Value: `"new"`},
	)
	hit := nodestore.RevEntry{Rev: r1, Value: `"old"`}

	// No previous range at all: nothing newer could be hiding, so the
	// gate must not fire even though r1 isn't the most recent
	// committed local revision.
	empty := previous.NewIndex(nil, nil)
	assert.False(t, nodestore.RequiresCompleteMapCheck(hit, local, revisions, commitvalue.IsCommittedString, empty))

	// A previous range whose high is older than r1 still can't hide
	// anything newer than r1: the gate must not fire.
	olderRange := previous.NewIndex(map[revision.Revision]previous.Range{
		r(5, 1): {High: r(5, 1), Low: r(1, 1), Height: 0},
	}, nil)
	assert.False(t, nodestore.RequiresCompleteMapCheck(hit, local, revisions, commitvalue.IsCommittedString, olderRange))

	// A previous range whose high is newer than r1 could hide
	// something that supersedes it: the gate must fire.
	newerRange := previous.NewIndex(map[revision.Revision]previous.Range{
		r(20, 1): {High: r(20, 1), Low: r(15, 1), Height: 0},
	}, nil)
	assert.True(t, nodestore.RequiresCompleteMapCheck(hit, local, revisions, commitvalue.IsCommittedString, newerRange))
}

func TestIsMostRecentCommittedNoCommittedEntryIsFalse(t *testing.T) {
	local := nodestore.NewRevMap(nodestore.RevEntry{Rev: r(10, 1), Value: `"x"`})
	revisions := nodestore.NewRevMap() // no commit values recorded at all
	assert.False(t, nodestore.IsMostRecentCommitted(local, revisions, r(10, 1), commitvalue.IsCommittedString))
}

func latestProperty(t *testing.T, doc *nodestore.Document, key string, R *revision.Vector, writer int) string {
	t.Helper()
	entry, found := latestPropertyEntry(t, doc, key, R, writer)
	require.True(t, found)
	return entry.Value
}

func latestPropertyEntry(t *testing.T, doc *nodestore.Document, key string, R *revision.Vector, writer int) (nodestore.RevEntry, bool) {
	t.Helper()
	var vis nodestore.VisibilityEngine
	loader := &fakeLoader{}
	vm := nodestore.NewValueMap(doc, key, loader, nil)
	getCV := func(ctx context.Context, rr revision.Revision) (commitvalue.Value, error) {
		v, ok := doc.RevMap(nodestore.KeyRevisions).Get(rr)
		if !ok {
			return commitvalue.Value{Kind: commitvalue.Unknown}, nil
		}
		return commitvalue.Parse(v)
	}
	entry, found, err := vis.LatestValue(context.Background(), vm, R, writer, getCV, map[revision.Revision]commitvalue.Value{})
	require.NoError(t, err)
	return entry, found
}
