package nodestore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/nodestore/pkg/nodestore"
	"storj.io/nodestore/pkg/revision"
)

// P7: the concurrent-add-remove exception is symmetric between a pure
// add and a pure delete over a hidden path — a concurrent _deleted
// change that would otherwise always conflict (case 2 of §4.7) is
// forgiven for both.
func TestConflictDetectorHiddenPathExceptionIsSymmetric(t *testing.T) {
	ctx := context.Background()
	r1 := r(10, 1)   // concurrent writer's commit, not seen by base
	base := revision.NewVector(r(5, 1))
	commit := r(20, 1)

	concurrentDelete := nodestore.NewBuilder("2:p/hidden").
		PutRevisionEntry(nodestore.KeyDeleted, r1, "true").
		Build()

	var cd nodestore.ConflictDetector

	pureDelete := nodestore.NewUpdateOp("2:p/hidden").SetDeleted(commit, true)
	err := cd.Check(ctx, concurrentDelete, base, commit, pureDelete, true, &fakeLoader{}, nil)
	assert.NoError(t, err, "pure delete on a hidden path is exempt")

	pureAdd := nodestore.NewUpdateOp("2:p/hidden").SetDeleted(commit, false)
	err = cd.Check(ctx, concurrentDelete, base, commit, pureAdd, true, &fakeLoader{}, nil)
	assert.NoError(t, err, "pure add on a hidden path is exempt just like a pure delete")

	// Off a hidden path the same concurrent _deleted change always conflicts.
	err = cd.Check(ctx, concurrentDelete, base, commit, pureDelete, false, &fakeLoader{}, nil)
	assert.True(t, nodestore.ConflictDetected.Has(err))
}

// Any SET_MAP_ENTRY on _deleted conflicts outright, regardless of
// whether the document itself has a concurrent entry, unless the
// hidden-path exception applies.
func TestConflictDetectorSetMapEntryOnDeletedAlwaysConflicts(t *testing.T) {
	ctx := context.Background()
	base := revision.NewVector(r(5, 1))
	commit := r(20, 1)
	doc := nodestore.NewBuilder("1:/foo").Build()

	var cd nodestore.ConflictDetector
	op := nodestore.NewUpdateOp("1:/foo").SetDeleted(commit, true)
	err := cd.Check(ctx, doc, base, commit, op, false, &fakeLoader{}, nil)
	assert.True(t, nodestore.ConflictDetected.Has(err))
}

// A concurrent write to a user property the op also changes, newer
// than base and not the op's own commit, is a conflict.
func TestConflictDetectorConcurrentPropertyChange(t *testing.T) {
	ctx := context.Background()
	r1 := r(10, 1)
	base := revision.NewVector(r(5, 1))
	commit := r(20, 1)

	doc := nodestore.NewBuilder("1:/foo").
		PutRevisionEntry("q", r1, `"concurrent"`).
		Build()

	var cd nodestore.ConflictDetector
	op := nodestore.NewUpdateOp("1:/foo").SetMapEntry("q", commit, `"mine"`)
	err := cd.Check(ctx, doc, base, commit, op, false, &fakeLoader{}, nil)
	assert.True(t, nodestore.ConflictDetected.Has(err))
}

// A property change that base already reflects is not a conflict.
func TestConflictDetectorNoConflictWhenBaseIsCurrent(t *testing.T) {
	ctx := context.Background()
	r1 := r(5, 1)
	commit := r(20, 1)
	base := revision.NewVector(r(10, 1)) // already past r1

	doc := nodestore.NewBuilder("1:/foo").
		PutRevisionEntry("q", r1, `"old"`).
		Build()

	var cd nodestore.ConflictDetector
	op := nodestore.NewUpdateOp("1:/foo").SetMapEntry("q", commit, `"mine"`)
	err := cd.Check(ctx, doc, base, commit, op, false, &fakeLoader{}, nil)
	require.NoError(t, err)
}
