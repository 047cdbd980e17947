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
	"storj.io/nodestore/private/kvstore/memstore"
)

// fakeRevisionContext resolves commit values by looking a revision up
// directly in the document passed to it, standing in for the
// cluster-wide commit log §6.3 abstracts away.
type fakeRevisionContext struct {
	writer int
}

func (f *fakeRevisionContext) HeadRevision() revision.Revision { return revision.Revision{} }
func (f *fakeRevisionContext) Branches() []*revision.Vector     { return nil }
func (f *fakeRevisionContext) WriterID() int                    { return f.writer }
func (f *fakeRevisionContext) PendingModifications() []revision.Revision { return nil }

func (f *fakeRevisionContext) GetCommitValue(ctx context.Context, r revision.Revision, doc *nodestore.Document) (commitvalue.Value, error) {
	v, ok := doc.RevMap(nodestore.KeyRevisions).Get(r)
	if !ok {
		return commitvalue.Value{Kind: commitvalue.Unknown}, nil
	}
	return commitvalue.Parse(v)
}

func newTestStore() *nodestore.DocumentStore {
	return nodestore.NewDocumentStore(memstore.New(), nil)
}

// S1, via the real store path: a freshly written, committed property
// is visible to a trunk read at that revision.
func TestStoreGetNodeAtRevisionTrunkCommitted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ctxt := &fakeRevisionContext{writer: 1}

	r1 := r(10, 1)
	op := nodestore.NewUpdateOp(nodestore.MainID("/foo")).
		Set(nodestore.KeyPath, "/foo").
		SetRevision(r1, commitvalue.TrunkValue).
		SetMapEntry("p", r1, `"hello"`)
	_, err := store.FindAndUpdate(ctx, op)
	require.NoError(t, err)

	got, err := store.GetNodeAtRevision(ctx, ctxt, "/foo", revision.NewVector(r1))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `"hello"`, got["p"])
}

func TestStoreGetNodeAtRevisionDeletedIsInvisible(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ctxt := &fakeRevisionContext{writer: 1}

	r1 := r(10, 1)
	r2 := r(20, 1)
	op := nodestore.NewUpdateOp(nodestore.MainID("/foo")).
		SetRevision(r1, commitvalue.TrunkValue).
		SetMapEntry("p", r1, `"hello"`).
		SetRevision(r2, commitvalue.TrunkValue).
		SetDeleted(r2, true)
	_, err := store.FindAndUpdate(ctx, op)
	require.NoError(t, err)

	got, err := store.GetNodeAtRevision(ctx, ctxt, "/foo", revision.NewVector(r2))
	require.NoError(t, err)
	assert.Nil(t, got)

	// still visible at the earlier revision, before the delete.
	got, err = store.GetNodeAtRevision(ctx, ctxt, "/foo", revision.NewVector(r1))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `"hello"`, got["p"])
}

// Regression: applying a SetPrevious/SetStalePrevious UpdateOp through
// the store's read-modify-CompareAndSwap path must land in the
// document's _previous/_stalePrev bookkeeping, not just as an opaque
// map entry under those keys — otherwise PreviousIndex never sees
// ranges written this way.
func TestStoreFindAndUpdateWiresPreviousAndStalePrev(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	high := r(100, 1)
	low := r(1, 1)
	id := nodestore.MainID("/foo")

	op := nodestore.NewUpdateOp(id).SetPrevious(previous.Range{High: high, Low: low, Height: 0})
	_, err := store.FindAndUpdate(ctx, op)
	require.NoError(t, err)

	doc, err := store.Find(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, 1, doc.PreviousIndex().Len())

	staleOp := nodestore.NewUpdateOp(id).SetStalePrevious(high, 0)
	_, err = store.FindAndUpdate(ctx, staleOp)
	require.NoError(t, err)

	doc, err = store.Find(ctx, id)
	require.NoError(t, err)
	assert.True(t, doc.PreviousIndex().Empty(), "I4: stale entry must filter the range out")

	removeOp := nodestore.NewUpdateOp(id).RemovePreviousRevision(high)
	_, err = store.FindAndUpdate(ctx, removeOp)
	require.NoError(t, err)

	doc, err = store.Find(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, doc.Previous())
	assert.Empty(t, doc.StalePrev())
}

// §4.5's local-map fast path: when the newest local entry is already
// the most recent committed one, GetNodeAtRevision never needs the
// full merged ValueMap walk, so a previous document it can't resolve
// (an unloadable range) must not surface as an error.
func TestStoreGetNodeAtRevisionFastPathSkipsUnresolvablePrevious(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ctxt := &fakeRevisionContext{writer: 1}

	path := "/foo"
	r1 := r(10, 1)
	op := nodestore.NewUpdateOp(nodestore.MainID(path)).
		Set(nodestore.KeyPath, path).
		SetRevision(r1, commitvalue.TrunkValue).
		SetMapEntry("p", r1, `"hello"`).
		SetPrevious(previous.Range{High: r(5, 1), Low: r(1, 1), Height: 0})
	_, err := store.FindAndUpdate(ctx, op)
	require.NoError(t, err)

	// nothing is ever stored at the derived previous document id, so
	// a fallback walk that tried to load it would hit the "missing
	// previous document" path and still succeed, masking the bug this
	// test is for. Rely instead on r1 being the newest local, trunk
	// committed revision: IsMostRecentCommitted must report true and
	// RequiresCompleteMapCheck must short-circuit to false before the
	// previous range is ever considered.
	got, err := store.GetNodeAtRevision(ctx, ctxt, path, revision.NewVector(r1))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `"hello"`, got["p"])
}

// P4 end-to-end: a stale local hit (not the most recent committed
// local revision) with a newer previous range forces the fallback to
// the full ValueMap walk, which finds the value a previous document
// holds instead of incorrectly returning the older local one.
func TestStoreGetNodeAtRevisionFallsBackToPreviousDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	ctxt := &fakeRevisionContext{writer: 1}

	path := "/foo"
	r2 := r(10, 1)  // older, committed, visible to R
	rMid := r(18, 1) // committed, visible to R, lives only in the previous document
	r3 := r(30, 1)  // newest local, committed, but not yet visible to R

	high := r(20, 1)
	op := nodestore.NewUpdateOp(nodestore.MainID(path)).
		Set(nodestore.KeyPath, path).
		SetRevision(r2, commitvalue.TrunkValue).
		SetMapEntry("p", r2, `"two"`).
		SetRevision(rMid, commitvalue.TrunkValue).
		SetRevision(r3, commitvalue.TrunkValue).
		SetMapEntry("p", r3, `"three"`).
		SetPrevious(previous.Range{High: high, Low: r(15, 1), Height: 0})
	_, err := store.FindAndUpdate(ctx, op)
	require.NoError(t, err)

	prevID := nodestore.PreviousID(path, high, 0)
	prevOp := nodestore.NewUpdateOp(prevID).SetMapEntry("p", rMid, `"mid"`)
	_, err = store.FindAndUpdate(ctx, prevOp)
	require.NoError(t, err)

	R := revision.NewVector(r(20, 1))
	got, err := store.GetNodeAtRevision(ctx, ctxt, path, R)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `"mid"`, got["p"], "the fast path's local-only hit (r2) must not win over the newer, visible previous entry")
}

func TestStoreFindAndUpdatePreconditionFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	id := nodestore.MainID("/foo")

	r1 := r(10, 1)
	_, err := store.FindAndUpdate(ctx, nodestore.NewUpdateOp(id).SetMapEntry("p", r1, `"a"`))
	require.NoError(t, err)

	_, err = store.FindAndUpdate(ctx, nodestore.NewUpdateOp(id).Equals("p", r1, `"wrong"`).SetMapEntry("p", r1, `"b"`))
	assert.True(t, nodestore.PreconditionFailed.Has(err))
}
