package nodestore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/nodestore/pkg/nodestore"
	"storj.io/nodestore/pkg/previous"
	"storj.io/nodestore/pkg/revision"
)

func r(ts int64, writer int) revision.Revision { return revision.New(ts, 0, writer) }

func buildDoc(t *testing.T) *nodestore.Document {
	t.Helper()
	return nodestore.NewBuilder("1:/foo").
		SetScalar(nodestore.KeyPath, "/foo").
		SetScalar(nodestore.KeyModified, int64(100)).
		SetScalar(nodestore.KeyDeletedOnce, false).
		PutRevisionEntry(nodestore.KeyRevisions, r(10, 1), "c").
		PutRevisionEntry("q", r(10, 1), `"hello"`).
		SetPrevious(previous.Range{High: r(5, 1), Low: r(1, 1), Height: 0}).
		Build()
}

// P1: fromString(asString(d)) == d for any document satisfying I1-I7.
func TestRoundTrip(t *testing.T) {
	doc := buildDoc(t)
	s := doc.AsString()

	parsed, err := nodestore.FromString(s)
	require.NoError(t, err)

	assert.Equal(t, doc.ID(), parsed.ID())
	assert.Equal(t, doc.StringScalar(nodestore.KeyPath), parsed.StringScalar(nodestore.KeyPath))
	assert.Equal(t, doc.Modified(), parsed.Modified())
	assert.Equal(t, doc.RevMap("q").Entries(), parsed.RevMap("q").Entries())
	assert.Equal(t, doc.Previous(), parsed.Previous())
	assert.Equal(t, parsed.AsString(), doc.AsString())
}

func TestRoundTripWithStalePrevious(t *testing.T) {
	doc := nodestore.NewBuilder("1:/bar").
		SetPrevious(previous.Range{High: r(5, 1), Low: r(1, 1), Height: 0}).
		SetStalePrevious(r(5, 1), 0).
		Build()

	parsed, err := nodestore.FromString(doc.AsString())
	require.NoError(t, err)
	assert.Equal(t, doc.StalePrev(), parsed.StalePrev())
	// I4: the stale entry filters the range out of the effective index.
	assert.True(t, parsed.PreviousIndex().Empty())
}

func TestFromStringMalformed(t *testing.T) {
	_, err := nodestore.FromString("")
	assert.True(t, nodestore.MalformedDocument.Has(err))

	_, err = nodestore.FromString("1:/x\nm\tq\tnot-a-revision\tv\n")
	assert.Error(t, err)

	_, err = nodestore.FromString("1:/x\nzzz\tbad\n")
	assert.True(t, nodestore.MalformedDocument.Has(err))
}

// I1: a property key's map is never stored empty; removing its last
// entry drops the key entirely.
func TestRemoveLastEntryDropsKey(t *testing.T) {
	b := nodestore.NewBuilder("1:/foo").PutRevisionEntry("q", r(10, 1), `"x"`)
	b.RemoveRevisionEntry("q", r(10, 1))
	doc := b.Build()
	assert.False(t, doc.HasProperty("q"))
	assert.Equal(t, 0, doc.RevMap("q").Len())
}

func TestEscapeUnescapeProperty(t *testing.T) {
	assert.Equal(t, "foo", nodestore.EscapeProperty("foo"))
	assert.Equal(t, "__foo", nodestore.EscapeProperty("_foo"))
	assert.Equal(t, "_foo", nodestore.UnescapeProperty("__foo"))
	assert.Equal(t, "foo", nodestore.UnescapeProperty("foo"))
}

func TestIDsAndPaths(t *testing.T) {
	assert.Equal(t, "1:/foo", nodestore.MainID("/foo"))
	assert.Equal(t, "0:/", nodestore.MainID("/"))

	prevID := nodestore.PreviousID("/foo", r(100, 1), 0)
	assert.Equal(t, "3:p/foo/64-0-1/0", prevID)
	assert.True(t, nodestore.IsPreviousPath("p/foo/64-0-1/0"))

	mainPath, high, height, err := nodestore.ParsePreviousID(prevID)
	require.NoError(t, err)
	assert.Equal(t, "/foo", mainPath)
	assert.Equal(t, r(100, 1), high)
	assert.Equal(t, 0, height)
}

func TestCloneBuilderDoesNotMutateOriginal(t *testing.T) {
	doc := buildDoc(t)
	clone := nodestore.CloneBuilder(doc).
		PutRevisionEntry("q", r(20, 1), `"world"`).
		Build()

	assert.Equal(t, 1, doc.RevMap("q").Len())
	assert.Equal(t, 2, clone.RevMap("q").Len())
}
