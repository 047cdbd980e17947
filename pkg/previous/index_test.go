package previous_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/nodestore/pkg/previous"
	"storj.io/nodestore/pkg/revision"
)

func r(ts int64) revision.Revision { return revision.New(ts, 0, 1) }

func TestIndexEmptyWhenNoPrevious(t *testing.T) {
	idx := previous.NewIndex(nil, nil)
	assert.True(t, idx.Empty())
	assert.Nil(t, idx.Values())
}

func TestIndexValuesDescending(t *testing.T) {
	prev := map[revision.Revision]previous.Range{
		r(100): {High: r(100), Low: r(50), Height: 0},
		r(200): {High: r(200), Low: r(101), Height: 0},
		r(300): {High: r(300), Low: r(201), Height: 0},
	}
	idx := previous.NewIndex(prev, nil)
	values := idx.Values()
	require.Len(t, values, 3)
	assert.Equal(t, int64(300), values[0].High.Timestamp)
	assert.Equal(t, int64(200), values[1].High.Timestamp)
	assert.Equal(t, int64(100), values[2].High.Timestamp)
}

func TestIndexStaleFiltered(t *testing.T) {
	prev := map[revision.Revision]previous.Range{
		r(100): {High: r(100), Low: r(50), Height: 0},
		r(200): {High: r(200), Low: r(101), Height: 0},
	}
	stale := map[revision.Revision]int{
		r(100): 0, // matches the height of that range: filtered (I4)
	}
	idx := previous.NewIndex(prev, stale)
	values := idx.Values()
	require.Len(t, values, 1)
	assert.Equal(t, int64(200), values[0].High.Timestamp)
}

func TestIndexStaleHeightMismatchNotFiltered(t *testing.T) {
	prev := map[revision.Revision]previous.Range{
		r(100): {High: r(100), Low: r(50), Height: 0},
	}
	stale := map[revision.Revision]int{
		r(100): 1, // height doesn't match: range stays visible
	}
	idx := previous.NewIndex(prev, stale)
	assert.Equal(t, 1, idx.Len())
}

func TestIndexFloorEntry(t *testing.T) {
	prev := map[revision.Revision]previous.Range{
		r(100): {High: r(100), Low: r(50), Height: 0},
		r(200): {High: r(200), Low: r(101), Height: 0},
	}
	idx := previous.NewIndex(prev, nil)

	got, ok := idx.FloorEntry(r(150))
	require.True(t, ok)
	assert.Equal(t, int64(100), got.High.Timestamp)

	got, ok = idx.FloorEntry(r(200))
	require.True(t, ok)
	assert.Equal(t, int64(200), got.High.Timestamp)

	_, ok = idx.FloorEntry(r(10))
	assert.False(t, ok)
}

func TestIndexHeadMap(t *testing.T) {
	prev := map[revision.Revision]previous.Range{
		r(100): {High: r(100), Low: r(50), Height: 0},
		r(200): {High: r(200), Low: r(101), Height: 0},
		r(300): {High: r(300), Low: r(201), Height: 0},
	}
	idx := previous.NewIndex(prev, nil)
	head := idx.HeadMap(r(100))
	require.Len(t, head, 2)
	assert.Equal(t, int64(300), head[0].High.Timestamp)
	assert.Equal(t, int64(200), head[1].High.Timestamp)
}

func TestRangeIncludes(t *testing.T) {
	rg := previous.Range{High: r(100), Low: r(50), Height: 0}
	assert.True(t, rg.Includes(r(75)))
	assert.True(t, rg.Includes(r(50)))
	assert.True(t, rg.Includes(r(100)))
	assert.False(t, rg.Includes(r(101)))
	assert.False(t, rg.Includes(r(49)))

	other := revision.New(75, 0, 2) // different writer
	assert.False(t, rg.Includes(other))
}
