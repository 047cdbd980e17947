package previous

import (
	"github.com/google/btree"

	"storj.io/nodestore/pkg/revision"
)

// degree is the btree branching factor; the index is expected to
// hold at most a handful of ranges per document (the splitter caps
// intermediate fan-out at 10, §6.5), so a small degree keeps the tree
// shallow without wasting memory.
const degree = 8

func less(a, b Range) bool {
	return revision.CompareStable(a.High, b.High) < 0
}

// Index is the descending, floor-queryable view over a document's
// _previous entries, with any range named in _stalePrev (at the
// matching height) already filtered out (I4).
type Index struct {
	tree *btree.BTreeG[Range]
}

// NewIndex builds an Index from a document's raw _previous map
// (keyed by High revision) and its _stalePrev map (keyed by the same
// High revision, valued by the height that must be considered
// stale). An Index built from an empty or nil previous map is empty,
// matching "empty when _previous is absent" (§4.2).
func NewIndex(previous map[revision.Revision]Range, stalePrev map[revision.Revision]int) *Index {
	tree := btree.NewG(degree, less)
	for high, rg := range previous {
		if staleHeight, ok := stalePrev[high]; ok && staleHeight == rg.Height {
			continue
		}
		tree.ReplaceOrInsert(rg)
	}
	return &Index{tree: tree}
}

// Empty reports whether the index holds no ranges.
func (idx *Index) Empty() bool {
	return idx == nil || idx.tree.Len() == 0
}

// Len returns the number of ranges in the index.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return idx.tree.Len()
}

// FloorEntry returns the range with the largest High <= r, if any.
func (idx *Index) FloorEntry(r revision.Revision) (Range, bool) {
	if idx.Empty() {
		return Range{}, false
	}
	var found Range
	ok := false
	idx.tree.DescendLessOrEqual(Range{High: r}, func(item Range) bool {
		found = item
		ok = true
		return false
	})
	return found, ok
}

// HeadMap returns all ranges whose High is strictly greater than r,
// in descending order by High (I3).
func (idx *Index) HeadMap(r revision.Revision) []Range {
	if idx.Empty() {
		return nil
	}
	var out []Range
	idx.tree.DescendGreaterThan(Range{High: r}, func(item Range) bool {
		out = append(out, item)
		return true
	})
	return out
}

// Values returns every range in the index, descending by High (I3).
func (idx *Index) Values() []Range {
	if idx.Empty() {
		return nil
	}
	out := make([]Range, 0, idx.tree.Len())
	idx.tree.Descend(func(item Range) bool {
		out = append(out, item)
		return true
	})
	return out
}

// RangeFor returns the range of the given height that covers r, if
// any.
func (idx *Index) RangeFor(r revision.Revision, height int) (Range, bool) {
	for _, rg := range idx.Values() {
		if rg.Height == height && rg.Includes(r) {
			return rg, true
		}
	}
	return Range{}, false
}
