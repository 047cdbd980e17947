// Package previous implements the Range type and the PreviousIndex
// that lazily exposes a main document's _previous entries (minus any
// filtered by _stalePrev) as a descending, floor-queryable index.
package previous

import "storj.io/nodestore/pkg/revision"

// Range identifies one previous (off-loaded) document: the closed
// interval [Low, High] of one writer's revisions it holds, and its
// height in the previous-document chain (0 for leaves, +1 per
// intermediate level).
type Range struct {
	High   revision.Revision
	Low    revision.Revision
	Height int
}

// Includes reports whether r falls inside rg: same writer_id as
// rg.High, and Low <= r <= High in stable order.
func (rg Range) Includes(r revision.Revision) bool {
	if r.Writer != rg.High.Writer {
		return false
	}
	return revision.CompareStable(rg.Low, r) <= 0 && revision.CompareStable(r, rg.High) <= 0
}
