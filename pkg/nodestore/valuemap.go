package nodestore

import (
	"context"

	"go.uber.org/zap"

	"storj.io/nodestore/pkg/revision"
)

// PreviousLoader loads a previous document by id, for the ValueMap
// merge walk. DocumentStore implements this against its backing
// kvstore.Store; tests can fake it directly. A (nil, nil) result
// means the previous document doesn't exist and the caller should
// treat its range as empty (§7); the loader is responsible for any
// logging that decision warrants.
type PreviousLoader interface {
	LoadPrevious(ctx context.Context, id string) (*Document, error)
}

// ValueMap is the lazy virtual merge of one property's entries across
// a main document and whatever previous documents its _prev ranges
// point at (§4.2). It never materializes the full merged history:
// Iterate pulls one entry at a time and only loads a previous
// document when the walk actually reaches its range.
type ValueMap struct {
	doc    *Document
	key    string
	loader PreviousLoader
	log    *zap.Logger

	// noProp is the optional process-wide prev-no-property cache (§5):
	// key = property@previous-doc-id, write-through only after a
	// negative scan of a previous document completes. Nil means no
	// cache is available (e.g. in tests that fake PreviousLoader
	// directly); the merge walk still works, just without the
	// short-circuit.
	noProp *cache
}

// NewValueMap builds the merge view of property key on doc, resolving
// previous ranges through loader. log may be nil; a missing previous
// document is otherwise silently treated as an empty range (§7).
func NewValueMap(doc *Document, key string, loader PreviousLoader, log *zap.Logger) *ValueMap {
	if log == nil {
		log = zap.NewNop()
	}
	return &ValueMap{doc: doc, key: key, loader: loader, log: log}
}

// WithNoPropCache attaches the prev-no-property cache DocumentStore
// maintains, letting the merge walk skip previous documents already
// proven empty for this property by an earlier completed scan.
func (vm *ValueMap) WithNoPropCache(c *cache) *ValueMap {
	vm.noProp = c
	return vm
}

// prevCursor lazily loads previous documents' entries for key, one
// range at a time, exposing them as a flat descending sequence.
type prevCursor struct {
	vm      *ValueMap
	ranges  []RevEntryRange
	ri      int
	entries []RevEntry
	ei      int
}

// RevEntryRange is one previous range (high, low, height); together
// with the main document's path it lets the cursor derive the
// previous document's id when it loads.
type RevEntryRange struct {
	High   revision.Revision
	Low    revision.Revision
	Height int
}

func newPrevCursor(vm *ValueMap) *prevCursor {
	var ranges []RevEntryRange
	for _, rg := range vm.doc.PreviousIndex().Values() {
		ranges = append(ranges, RevEntryRange{High: rg.High, Low: rg.Low, Height: rg.Height})
	}
	return &prevCursor{vm: vm, ranges: ranges}
}

// peek returns the next not-yet-consumed previous entry without
// advancing, loading previous documents as needed.
func (c *prevCursor) peek(ctx context.Context) (RevEntry, bool, error) {
	for c.ei >= len(c.entries) {
		if c.ri >= len(c.ranges) {
			return RevEntry{}, false, nil
		}
		rg := c.ranges[c.ri]
		c.ri++

		id := PreviousID(c.vm.doc.Path(), rg.High, rg.Height)
		if c.vm.noProp != nil && c.vm.noProp.hasNoProperty(c.vm.key, id) {
			c.entries = nil
			c.ei = 0
			continue
		}

		prevDoc, err := c.vm.loader.LoadPrevious(ctx, id)
		if err != nil {
			return RevEntry{}, false, err
		}
		if prevDoc == nil {
			c.entries = nil
			c.ei = 0
			continue
		}
		entries := prevDoc.RevMap(c.vm.key).Entries()
		if len(entries) == 0 && c.vm.noProp != nil {
			c.vm.noProp.markNoProperty(c.vm.key, id)
		}
		c.entries = entries
		c.ei = 0
	}
	return c.entries[c.ei], true, nil
}

func (c *prevCursor) advance() {
	c.ei++
}

// Iterate walks the merged property history in descending stable
// order, calling visit for each entry. visit returns false to stop
// the walk early (e.g. once a caller's visibility check is satisfied)
// without loading any further previous documents.
func (vm *ValueMap) Iterate(ctx context.Context, visit func(RevEntry) (bool, error)) error {
	local := vm.doc.RevMap(vm.key).Entries()
	li := 0
	cursor := newPrevCursor(vm)

	for {
		haveLocal := li < len(local)

		prevEntry, havePrev, err := cursor.peek(ctx)
		if err != nil {
			return err
		}

		if !haveLocal && !havePrev {
			return nil
		}

		var chosen RevEntry
		fromLocal := false
		switch {
		case haveLocal && havePrev:
			if revision.CompareStable(local[li].Rev, prevEntry.Rev) >= 0 {
				chosen, fromLocal = local[li], true
			} else {
				chosen = prevEntry
			}
		case haveLocal:
			chosen, fromLocal = local[li], true
		default:
			chosen = prevEntry
		}

		cont, err := visit(chosen)
		if err != nil {
			return err
		}
		if fromLocal {
			li++
		} else {
			cursor.advance()
		}
		if !cont {
			return nil
		}
	}
}

// FirstCommitted returns the newest entry of the merged history whose
// value IsCommitted, stopping the walk as soon as one is found.
func (vm *ValueMap) FirstCommitted(ctx context.Context, isCommitted func(value string) bool) (RevEntry, bool, error) {
	var found RevEntry
	ok := false
	err := vm.Iterate(ctx, func(e RevEntry) (bool, error) {
		if isCommitted(e.Value) {
			found, ok = e, true
			return false, nil
		}
		return true, nil
	})
	return found, ok, err
}

// All materializes the full merged history. Prefer Iterate for
// anything that can stop early; this is for tests and tooling.
func (vm *ValueMap) All(ctx context.Context) ([]RevEntry, error) {
	var out []RevEntry
	err := vm.Iterate(ctx, func(e RevEntry) (bool, error) {
		out = append(out, e)
		return true, nil
	})
	return out, err
}
