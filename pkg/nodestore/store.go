package nodestore

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/nodestore/pkg/commitvalue"
	"storj.io/nodestore/pkg/revision"
	"storj.io/nodestore/private/kvstore"
)

var mon = monkit.Package()

// RevisionContext is the collaborator a writer consults for the
// identity of its own commit attempt (§6.3).
type RevisionContext interface {
	HeadRevision() revision.Revision
	Branches() []*revision.Vector
	GetCommitValue(ctx context.Context, r revision.Revision, doc *Document) (commitvalue.Value, error)
	WriterID() int
	PendingModifications() []revision.Revision
}

// DocumentStore is the façade writers and readers use to find and
// update node documents, layered on the abstract kvstore.Store (§6.3).
// It applies one UpdateOp at a time with read-modify-CompareAndSwap,
// retrying on a concurrent writer's interleaved update, the same
// discipline the EQUALS precondition in an UpdateOp is built to ride
// on top of.
type DocumentStore struct {
	kv  kvstore.Store
	log *zap.Logger

	split    Splitter
	conflict ConflictDetector
	newest   NewestRevisionFinder
	vis      VisibilityEngine

	cache *cache
}

// NewDocumentStore builds a DocumentStore over kv.
func NewDocumentStore(kv kvstore.Store, log *zap.Logger) *DocumentStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentStore{
		kv:    kv,
		log:   log,
		cache: newCache(log),
	}
}

// Find returns the document stored at id, or (nil, nil) if absent.
func (s *DocumentStore) Find(ctx context.Context, id string) (doc *Document, err error) {
	defer mon.Task()(&ctx)(&err)

	if cached, ok := s.cache.getIfCached(id); ok {
		return cached, nil
	}

	raw, err := s.kv.Get(ctx, kvstore.Key(id))
	if err != nil {
		if kvstore.ErrKeyNotFound.Has(err) {
			return nil, nil
		}
		return nil, err
	}
	doc, err = FromString(string(raw))
	if err != nil {
		return nil, err
	}
	s.cache.put(id, doc)
	return doc, nil
}

// LoadPrevious implements PreviousLoader against this store. A
// missing previous document is not an error to this method's callers:
// per §7 it is logged once (rate-limited per id) and reported back as
// (nil, nil), which ValueMap and NewestRevisionFinder both treat as
// "this range is empty".
func (s *DocumentStore) LoadPrevious(ctx context.Context, id string) (*Document, error) {
	doc, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		s.cache.warnMissingPreviousOnce(id, MissingPreviousDocument.New("previous document %q not found", id))
		return nil, nil
	}
	return doc, nil
}

// InvalidateCache drops id from the read cache, per the §6.3
// DocumentStore.invalidateCache collaborator.
func (s *DocumentStore) InvalidateCache(id string) {
	s.cache.invalidate(id)
}

// FindAndUpdate applies op against the store, retrying the
// read-modify-CompareAndSwap cycle whenever a concurrent writer wins
// the race, and returns the resulting document.
func (s *DocumentStore) FindAndUpdate(ctx context.Context, op *UpdateOp) (doc *Document, err error) {
	defer mon.Task()(&ctx)(&err)

	key := kvstore.Key(op.ID)
	for {
		var oldRaw kvstore.Value
		existing, err := s.Find(ctx, op.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			oldRaw = kvstore.Value(existing.AsString())
		}

		updated, err := applyOp(existing, op)
		if err != nil {
			return nil, err
		}
		newRaw := kvstore.Value(updated.AsString())

		err = s.kv.CompareAndSwap(ctx, key, oldRaw, newRaw)
		if err == nil {
			s.cache.put(op.ID, updated)
			return updated, nil
		}
		if kvstore.ErrConflict.Has(err) {
			s.cache.invalidate(op.ID)
			continue
		}
		return nil, err
	}
}

// GetNodeAtRevision resolves every property of the node identified by
// path as of read-point R. It returns nil if no document exists for
// path or the node is deleted at R. It does not otherwise decide
// whether the node exists at R: a node none of whose property
// revisions is visible from R yields an empty, non-nil map.
func (s *DocumentStore) GetNodeAtRevision(ctx context.Context, ctxt RevisionContext, path string, R *revision.Vector) (map[string]string, error) {
	doc, err := s.Find(ctx, MainID(path))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	validCache := map[revision.Revision]commitvalue.Value{}
	getCV := func(ctx context.Context, r revision.Revision) (commitvalue.Value, error) {
		return ctxt.GetCommitValue(ctx, r, doc)
	}

	deleted, err := s.deletedAt(ctx, ctxt, doc, R, getCV, validCache)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, nil
	}

	revisions := doc.RevMap(KeyRevisions)
	prevIdx := doc.PreviousIndex()

	result := map[string]string{}
	for _, key := range doc.PropertyKeys() {
		local := doc.RevMap(key)

		// §4.5 local-map fast path: resolve against the property's own
		// local entries first, without touching any previous document,
		// and only fall back to the full merged ValueMap walk when
		// RequiresCompleteMapCheck says the local-only hit can't be
		// trusted (the local hit isn't the most recent committed local
		// revision, and some previous range could hold something
		// stably newer).
		entry, found, err := s.vis.LatestLocalValue(ctx, local, R, ctxt.WriterID(), getCV, validCache)
		if err != nil {
			return nil, err
		}
		if !found || RequiresCompleteMapCheck(entry, local, revisions, commitvalue.IsCommittedString, prevIdx) {
			vm := NewValueMap(doc, key, s, s.log).WithNoPropCache(s.cache)
			entry, found, err = s.vis.LatestValue(ctx, vm, R, ctxt.WriterID(), getCV, validCache)
			if err != nil {
				return nil, err
			}
		}
		if !found || entry.Value == "" {
			continue
		}
		result[UnescapeProperty(key)] = entry.Value
	}
	return result, nil
}

// Deleted reports whether the node at path is deleted as of read-point
// R (§12 supplement): it composes VisibilityEngine over the _deleted
// property exactly as GetNodeAtRevision does before resolving any
// other property, exposed standalone for callers that only need the
// existence check.
func (s *DocumentStore) Deleted(ctx context.Context, ctxt RevisionContext, path string, R *revision.Vector) (bool, error) {
	doc, err := s.Find(ctx, MainID(path))
	if err != nil {
		return false, err
	}
	if doc == nil {
		return true, nil
	}
	getCV := func(ctx context.Context, r revision.Revision) (commitvalue.Value, error) {
		return ctxt.GetCommitValue(ctx, r, doc)
	}
	return s.deletedAt(ctx, ctxt, doc, R, getCV, map[revision.Revision]commitvalue.Value{})
}

// deletedAt is the shared _deleted visibility check behind
// GetNodeAtRevision and Deleted.
func (s *DocumentStore) deletedAt(
	ctx context.Context,
	ctxt RevisionContext,
	doc *Document,
	R *revision.Vector,
	getCV CommitValueFunc,
	validCache map[revision.Revision]commitvalue.Value,
) (bool, error) {
	if !doc.DeletedOnce() {
		return false, nil
	}
	deletedVM := NewValueMap(doc, KeyDeleted, s, s.log).WithNoPropCache(s.cache)
	entry, found, err := s.vis.LatestValue(ctx, deletedVM, R, ctxt.WriterID(), getCV, validCache)
	if err != nil {
		return false, err
	}
	return found && entry.Value == "true", nil
}

// applyOp builds the document resulting from applying op atop
// existing (which may be nil, meaning the document does not yet
// exist). It checks every EQUALS precondition before applying any
// other change.
func applyOp(existing *Document, op *UpdateOp) (*Document, error) {
	for _, c := range op.Changes {
		if c.Type != OpEquals {
			continue
		}
		var current string
		if existing != nil {
			current, _ = existing.RevMap(c.Key).Get(c.Rev)
		}
		if current != c.Value {
			return nil, PreconditionFailed.New("key %q rev %s: expected %q, got %q", c.Key, c.Rev, c.Value, current)
		}
	}

	var b *Builder
	if existing != nil {
		b = CloneBuilder(existing)
	} else {
		b = NewBuilder(op.ID)
	}

	for _, c := range op.Changes {
		switch c.Type {
		case OpSet:
			b.SetScalar(c.Key, c.Scalar)
		case OpMax:
			var cur int64
			if existing != nil {
				cur = existing.IntScalar(c.Key)
			}
			next, _ := c.Scalar.(int64)
			if next > cur {
				cur = next
			}
			b.SetScalar(c.Key, cur)
		case OpSetMapEntry:
			switch c.Key {
			case KeyPrevious:
				rg, err := decodeRange(c.Rev, c.Value)
				if err != nil {
					return nil, err
				}
				b.SetPrevious(rg)
			case KeyStalePrev:
				height, err := strconv.Atoi(c.Value)
				if err != nil {
					return nil, MalformedDocument.New("bad stale-prev height %q: %v", c.Value, err)
				}
				b.SetStalePrevious(c.Rev, height)
			default:
				b.PutRevisionEntry(c.Key, c.Rev, c.Value)
			}
		case OpRemoveMapEntry, OpUnsetMapEntry:
			// UNSET_MAP_ENTRY is distinct from REMOVE_MAP_ENTRY only in
			// the ordering guarantee it gives concurrent commits
			// (§6.1); this store has no further reader that
			// distinguishes a tombstone from absence, so both drop the
			// entry the same way.
			switch c.Key {
			case KeyPrevious:
				b.RemovePrevious(c.Rev)
			case KeyStalePrev:
				b.RemoveStalePrevious(c.Rev)
			default:
				b.RemoveRevisionEntry(c.Key, c.Rev)
			}
		case OpEquals:
			// Precondition only, already checked above.
		}
	}

	return b.Build(), nil
}
