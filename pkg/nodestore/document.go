// Package nodestore implements the versioned node document: the
// per-node record of a multi-version, multi-writer hierarchical
// content store, together with the visibility, conflict-detection,
// and splitting logic built on top of it.
package nodestore

import (
	"sort"
	"strings"

	"storj.io/nodestore/pkg/previous"
	"storj.io/nodestore/pkg/revision"
)

// System keys, exhaustively enumerated per §6.2.
const (
	KeyModified     = "_modified"
	KeyRevisions    = "_revisions"
	KeyCommitRoot   = "_commitRoot"
	KeyDeleted      = "_deleted"
	KeyDeletedOnce  = "_deletedOnce"
	KeyLastRev      = "_lastRev"
	KeyChildren     = "_children"
	KeyPath         = "_path"
	KeyBin          = "_bin"
	KeyPrevious     = "_prev"
	KeyStalePrev    = "_stalePrev"
	KeyBranchCommit = "_bc"
	KeySweepRev     = "_sweepRev"
	KeySdType       = "_sdType"
	KeySdMaxRevTime = "_sdMaxRevTime"
	KeyCollisions   = "_collisions"
)

// ModifiedResolutionSeconds is the 5-second bucket _modified is
// floored to (I5, §6.5).
const ModifiedResolutionSeconds = 5

// HasBinaryValue is the sentinel value stored under _bin (§6.5).
const HasBinaryValue = 1

// MinID and MaxID bound the id keyspace (§6.5).
const (
	MinID = "0000000"
	MaxID = ";"
)

// RevEntry is one entry of a descending revision-keyed map.
type RevEntry struct {
	Rev   revision.Revision
	Value string
}

// RevMap is a revision-keyed map, always iterated/serialized in
// descending stable order (§3.4, §4.1). It is a thin sorted slice,
// not an insertion-order map, because iteration order is contractual.
type RevMap struct {
	entries []RevEntry
}

// NewRevMap builds a RevMap from entries, sorting them descending and
// deduplicating by keeping the entry that appears last in insertion
// order for any repeated revision (matching "last write wins" for a
// builder fed from a raw parsed map).
func NewRevMap(entries ...RevEntry) *RevMap {
	rm := &RevMap{}
	for _, e := range entries {
		rm.put(e.Rev, e.Value)
	}
	return rm
}

func (rm *RevMap) put(r revision.Revision, value string) {
	for i, e := range rm.entries {
		if e.Rev == r {
			rm.entries[i].Value = value
			return
		}
	}
	rm.entries = append(rm.entries, RevEntry{Rev: r, Value: value})
	sort.Slice(rm.entries, func(i, j int) bool {
		return revision.CompareStable(rm.entries[i].Rev, rm.entries[j].Rev) > 0
	})
}

// Get returns the value stored at r, if any.
func (rm *RevMap) Get(r revision.Revision) (string, bool) {
	if rm == nil {
		return "", false
	}
	for _, e := range rm.entries {
		if e.Rev == r {
			return e.Value, true
		}
	}
	return "", false
}

// Len returns the number of entries.
func (rm *RevMap) Len() int {
	if rm == nil {
		return 0
	}
	return len(rm.entries)
}

// Entries returns the map's entries, newest-first (I1-consistent:
// callers must never observe a RevMap with zero entries as a stored
// property; that invariant is enforced by the document layer, not
// here).
func (rm *RevMap) Entries() []RevEntry {
	if rm == nil {
		return nil
	}
	out := make([]RevEntry, len(rm.entries))
	copy(out, rm.entries)
	return out
}

// Document is the sealed, in-memory view of one NodeDocument: a main
// document, or one of its previous documents. It is immutable after
// construction (§5's mutation discipline): callers that want to
// change it build and apply an UpdateOp through a Store, then
// discard this instance.
type Document struct {
	id       string
	sealed   bool
	scalars  map[string]any
	revMaps  map[string]*RevMap
	previous map[revision.Revision]previous.Range
	stale    map[revision.Revision]int

	// lastCheckTime lets a reader record that it has independently
	// confirmed this document is consistent (§5); it feeds the
	// stale-eviction heuristic in the store layer and is not part of
	// the document's serialized form.
	lastCheckTime int64
}

// Builder constructs a Document. It is not safe for concurrent use;
// build on one goroutine, then Build() to seal it.
type Builder struct {
	doc *Document
}

// NewBuilder starts building a document with the given id.
func NewBuilder(id string) *Builder {
	return &Builder{doc: &Document{
		id:       id,
		scalars:  make(map[string]any),
		revMaps:  make(map[string]*RevMap),
		previous: make(map[revision.Revision]previous.Range),
		stale:    make(map[revision.Revision]int),
	}}
}

// SetScalar sets a system scalar field (bool, int64 or string).
func (b *Builder) SetScalar(key string, value any) *Builder {
	b.doc.scalars[key] = value
	return b
}

// PutRevisionEntry adds/replaces one entry of a revision-keyed map
// (system or property).
func (b *Builder) PutRevisionEntry(key string, r revision.Revision, value string) *Builder {
	rm, ok := b.doc.revMaps[key]
	if !ok {
		rm = &RevMap{}
		b.doc.revMaps[key] = rm
	}
	rm.put(r, value)
	return b
}

// SetPrevious adds a _previous entry.
func (b *Builder) SetPrevious(rg previous.Range) *Builder {
	b.doc.previous[rg.High] = rg
	return b
}

// SetStalePrevious marks the previous entry at high as stale at the
// given height.
func (b *Builder) SetStalePrevious(high revision.Revision, height int) *Builder {
	b.doc.stale[high] = height
	return b
}

// RemoveRevisionEntry deletes one entry of a revision-keyed map,
// dropping the map entirely once it becomes empty (I1: a property key
// is never stored with an empty map).
func (b *Builder) RemoveRevisionEntry(key string, r revision.Revision) *Builder {
	rm, ok := b.doc.revMaps[key]
	if !ok {
		return b
	}
	out := rm.entries[:0]
	for _, e := range rm.entries {
		if e.Rev != r {
			out = append(out, e)
		}
	}
	rm.entries = out
	if len(rm.entries) == 0 {
		delete(b.doc.revMaps, key)
	}
	return b
}

// RemovePrevious deletes the _previous (and any _stalePrev) entry
// keyed by high.
func (b *Builder) RemovePrevious(high revision.Revision) *Builder {
	delete(b.doc.previous, high)
	delete(b.doc.stale, high)
	return b
}

// RemoveStalePrevious removes only the _stalePrev marker at high,
// leaving the _previous range itself untouched.
func (b *Builder) RemoveStalePrevious(high revision.Revision) *Builder {
	delete(b.doc.stale, high)
	return b
}

// Build seals and returns the document.
func (b *Builder) Build() *Document {
	b.doc.sealed = true
	return b.doc
}

// CloneBuilder returns an unsealed Builder pre-populated with d's
// fields, letting a store layer apply an UpdateOp's changes atop an
// existing document without mutating it (§5's "invalidated, not
// mutated" discipline: d itself is left untouched).
func CloneBuilder(d *Document) *Builder {
	b := NewBuilder(d.id)
	for k, v := range d.scalars {
		b.doc.scalars[k] = v
	}
	for k, rm := range d.revMaps {
		clone := &RevMap{entries: append([]RevEntry(nil), rm.entries...)}
		b.doc.revMaps[k] = clone
	}
	for high, rg := range d.previous {
		b.doc.previous[high] = rg
	}
	for high, height := range d.stale {
		b.doc.stale[high] = height
	}
	return b
}

// ID returns the document's store id.
func (d *Document) ID() string {
	return d.id
}

// Sealed reports whether the document is read-only (always true for
// a Document obtained from Builder.Build or FromString; the type has
// no path back to an unsealed state).
func (d *Document) Sealed() bool {
	return d.sealed
}

// Path returns the node path this document identifies: the _path
// scalar if present, otherwise derived from the id (§3.4 I7, §6.4).
func (d *Document) Path() string {
	if p, ok := d.scalars[KeyPath].(string); ok && p != "" {
		return p
	}
	colon := strings.IndexByte(d.id, ':')
	if colon < 0 {
		return d.id
	}
	return d.id[colon+1:]
}

// IsPrevious reports whether this is a previous (off-loaded) document
// rather than a main document (I7).
func (d *Document) IsPrevious() bool {
	return IsPreviousPath(d.Path())
}

// Scalar returns a raw system scalar value.
func (d *Document) Scalar(key string) (any, bool) {
	v, ok := d.scalars[key]
	return v, ok
}

// BoolScalar returns a bool system scalar, defaulting to false.
func (d *Document) BoolScalar(key string) bool {
	v, _ := d.scalars[key].(bool)
	return v
}

// IntScalar returns an int64 system scalar, defaulting to 0.
func (d *Document) IntScalar(key string) int64 {
	switch v := d.scalars[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// StringScalar returns a string system scalar, defaulting to "".
func (d *Document) StringScalar(key string) string {
	v, _ := d.scalars[key].(string)
	return v
}

// HasChildren reports the _children flag (§12 supplement).
func (d *Document) HasChildren() bool {
	return d.BoolScalar(KeyChildren)
}

// HasBinary reports whether _bin is set to HasBinaryValue.
func (d *Document) HasBinary() bool {
	return d.IntScalar(KeyBin) == HasBinaryValue
}

// DeletedOnce reports the _deletedOnce scalar.
func (d *Document) DeletedOnce() bool {
	return d.BoolScalar(KeyDeletedOnce)
}

// Modified returns the _modified scalar (floor(ts_ms/1000/5)*5, I5).
func (d *Document) Modified() int64 {
	return d.IntScalar(KeyModified)
}

// RevMap returns the revision-keyed map stored at key (property or
// system), or an empty map if absent.
func (d *Document) RevMap(key string) *RevMap {
	rm, ok := d.revMaps[key]
	if !ok {
		return &RevMap{}
	}
	return rm
}

// HasProperty reports whether a property map is present and
// non-empty, per I1.
func (d *Document) HasProperty(key string) bool {
	return d.RevMap(key).Len() > 0
}

// PropertyKeys returns every property key present on the document
// (system keys excluded; escaped user properties starting with "__"
// included).
func (d *Document) PropertyKeys() []string {
	var keys []string
	for k := range d.revMaps {
		if !strings.HasPrefix(k, "_") || strings.HasPrefix(k, "__") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// RevMapKeys returns every revision-keyed map key present on the
// document, system and property alike, sorted.
func (d *Document) RevMapKeys() []string {
	keys := make([]string, 0, len(d.revMaps))
	for k := range d.revMaps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Previous returns the document's raw _previous entries.
func (d *Document) Previous() map[revision.Revision]previous.Range {
	return d.previous
}

// StalePrev returns the document's raw _stalePrev entries.
func (d *Document) StalePrev() map[revision.Revision]int {
	return d.stale
}

// PreviousIndex builds the effective (stale-filtered) PreviousIndex
// for this document (§4.2).
func (d *Document) PreviousIndex() *previous.Index {
	return previous.NewIndex(d.previous, d.stale)
}

// LastCheckTime returns the last time a reader confirmed consistency
// of this instance (§5); zero if never set.
func (d *Document) LastCheckTime() int64 {
	return d.lastCheckTime
}

// WithLastCheckTime returns a shallow copy of d with lastCheckTime
// updated; it does not mutate d (documents are immutable once
// sealed), matching "the in-memory instance is invalidated, not
// mutated" for the update path, and applying the same discipline
// here for this read-side bookkeeping field.
func (d *Document) WithLastCheckTime(ts int64) *Document {
	clone := *d
	clone.lastCheckTime = ts
	return &clone
}

// EscapeProperty maps a user property name to its storage key,
// avoiding collision with the system keys enumerated above, all of
// which start with a single underscore: a user property that itself
// starts with an underscore gets a second one prepended.
func EscapeProperty(name string) string {
	if strings.HasPrefix(name, "_") {
		return "_" + name
	}
	return name
}

// UnescapeProperty is the inverse of EscapeProperty.
func UnescapeProperty(key string) string {
	if strings.HasPrefix(key, "__") {
		return key[1:]
	}
	return key
}
