package nodestore

import (
	"context"
	"sort"

	"storj.io/nodestore/pkg/commitvalue"
	"storj.io/nodestore/pkg/previous"
	"storj.io/nodestore/pkg/revision"
)

// SplitType is the _sdType numeric taxonomy (§4.8). The deprecated
// codes are never emitted by Splitter but must still decode, since
// existing previous documents carry them.
type SplitType int64

const (
	SDNone            SplitType = -1
	SDDefault         SplitType = 10
	SDDefaultNoChild  SplitType = 20 // deprecated, read-only
	SDPropCommitOnly  SplitType = 30 // deprecated, read-only
	SDIntermediate    SplitType = 40
	SDDefaultLeaf     SplitType = 50
	SDCommitRootOnly  SplitType = 60
	SDDefaultNoBranch SplitType = 70
)

func (t SplitType) valid() bool {
	switch t {
	case SDNone, SDDefault, SDDefaultNoChild, SDPropCommitOnly, SDIntermediate, SDDefaultLeaf, SDCommitRootOnly, SDDefaultNoBranch:
		return true
	default:
		return false
	}
}

// ParseSplitType decodes a stored _sdType value, per §7 failing fast
// on any code outside the known taxonomy.
func ParseSplitType(n int64) (SplitType, error) {
	t := SplitType(n)
	if !t.valid() {
		return 0, MalformedSplitType.New("unknown split type code %d", n)
	}
	return t, nil
}

// checkSplitTypeConsistency enforces §7's policy that a decoded
// _sdType must match what the document's actual shape implies. A code
// outside the known taxonomy is MalformedSplitType (ParseSplitType's
// job); a code that decodes fine but contradicts the document's shape
// — a leaf/commit-root-only document missing its _sdMaxRevTime bound,
// or an intermediate document that also carries property data — is
// InconsistentSplitType, and fails fast rather than being silently
// accepted.
func checkSplitTypeConsistency(doc *Document) error {
	if _, present := doc.Scalar(KeySdType); !present {
		return nil
	}
	t, err := ParseSplitType(doc.IntScalar(KeySdType))
	if err != nil {
		return err
	}

	switch t {
	case SDDefaultLeaf, SDCommitRootOnly:
		if _, ok := doc.Scalar(KeySdMaxRevTime); !ok {
			return InconsistentSplitType.New("split type %d on %q requires _sdMaxRevTime", t, doc.ID())
		}
	case SDIntermediate:
		if len(doc.PropertyKeys()) > 0 {
			return InconsistentSplitType.New("intermediate split type on %q must not carry property data", doc.ID())
		}
		if _, ok := doc.Scalar(KeySdMaxRevTime); ok {
			return InconsistentSplitType.New("intermediate split type on %q must not carry _sdMaxRevTime", doc.ID())
		}
	}
	return nil
}

const (
	// SplitRevCountThreshold triggers a split once any revision map
	// reaches this many entries (§6.5).
	SplitRevCountThreshold = 100
	// SplitForcedSizeBytes forces a split regardless of revision
	// count once the serialised document reaches this size (§6.5).
	SplitForcedSizeBytes = 1048576
	// SplitCandidateBytes gates actually emitting a split's
	// operations: below this size a triggered split is recorded but
	// not emitted (§6.5, §4.8).
	SplitCandidateBytes = 8192
	// IntermediateFanout is the number of same-height previous
	// documents that get folded under one intermediate (§6.5).
	IntermediateFanout = 10
)

// Splitter decides when a document has grown too large and emits the
// operations that move its older history into previous documents
// (§4.8). It carries no state of its own.
type Splitter struct{}

// Result reports what MaybeSplit or MaybeCreateIntermediate decided,
// including the dry-run case where a split was triggered but gated
// by the candidate-bytes threshold (§12 supplement: operators can
// inspect why a split did or didn't happen without re-deriving it).
type Result struct {
	Triggered  bool
	Gated      bool
	Reason     string // "rev-count", "size-forced", "intermediate-fanout" (MaybeCreateIntermediate), or "" if untriggered
	LocalOps   *UpdateOp
	PreviousID string
	Range      previous.Range
	// Previous is the new previous document to store under
	// PreviousID, alongside applying LocalOps to doc. Nil when Gated
	// or untriggered.
	Previous *Document
}

// MaybeSplit evaluates doc against the rev-count and forced-size
// triggers and, if warranted and past the candidate-bytes gate,
// builds the operation set that offloads its older history into one
// new leaf previous document (S5).
func (Splitter) MaybeSplit(ctx context.Context, doc *Document) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	size := len(doc.AsString())
	forced := size >= SplitForcedSizeBytes

	revisions := doc.RevMap(KeyRevisions)

	// keep is the number of entries, counting from the newest, that
	// must stay resident locally: everything down through the most
	// recent committed entry (I2's "at least one committed revision
	// remains locally" anchor). A map with no committed entry at all
	// has nothing safe to move yet, so keep spans the whole map.
	type eligible struct {
		key     string
		entries []RevEntry
		keep    int
	}
	var candidates []eligible
	for _, key := range doc.RevMapKeys() {
		rm := doc.RevMap(key)
		if rm.Len() >= SplitRevCountThreshold || forced {
			entries := rm.Entries()
			keep := len(entries)
			if idx, ok := firstCommittedIndex(entries, revisions); ok {
				keep = idx + 1
			}
			candidates = append(candidates, eligible{key: key, entries: entries, keep: keep})
		}
	}

	if len(candidates) == 0 {
		return Result{Triggered: false}, nil
	}

	reason := "rev-count"
	if forced {
		reason = "size-forced"
	}

	if size < SplitCandidateBytes {
		return Result{Triggered: true, Gated: true, Reason: reason}, nil
	}

	var boundary revision.Revision
	haveBoundary := false
	for _, c := range candidates {
		if c.keep >= len(c.entries) {
			continue // no committed anchor to split off of yet
		}
		anchor := c.entries[c.keep-1].Rev
		if !haveBoundary || revision.CompareStable(anchor, boundary) > 0 {
			boundary, haveBoundary = anchor, true
		}
	}
	if !haveBoundary {
		return Result{Triggered: true, Gated: true, Reason: reason}, nil
	}

	var low revision.Revision
	haveLow := false

	prevBuilder := NewBuilder(PreviousID(doc.Path(), boundary, 0))
	localOps := NewUpdateOp(doc.ID())

	for _, c := range candidates {
		if c.keep >= len(c.entries) {
			continue
		}
		// I2: the most recent committed entry of each map stays
		// resident locally, duplicated into the previous document too
		// so it anchors the range's high revision there as well.
		anchor := c.entries[c.keep-1]
		prevBuilder.PutRevisionEntry(c.key, anchor.Rev, anchor.Value)

		for _, e := range c.entries[c.keep:] {
			prevBuilder.PutRevisionEntry(c.key, e.Rev, e.Value)
			if !haveLow || revision.CompareStable(e.Rev, low) < 0 {
				low, haveLow = e.Rev, true
			}
			localOps.RemoveMapEntry(c.key, e.Rev)
		}
	}

	prevBuilder.SetScalar(KeySdType, int64(SDDefaultLeaf))
	prevBuilder.SetScalar(KeySdMaxRevTime, boundary.Timestamp)
	prevDoc := prevBuilder.Build()

	rg := previous.Range{High: boundary, Low: low, Height: 0}
	localOps.SetPrevious(rg)

	return Result{
		Triggered:  true,
		Gated:      false,
		Reason:     reason,
		LocalOps:   localOps,
		PreviousID: prevDoc.ID(),
		Range:      rg,
		Previous:   prevDoc,
	}, nil
}

// firstCommittedIndex returns the index, walking entries newest-first,
// of the first one whose revision has a committed value in revisions
// (the document's local _revisions map). entries not present in
// revisions at all are treated as uncommitted.
func firstCommittedIndex(entries []RevEntry, revisions *RevMap) (int, bool) {
	for i, e := range entries {
		if v, ok := revisions.Get(e.Rev); ok && commitvalue.IsCommittedString(v) {
			return i, true
		}
	}
	return 0, false
}

// MaybeCreateIntermediate checks whether doc has accumulated
// IntermediateFanout previous documents at height, and if so folds
// them under one new intermediate previous document at height+1. The
// intermediate holds no revision data of its own, only further
// _previous pointers (§4.8).
func (Splitter) MaybeCreateIntermediate(doc *Document, height int) (Result, bool) {
	var matched []previous.Range
	for _, rg := range doc.Previous() {
		if rg.Height == height {
			matched = append(matched, rg)
		}
	}
	if len(matched) < IntermediateFanout {
		return Result{}, false
	}

	sort.Slice(matched, func(i, j int) bool {
		return revision.CompareStable(matched[i].High, matched[j].High) > 0
	})

	high := matched[0].High
	low := matched[0].Low
	for _, rg := range matched[1:] {
		if revision.CompareStable(rg.High, high) > 0 {
			high = rg.High
		}
		if revision.CompareStable(rg.Low, low) < 0 {
			low = rg.Low
		}
	}

	intermediate := previous.Range{High: high, Low: low, Height: height + 1}

	b := NewBuilder(PreviousID(doc.Path(), high, height+1))
	for _, rg := range matched {
		b.SetPrevious(rg)
	}
	b.SetScalar(KeySdType, int64(SDIntermediate))
	intermediateDoc := b.Build()

	// The folded ranges are removed before the intermediate is added:
	// the intermediate shares its high with the newest folded range,
	// and _previous is keyed by high.
	localOps := NewUpdateOp(doc.ID())
	for _, rg := range matched {
		localOps.RemovePreviousRange(rg)
	}
	localOps.SetPrevious(intermediate)

	return Result{
		Triggered:  true,
		Reason:     "intermediate-fanout",
		LocalOps:   localOps,
		PreviousID: intermediateDoc.ID(),
		Range:      intermediate,
		Previous:   intermediateDoc,
	}, true
}
