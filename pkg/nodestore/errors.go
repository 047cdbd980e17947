package nodestore

import "github.com/zeebo/errs"

// Error classes for the node document layer, per §7's error policy.
// Each is its own errs.Class so callers can test kind with .Has(err)
// the way teacher code distinguishes its own subsystem error classes.
var (
	// MalformedDocument is a parse error on a document's wire form.
	MalformedDocument = errs.Class("malformed document")

	// MalformedSplitType is returned when an _sdType value doesn't
	// decode to one of the known numeric codes (not the same thing
	// as InconsistentSplitType, which is a structural check against
	// an already-decoded type).
	MalformedSplitType = errs.Class("malformed split type")

	// InconsistentSplitType means a decoded _sdType does not match
	// what the document's shape implies (e.g. a leaf document
	// without an _sdMaxRevTime). Per §7 this fails fast; it is never
	// silently recovered from.
	InconsistentSplitType = errs.Class("inconsistent split type")

	// ConflictDetected is the expected outcome of ConflictDetector
	// finding a concurrent, incompatible change. Callers retry or
	// abort the transaction; the core never retries internally.
	ConflictDetected = errs.Class("conflict detected")

	// PreconditionFailed means an UpdateOp's EQUALS change did not
	// match the document's current state; the caller should treat
	// this the same way as a conflicting commit and retry or abort.
	PreconditionFailed = errs.Class("update precondition failed")

	// MissingPreviousDocument means a _prev entry pointed at a
	// document the store no longer has. Per §7 this is never
	// propagated to read-path callers; it is logged (rate-limited)
	// and the affected subtree is treated as empty.
	MissingPreviousDocument = errs.Class("missing previous document")
)
