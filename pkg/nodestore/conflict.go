package nodestore

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"storj.io/nodestore/pkg/revision"
)

// ConflictDetector is the per-update pre-commit check against
// concurrent writers (§4.7). Like VisibilityEngine it carries no
// state of its own.
type ConflictDetector struct{}

// Check runs the three-part conflict test of §4.7 for an op being
// committed at commit against base. hiddenPath is the caller's
// determination of whether doc lives on a hidden path (that
// classification is external knowledge, not derivable from the
// document itself); it gates the concurrent-add-remove exception
// together with op being a pure add or pure delete.
func (ConflictDetector) Check(
	ctx context.Context,
	doc *Document,
	base *revision.Vector,
	commit revision.Revision,
	op *UpdateOp,
	hiddenPath bool,
	loader PreviousLoader,
	log *zap.Logger,
) error {
	exempt := hiddenPath && isPureAddOrDelete(op)

	deleted := doc.RevMap(KeyDeleted)
	for _, e := range deleted.Entries() {
		if e.Rev == commit {
			continue
		}
		if !base.IsNewerThan(e.Rev) && !exempt {
			return ConflictDetected.New("concurrent _deleted change at %s", e.Rev)
		}
	}

	for _, c := range op.Changes {
		if c.Type == OpSetMapEntry && c.Key == KeyDeleted && !exempt {
			return ConflictDetected.New("SET_MAP_ENTRY on _deleted always conflicts")
		}
	}

	for _, key := range changedPropertyKeys(op) {
		vm := NewValueMap(doc, key, loader, log)
		conflict, err := propertyHasConcurrentChange(ctx, vm, base, commit)
		if err != nil {
			return err
		}
		if conflict {
			return ConflictDetected.New("concurrent change to property %q", key)
		}
	}

	return nil
}

// isPureAddOrDelete reports whether op's only map-level change is to
// _deleted, i.e. it neither reads nor writes any user property.
func isPureAddOrDelete(op *UpdateOp) bool {
	for _, c := range op.Changes {
		if !strings.HasPrefix(c.Key, "_") {
			return false
		}
	}
	touchesDeleted := false
	for _, c := range op.Changes {
		if isMapChange(c.Type) {
			if c.Key != KeyDeleted {
				return false
			}
			touchesDeleted = true
		}
	}
	return touchesDeleted
}

func isMapChange(t OpType) bool {
	switch t {
	case OpSetMapEntry, OpRemoveMapEntry, OpUnsetMapEntry:
		return true
	default:
		return false
	}
}

func changedPropertyKeys(op *UpdateOp) []string {
	seen := map[string]bool{}
	var keys []string
	for _, c := range op.Changes {
		isProperty := !strings.HasPrefix(c.Key, "_") || strings.HasPrefix(c.Key, "__")
		if isMapChange(c.Type) && isProperty && !seen[c.Key] {
			seen[c.Key] = true
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// propertyHasConcurrentChange walks the property's ValueMap
// newest-first and stops at the first revision that is both newer
// than base and not the commit itself (§4.7.3).
func propertyHasConcurrentChange(ctx context.Context, vm *ValueMap, base *revision.Vector, commit revision.Revision) (bool, error) {
	conflict := false
	err := vm.Iterate(ctx, func(e RevEntry) (bool, error) {
		if e.Rev == commit {
			return true, nil
		}
		if !base.IsNewerThan(e.Rev) {
			conflict = true
			return false, nil
		}
		return true, nil
	})
	return conflict, err
}
