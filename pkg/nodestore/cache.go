package nodestore

import (
	"sync"

	"go.uber.org/zap"
)

// cache holds the two process-wide caches and the rate-limited log
// silencer described in §5 and §9's "global state" note: a document
// read cache (standing in for DocumentStore.getIfCached/
// invalidateCache), the prev-no-property sentinel cache, and the
// once-per-id MissingPreviousDocument warning silencer. All three are
// safe to evict at any time; none are mutated after construction
// beyond their own put/invalidate operations.
type cache struct {
	mu   sync.Mutex
	docs map[string]*Document

	noProp map[string]struct{}

	warned map[string]bool
	log    *zap.Logger
}

func newCache(log *zap.Logger) *cache {
	return &cache{
		docs:   make(map[string]*Document),
		noProp: make(map[string]struct{}),
		warned: make(map[string]bool),
		log:    log,
	}
}

func (c *cache) getIfCached(id string) (*Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	return doc, ok
}

func (c *cache) put(id string, doc *Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[id] = doc
}

func (c *cache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, id)
}

// noPropKey builds the prev-no-property cache key: property@previous-doc-id.
func noPropKey(property, previousDocID string) string {
	return property + "@" + previousDocID
}

// hasNoProperty reports whether a prior negative scan already proved
// previousDocID has no revisions for property.
func (c *cache) hasNoProperty(property, previousDocID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.noProp[noPropKey(property, previousDocID)]
	return ok
}

// markNoProperty records that a scan of previousDocID for property
// completed and found nothing. Callers must only call this after a
// scan that ran to completion, never after an early-terminated one.
func (c *cache) markNoProperty(property, previousDocID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noProp[noPropKey(property, previousDocID)] = struct{}{}
}

// warnMissingPreviousOnce logs a WARN for a missing previous document
// id the first time it is seen, and silently does nothing on any
// later occurrence of the same id.
func (c *cache) warnMissingPreviousOnce(id string, err error) {
	c.mu.Lock()
	already := c.warned[id]
	if !already {
		c.warned[id] = true
	}
	c.mu.Unlock()

	if !already {
		c.log.Warn("missing previous document", zap.String("id", id), zap.Error(err))
	}
}
