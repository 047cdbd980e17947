package memstore_test

import (
	"testing"

	"storj.io/nodestore/private/kvstore/kvstoretest"
	"storj.io/nodestore/private/kvstore/memstore"
)

func TestStore(t *testing.T) {
	kvstoretest.RunSuite(t, memstore.New())
}
