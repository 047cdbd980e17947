package boltstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/nodestore/private/kvstore/boltstore"
	"storj.io/nodestore/private/kvstore/kvstoretest"
)

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodestore.db")
	store, err := boltstore.Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	kvstoretest.RunSuite(t, store)
}
