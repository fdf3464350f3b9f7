package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIndexer(t *testing.T) {
	bt := NewIndexer(Btree, "", false)
	assert.IsType(t, &BTree{}, bt)

	art := NewIndexer(ART, "", false)
	assert.IsType(t, &AdaptiveRadixTree{}, art)

	path := filepath.Join(t.TempDir(), "test"+IndexFileSuffix)
	bpt := NewIndexer(BPTree, path, false)
	assert.IsType(t, &BPlusTree{}, bpt)
	_, persistent := bpt.(PersistentIndexer)
	assert.True(t, persistent)
	assert.Nil(t, bpt.Close())
}
