package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeStoreUpsertPreservesEmbeddingOnOverwrite(t *testing.T) {
	s := NewNodeStore()
	s.Upsert(Node{ID: 1, Label: "memory"})
	require.NoError(t, s.SetEmbedding(1, []float32{1, 2, 3}))

	s.Upsert(Node{ID: 1, Label: "memory-renamed"})

	n, ok := s.Get(1)
	require.True(t, ok)
	require.Equal(t, "memory-renamed", n.Label)
	require.Equal(t, []float32{1, 2, 3}, n.Embedding)
}

func TestNodeStoreSetEmbeddingMissingNode(t *testing.T) {
	s := NewNodeStore()
	err := s.SetEmbedding(99, []float32{1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNodeStoreListIsInsertionOrder(t *testing.T) {
	s := NewNodeStore()
	s.Upsert(Node{ID: 3})
	s.Upsert(Node{ID: 1})
	s.Upsert(Node{ID: 2})

	ids := make([]NodeID, 0, 3)
	for _, n := range s.List() {
		ids = append(ids, n.ID)
	}
	require.Equal(t, []NodeID{3, 1, 2}, ids)
	require.Equal(t, 3, s.Count())
}
