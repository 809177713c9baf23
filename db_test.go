package barq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/YASSERRMD/barq-graphdb/pkg/storage"
)

func TestAppendNodeAndGetNode(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AppendNode(Node{ID: 1, Label: "memory", AgentID: "agent-a"}))
	n, ok := db.GetNode(1)
	require.True(t, ok)
	require.Equal(t, "memory", n.Label)

	_, ok = db.GetNode(2)
	require.False(t, ok)
}

func TestAppendNodeWithEmbeddingIsImmediatelySearchable(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AppendNode(Node{ID: 1, Embedding: []float32{1, 0}}))
	require.NoError(t, db.AppendNode(Node{ID: 2, Embedding: []float32{0, 1}}))

	results, err := db.KNNSearch(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, NodeID(1), results[0].Node)
}

func TestAppendNodeWithMismatchedEmbeddingDimensionFails(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AppendNode(Node{ID: 1, Embedding: []float32{1, 0, 0}}))
	err = db.AppendNode(Node{ID: 2, Embedding: []float32{1, 0}})
	require.ErrorIs(t, err, storage.ErrDimensionMismatch)

	stats := db.Stats()
	require.Equal(t, 1, stats.NodeCount, "failed append must not have created node 2")
}

func TestAddEdgeUnknownEndpointFails(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AppendNode(Node{ID: 1}))
	err = db.AddEdge(1, 99, "relates_to")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.Equal(t, 0, db.Stats().EdgeCount)
}

func TestSetEmbeddingUnknownNodeFails(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	err = db.SetEmbedding(context.Background(), 42, []float32{1, 2})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAddEdgeAndBFS(t *testing.T) {
	db, err := Open(t.TempDir(), WithAsyncIndexing(false))
	require.NoError(t, err)
	defer db.Close()

	for i := NodeID(1); i <= 3; i++ {
		require.NoError(t, db.AppendNode(Node{ID: i}))
	}
	require.NoError(t, db.AddEdge(1, 2, "relates_to"))
	require.NoError(t, db.AddEdge(2, 3, "relates_to"))

	hops := db.BFSHops(1, 5)
	require.Len(t, hops, 3)
	require.Equal(t, NodeID(3), hops[2].Node)
	require.Equal(t, 2, hops[2].Distance)
}

func TestSetEmbeddingSynchronousAndKNN(t *testing.T) {
	db, err := Open(t.TempDir(), WithAsyncIndexing(false))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.AppendNode(Node{ID: 1}))
	require.NoError(t, db.AppendNode(Node{ID: 2}))
	require.NoError(t, db.SetEmbedding(ctx, 1, []float32{0, 0}))
	require.NoError(t, db.SetEmbedding(ctx, 2, []float32{10, 10}))

	results, err := db.KNNSearch(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, NodeID(1), results[0].Node)
}

func TestSetEmbeddingAsyncRequiresFlushBeforeSearchable(t *testing.T) {
	db, err := Open(t.TempDir(), WithAsyncIndexing(true), WithAsyncQueueCapacity(4))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.AppendNode(Node{ID: 1}))
	require.NoError(t, db.SetEmbedding(ctx, 1, []float32{1, 1}))
	require.NoError(t, db.Flush())

	results, err := db.KNNSearch(ctx, []float32{1, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, NodeID(1), results[0].Node)
}

func TestReplaceEmbeddingSupersedesOldSlot(t *testing.T) {
	db, err := Open(t.TempDir(), WithAsyncIndexing(false))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.AppendNode(Node{ID: 1}))
	require.NoError(t, db.SetEmbedding(ctx, 1, []float32{0, 0}))
	require.NoError(t, db.SetEmbedding(ctx, 1, []float32{100, 100}))

	results, err := db.KNNSearch(ctx, []float32{0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1, "the superseded slot must not be returned alongside the live one")
	require.Equal(t, NodeID(1), results[0].Node)
	require.InDelta(t, 20000, results[0].Distance, 1)

	require.Equal(t, 1, db.Stats().EmbeddingCount,
		"stats must count nodes with a live embedding, not physical vector-index slots")
}

func TestHybridQueryIntersectsGraphAndVectorCandidates(t *testing.T) {
	db, err := Open(t.TempDir(), WithAsyncIndexing(false))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.AppendNode(Node{ID: 1}))
	require.NoError(t, db.AppendNode(Node{ID: 2}))
	require.NoError(t, db.AppendNode(Node{ID: 3}))
	require.NoError(t, db.AddEdge(1, 2, "rel"))
	// 3 is vector-close but graph-unreachable from 1.
	require.NoError(t, db.SetEmbedding(ctx, 2, []float32{1, 1}))
	require.NoError(t, db.SetEmbedding(ctx, 3, []float32{1, 1}))

	results, err := db.HybridQuery(ctx, HybridQuery{
		Start: 1, MaxHops: 2, Query: []float32{1, 1}, K: 5, Limit: 5, Alpha: 0.5, Beta: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, NodeID(2), results[0].Node)
	require.Equal(t, []NodeID{1, 2}, results[0].Path)
}

func TestHybridQueryCosineTieBreaksEqualFusedScore(t *testing.T) {
	db, err := Open(t.TempDir(), WithAsyncIndexing(false))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.AppendNode(Node{ID: 1}))
	require.NoError(t, db.AppendNode(Node{ID: 2}))
	require.NoError(t, db.AppendNode(Node{ID: 3}))
	require.NoError(t, db.AddEdge(1, 2, "rel"))
	require.NoError(t, db.AddEdge(1, 3, "rel"))
	// 2 and 3 are equidistant from the query and at the same hop count, so
	// the fused score alone can't rank them; 2 points the same direction as
	// the query and must win the cosine tie-break.
	require.NoError(t, db.SetEmbedding(ctx, 2, []float32{2, 2}))
	require.NoError(t, db.SetEmbedding(ctx, 3, []float32{2, 0}))

	results, err := db.HybridQuery(ctx, HybridQuery{
		Start: 1, MaxHops: 1, Query: []float32{1, 1}, K: 5, Limit: 5, Alpha: 1, Beta: 0,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, results[0].Score, results[1].Score, "both candidates sit at equal normalized distance and hop count")
	require.Equal(t, NodeID(2), results[0].Node, "the candidate pointing toward the query direction must win the cosine tie-break")
	require.Greater(t, results[0].CosineSimilarity, results[1].CosineSimilarity)
}

func TestHybridQueryZeroWeightsAreDeterministic(t *testing.T) {
	db, err := Open(t.TempDir(), WithAsyncIndexing(false))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.AppendNode(Node{ID: 1}))
	require.NoError(t, db.AppendNode(Node{ID: 2}))
	require.NoError(t, db.AddEdge(1, 2, "rel"))
	require.NoError(t, db.SetEmbedding(ctx, 2, []float32{1, 1}))

	results, err := db.HybridQuery(ctx, HybridQuery{Start: 1, MaxHops: 2, Query: []float32{1, 1}, K: 5, Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, float32(0), results[0].Score)
}

func TestRecordDecisionAndList(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	d, err := db.RecordDecision(Decision{AgentID: "agent-a", RootNode: 1, Path: []NodeID{1, 2}, Score: 0.9})
	require.NoError(t, err)
	require.NotZero(t, d.ID)

	got := db.ListDecisionsForAgent("agent-a")
	require.Len(t, got, 1)
	require.Equal(t, d.ID, got[0].ID)
}

func TestCrashRecoveryReplaysAllState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(dir, WithAsyncIndexing(false))
	require.NoError(t, err)
	require.NoError(t, db.AppendNode(Node{ID: 1, Label: "memory"}))
	require.NoError(t, db.AppendNode(Node{ID: 2}))
	require.NoError(t, db.AddEdge(1, 2, "rel"))
	require.NoError(t, db.SetEmbedding(ctx, 1, []float32{1, 2}))
	_, err = db.RecordDecision(Decision{AgentID: "a", RootNode: 1})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(dir, WithAsyncIndexing(false))
	require.NoError(t, err)
	defer reopened.Close()

	n, ok := reopened.GetNode(1)
	require.True(t, ok)
	require.Equal(t, "memory", n.Label)

	hops := reopened.BFSHops(1, 3)
	require.Len(t, hops, 2)

	results, err := reopened.KNNSearch(ctx, []float32{1, 2}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, NodeID(1), results[0].Node)

	decisions := reopened.ListDecisionsForAgent("a")
	require.Len(t, decisions, 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestOperationsAfterCloseFail(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = db.AppendNode(Node{ID: 1})
	require.ErrorIs(t, err, storage.ErrClosed)
}
