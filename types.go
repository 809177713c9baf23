// Package barq is an embedded hybrid graph and vector database engine for
// AI-agent working memory: nodes carry an optional embedding and a set of
// rule tags, edges are directed and typed, and queries can ask for nearest
// neighbors by embedding, bounded-hop graph traversals, or a fused hybrid
// ranking of both.
package barq

import (
	"time"

	"github.com/YASSERRMD/barq-graphdb/pkg/storage"
)

// NodeID identifies a node. Callers choose it; Barq never generates one.
type NodeID = storage.NodeID

// Node is the unit of storage.
type Node = storage.Node

// Edge is a directed, typed relationship between two nodes.
type Edge = storage.Edge

// Decision is one audit record produced by RecordDecision.
type Decision = storage.Decision

// Stats summarizes the live state of an open database.
type Stats = storage.Stats

// Neighbor is one outgoing edge, as returned by Neighbors.
type Neighbor struct {
	To   NodeID
	Type string
}

// Hop is one entry of a BFS result.
type Hop struct {
	Node           NodeID
	Distance       int
	Predecessor    NodeID
	HasPredecessor bool
}

// ScoredNode is one kNN result: a node and its distance from the query
// embedding.
type ScoredNode struct {
	Node     NodeID
	Distance float64
}

// HybridQuery is the input to HybridQuery: find nodes reachable from Start
// within MaxHops whose embeddings are also among the nearest to Query,
// ranked by a fused score of graph and vector closeness.
type HybridQuery struct {
	Start    NodeID
	MaxHops  int
	Query    []float32
	K        int // number of vector candidates to intersect against BFS; raised to Limit when smaller
	Limit    int // number of ranked results to return
	Alpha    float32
	Beta     float32
}

// HybridResult is one ranked entry of a hybrid query. Path is the
// reconstructed route from the query's Start node to Node, inclusive of
// both endpoints. CosineSimilarity is not part of Score; it is a tie-break
// diagnostic between candidates the fused score can't separate.
type HybridResult struct {
	Node             NodeID
	Score            float32
	GraphDistance    int
	VectorDistance   float64
	CosineSimilarity float64
	Path             []NodeID
}

// timeNow is overridable in tests that need deterministic timestamps.
var timeNow = time.Now
