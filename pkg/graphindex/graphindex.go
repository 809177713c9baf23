// Package graphindex maintains forward adjacency between nodes and answers
// bounded-hop breadth-first traversals. It never looks at node payloads or
// embeddings; it only knows ids and edge types.
//
// BFS is grounded in the same queue-of-frontier, first-discovery-wins
// traversal shape used throughout the graph-algorithms corner of the
// example pack: a FIFO queue seeded with the start node, neighbors visited
// in adjacency order so that ties between equally-close nodes are broken
// deterministically by edge insertion order rather than by id or hash
// iteration order.
package graphindex

import (
	"sync"

	"github.com/YASSERRMD/barq-graphdb/pkg/storage"
)

// Neighbor is one outgoing edge from a node, in the order it was added.
type Neighbor struct {
	To   storage.NodeID
	Type string
}

// Hop is one entry of a BFS result: the node reached, its distance from the
// start in edge hops, and the node it was first discovered from. The start
// node itself has Distance 0 and no predecessor (Predecessor, HasPredecessor ==
// false).
type Hop struct {
	Node           storage.NodeID
	Distance       int
	Predecessor    storage.NodeID
	HasPredecessor bool
}

// Index is the forward adjacency list. Edges are append-only: once added, an
// edge is never removed or reordered.
type Index struct {
	mu        sync.RWMutex
	adj       map[storage.NodeID][]Neighbor
	edgeCount int
}

// New returns an empty graph index.
func New() *Index {
	return &Index{adj: make(map[storage.NodeID][]Neighbor)}
}

// AddEdge appends a directed edge. If from already has the identical
// (to, type) edge, it is appended again anyway: the spec does not dedupe
// edges, and a caller who wants single-edge semantics dedupes before
// calling.
func (idx *Index) AddEdge(from, to storage.NodeID, edgeType string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.adj[from] = append(idx.adj[from], Neighbor{To: to, Type: edgeType})
	idx.edgeCount++
}

// EdgeCount returns the number of edges added so far, including any
// duplicates.
func (idx *Index) EdgeCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.edgeCount
}

// Neighbors returns the outgoing edges of id in insertion order. The
// returned slice must not be mutated by the caller.
func (idx *Index) Neighbors(id storage.NodeID) []Neighbor {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.adj[id]
}

// BFS performs a bounded-hop breadth-first traversal starting at start.
// maxHops == 0 visits only the start node; maxHops < 0 means unbounded;
// maxHops > 0 visits everything reachable within that many hops. The start
// node is always included at distance 0 even if it has no outgoing edges.
// Nodes are emitted in discovery order, which is also non-decreasing
// distance order.
func (idx *Index) BFS(start storage.NodeID, maxHops int) []Hop {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	visited := map[storage.NodeID]bool{start: true}
	result := []Hop{{Node: start, Distance: 0, HasPredecessor: false}}

	type frontierItem struct {
		id    storage.NodeID
		depth int
	}
	queue := []frontierItem{{id: start, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if maxHops >= 0 && cur.depth >= maxHops {
			continue
		}
		for _, nb := range idx.adj[cur.id] {
			if visited[nb.To] {
				continue
			}
			visited[nb.To] = true
			result = append(result, Hop{
				Node:           nb.To,
				Distance:       cur.depth + 1,
				Predecessor:    cur.id,
				HasPredecessor: true,
			})
			queue = append(queue, frontierItem{id: nb.To, depth: cur.depth + 1})
		}
	}
	return result
}

// Path reconstructs the sequence of nodes from start to target using the
// predecessor chain recorded in hops. hops must be a BFS result that
// includes target; ok is false if it doesn't.
func Path(hops []Hop, target storage.NodeID) (path []storage.NodeID, ok bool) {
	byNode := make(map[storage.NodeID]Hop, len(hops))
	for _, h := range hops {
		byNode[h.Node] = h
	}
	h, found := byNode[target]
	if !found {
		return nil, false
	}
	for {
		path = append([]storage.NodeID{h.Node}, path...)
		if !h.HasPredecessor {
			return path, true
		}
		h = byNode[h.Predecessor]
	}
}
