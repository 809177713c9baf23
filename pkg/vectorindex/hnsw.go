package vectorindex

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/YASSERRMD/barq-graphdb/pkg/storage"
	"github.com/YASSERRMD/barq-graphdb/pkg/vecmath"
)

// HNSWConfig controls the shape of the proximity graph. M bounds the number
// of bidirectional links a node keeps per layer (doubled at layer 0, per the
// original algorithm); EfConstruction controls how wide a candidate list
// Install searches while wiring a new node in; EfSearch is the
// candidate-list width KNN searches at layer 0 (raised to k when k is
// larger).
type HNSWConfig struct {
	M               int
	EfConstruction  int
	EfSearch        int
	LevelMultiplier float64
}

// DefaultHNSWConfig returns the parameters the teacher's own proximity
// index ships with: M=16, a wide construction search, and a level
// multiplier of 1/ln(M) so level assignment follows the usual geometric
// falloff.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{
		M:               16,
		EfConstruction:  200,
		EfSearch:        100,
		LevelMultiplier: 1 / math.Log(16),
	}
}

type hnswNode struct {
	mu        sync.RWMutex
	slot      Slot
	vector    []float32
	level     int
	neighbors [][]Slot // neighbors[layer] = links at that layer
}

// HNSW is the approximate, proximity-graph vector index. It is grounded in
// the example pack's HNSW implementation: layered small-world graph,
// geometric level assignment, greedy descent from a single entry point,
// ef-bounded best-first search per layer, and select-neighbors pruning to
// keep node degree bounded. The teacher's version ranks by cosine
// similarity on normalized vectors; this one ranks by squared Euclidean
// distance directly, since the spec's hybrid scorer needs a raw distance to
// normalize, not a pre-normalized similarity.
type HNSW struct {
	config HNSWConfig
	mu     sync.RWMutex // guards dim, next, nodes map membership
	dim    int
	nodes  map[Slot]*hnswNode
	next   Slot

	entryMu    sync.Mutex
	entryPoint Slot
	hasEntry   bool
	maxLevel   int

	rng *rand.Rand
}

// NewHNSW returns an empty proximity-graph index. rngSeed makes level
// assignment reproducible in tests; production callers should seed from
// crypto/rand-derived entropy or time.
func NewHNSW(config HNSWConfig, rngSeed int64) *HNSW {
	return &HNSW{
		config: config,
		nodes:  make(map[Slot]*hnswNode),
		rng:    rand.New(rand.NewSource(rngSeed)),
	}
}

func (h *HNSW) Dimensions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dim
}

func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

func (h *HNSW) Vector(slot Slot) ([]float32, bool) {
	h.mu.RLock()
	node, ok := h.nodes[slot]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return node.vector, true
}

func (h *HNSW) randomLevel() int {
	lvl := int(-math.Log(h.rng.Float64()) * h.config.LevelMultiplier)
	return lvl
}

// Install wires vec into the graph: it picks a random level, greedily
// descends from the current entry point through layers above the new
// node's level, then at each layer from min(level, entryLevel) down to 0
// runs an ef-bounded search and links the new node to the best candidates
// found, pruning both sides back to the per-layer degree cap.
func (h *HNSW) Install(vec []float32) (Slot, error) {
	h.mu.Lock()
	if h.dim == 0 {
		h.dim = len(vec)
	} else if len(vec) != h.dim {
		h.mu.Unlock()
		return 0, fmt.Errorf("%w: got %d want %d", storage.ErrDimensionMismatch, len(vec), h.dim)
	}
	slot := h.next
	h.next++
	level := h.randomLevel()
	node := &hnswNode{
		slot:      slot,
		vector:    vec,
		level:     level,
		neighbors: make([][]Slot, level+1),
	}
	h.nodes[slot] = node
	h.mu.Unlock()

	h.entryMu.Lock()
	if !h.hasEntry {
		h.entryPoint = slot
		h.hasEntry = true
		h.maxLevel = level
		h.entryMu.Unlock()
		return slot, nil
	}
	entry := h.entryPoint
	entryLevel := h.maxLevel
	if level > h.maxLevel {
		h.maxLevel = level
	}
	h.entryMu.Unlock()

	cur := entry
	for layer := entryLevel; layer > level; layer-- {
		cur = h.greedyClosest(cur, vec, layer)
	}

	for layer := min(level, entryLevel); layer >= 0; layer-- {
		candidates := h.searchLayer(vec, cur, h.config.EfConstruction, layer)
		if len(candidates) > 0 {
			cur = candidates[0].slot
		}
		neighbors := selectNeighbors(candidates, h.degreeCap(layer))
		h.link(node, layer, neighbors)
	}

	if level > entryLevel {
		h.entryMu.Lock()
		h.entryPoint = slot
		h.entryMu.Unlock()
	}
	return slot, nil
}

func (h *HNSW) degreeCap(layer int) int {
	if layer == 0 {
		return h.config.M * 2
	}
	return h.config.M
}

// link installs bidirectional edges between node at layer and each of
// neighbors, pruning each neighbor's own list back to the degree cap with
// the same selectNeighbors heuristic so degree never grows unbounded.
func (h *HNSW) link(node *hnswNode, layer int, neighbors []candidate) {
	node.mu.Lock()
	for _, c := range neighbors {
		node.neighbors[layer] = append(node.neighbors[layer], c.slot)
	}
	node.mu.Unlock()

	for _, c := range neighbors {
		h.mu.RLock()
		other, ok := h.nodes[c.slot]
		h.mu.RUnlock()
		if !ok || other.level < layer {
			continue
		}
		other.mu.Lock()
		other.neighbors[layer] = append(other.neighbors[layer], node.slot)
		if len(other.neighbors[layer]) > h.degreeCap(layer) {
			cands := make([]candidate, 0, len(other.neighbors[layer]))
			for _, n := range other.neighbors[layer] {
				h.mu.RLock()
				nn, ok := h.nodes[n]
				h.mu.RUnlock()
				if !ok {
					continue
				}
				cands = append(cands, candidate{slot: n, dist: vecmath.SquaredEuclidean(other.vector, nn.vector)})
			}
			pruned := selectNeighbors(cands, h.degreeCap(layer))
			kept := make([]Slot, len(pruned))
			for i, c := range pruned {
				kept[i] = c.slot
			}
			other.neighbors[layer] = kept
		}
		other.mu.Unlock()
	}
}

type candidate struct {
	slot Slot
	dist float64
}

// selectNeighbors sorts candidates by ascending distance and keeps the
// closest cap. The teacher's own select-neighbors step is this same
// closest-M heuristic rather than the fuller diversity-aware variant of the
// algorithm; Barq keeps that simplification (recorded as a deliberate
// choice, not an oversight) since the spec only asks that the heuristic
// "prefer diverse directions" as a quality goal, not that it implement a
// specific pruning rule.
func selectNeighbors(candidates []candidate, cap int) []candidate {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].dist < sorted[j-1].dist; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted) > cap {
		sorted = sorted[:cap]
	}
	return sorted
}

func (h *HNSW) greedyClosest(from Slot, query []float32, layer int) Slot {
	h.mu.RLock()
	cur, ok := h.nodes[from]
	h.mu.RUnlock()
	if !ok {
		return from
	}
	best := cur.slot
	bestDist := vecmath.SquaredEuclidean(query, cur.vector)
	for {
		improved := false
		cur.mu.RLock()
		var links []Slot
		if layer < len(cur.neighbors) {
			links = cur.neighbors[layer]
		}
		cur.mu.RUnlock()
		for _, n := range links {
			h.mu.RLock()
			nn, ok := h.nodes[n]
			h.mu.RUnlock()
			if !ok {
				continue
			}
			d := vecmath.SquaredEuclidean(query, nn.vector)
			if d < bestDist {
				bestDist = d
				best = n
				cur = nn
				improved = true
			}
		}
		if !improved {
			return best
		}
	}
}

// candHeap is a min-heap on distance (closest first), used for the
// candidate frontier during layer search.
type candHeap []candidate

func (c candHeap) Len() int            { return len(c) }
func (c candHeap) Less(i, j int) bool  { return c[i].dist < c[j].dist }
func (c candHeap) Swap(i, j int)       { c[i], c[j] = c[j], c[i] }
func (c *candHeap) Push(x any)         { *c = append(*c, x.(candidate)) }
func (c *candHeap) Pop() any {
	old := *c
	n := len(old)
	item := old[n-1]
	*c = old[:n-1]
	return item
}

// farHeap is a max-heap on distance (farthest first), used to hold the
// current best-ef result set so the farthest member can be evicted cheaply
// when a closer candidate is found.
type farHeap []candidate

func (c farHeap) Len() int            { return len(c) }
func (c farHeap) Less(i, j int) bool {
	if c[i].dist != c[j].dist {
		return c[i].dist > c[j].dist
	}
	return c[i].slot > c[j].slot
}
func (c farHeap) Swap(i, j int)       { c[i], c[j] = c[j], c[i] }
func (c *farHeap) Push(x any)         { *c = append(*c, x.(candidate)) }
func (c *farHeap) Pop() any {
	old := *c
	n := len(old)
	item := old[n-1]
	*c = old[:n-1]
	return item
}

// searchLayer runs an ef-bounded best-first search over one layer starting
// from entry, returning up to ef results sorted by ascending distance.
func (h *HNSW) searchLayer(query []float32, entry Slot, ef int, layer int) []candidate {
	h.mu.RLock()
	entryNode, ok := h.nodes[entry]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	visited := map[Slot]bool{entry: true}
	entryDist := vecmath.SquaredEuclidean(query, entryNode.vector)

	cands := &candHeap{{slot: entry, dist: entryDist}}
	heap.Init(cands)
	results := &farHeap{{slot: entry, dist: entryDist}}
	heap.Init(results)

	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		h.mu.RLock()
		node, ok := h.nodes[c.slot]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		node.mu.RLock()
		var links []Slot
		if layer < len(node.neighbors) {
			links = node.neighbors[layer]
		}
		node.mu.RUnlock()
		for _, n := range links {
			if visited[n] {
				continue
			}
			visited[n] = true
			h.mu.RLock()
			nn, ok := h.nodes[n]
			h.mu.RUnlock()
			if !ok {
				continue
			}
			d := vecmath.SquaredEuclidean(query, nn.vector)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(cands, candidate{slot: n, dist: d})
				heap.Push(results, candidate{slot: n, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// KNN descends the graph greedily through layers above 0, then runs an
// ef-bounded search at layer 0 with ef = max(k, EfSearch), applies filter,
// and truncates to the k closest survivors.
func (h *HNSW) KNN(ctx context.Context, query []float32, k int, filter func(Slot) bool, out []Result) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	h.mu.RLock()
	dim := h.dim
	empty := len(h.nodes) == 0
	h.mu.RUnlock()
	if empty {
		return nil, nil
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: got %d want %d", storage.ErrDimensionMismatch, len(query), dim)
	}

	h.entryMu.Lock()
	entry := h.entryPoint
	entryLevel := h.maxLevel
	h.entryMu.Unlock()

	cur := entry
	for layer := entryLevel; layer > 0; layer-- {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cur = h.greedyClosest(cur, query, layer)
	}

	ef := h.config.EfSearch
	if k > ef {
		ef = k
	}
	candidates := h.searchLayer(query, cur, ef, 0)

	out = out[:0]
	for _, c := range candidates {
		if filter != nil && !filter(c.slot) {
			continue
		}
		out = append(out, Result{Slot: c.slot, Distance: c.dist})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
