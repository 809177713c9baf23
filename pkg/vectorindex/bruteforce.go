package vectorindex

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/YASSERRMD/barq-graphdb/pkg/storage"
	"github.com/YASSERRMD/barq-graphdb/pkg/vecmath"
)

// BruteForce is the exact vector index: every query is a full scan. It is
// grounded in the example pack's brute-force vector index, generalized from
// cosine similarity over string ids to squared Euclidean distance over
// integer slots, and from a full sort to a bounded max-heap so a query for
// k results only pays O(n log k) instead of O(n log n).
type BruteForce struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
}

// NewBruteForce returns an empty exact vector index.
func NewBruteForce() *BruteForce {
	return &BruteForce{}
}

func (b *BruteForce) Install(vec []float32) (Slot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dim == 0 {
		b.dim = len(vec)
	} else if len(vec) != b.dim {
		return 0, fmt.Errorf("%w: got %d want %d", storage.ErrDimensionMismatch, len(vec), b.dim)
	}
	slot := Slot(len(b.vectors))
	b.vectors = append(b.vectors, vec)
	return slot, nil
}

func (b *BruteForce) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.vectors)
}

func (b *BruteForce) Dimensions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dim
}

func (b *BruteForce) Vector(slot Slot) ([]float32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(slot) < 0 || int(slot) >= len(b.vectors) {
		return nil, false
	}
	return b.vectors[slot], true
}

// resultHeap is a max-heap on Distance, used to keep only the k closest
// candidates seen so far during a linear scan.
type resultHeap []Result

func (h resultHeap) Len() int { return len(h) }
func (h resultHeap) Less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance > h[j].Distance
	}
	return h[i].Slot > h[j].Slot
}
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (b *BruteForce) KNN(ctx context.Context, query []float32, k int, filter func(Slot) bool, out []Result) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(query) != b.dim && b.dim != 0 {
		return nil, fmt.Errorf("%w: got %d want %d", storage.ErrDimensionMismatch, len(query), b.dim)
	}

	h := &resultHeap{}
	heap.Init(h)
	for i, vec := range b.vectors {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slot := Slot(i)
		if filter != nil && !filter(slot) {
			continue
		}
		d := vecmath.SquaredEuclidean(query, vec)
		if h.Len() < k {
			heap.Push(h, Result{Slot: slot, Distance: d})
			continue
		}
		if d < (*h)[0].Distance || (d == (*h)[0].Distance && slot < (*h)[0].Slot) {
			heap.Pop(h)
			heap.Push(h, Result{Slot: slot, Distance: d})
		}
	}

	n := h.Len()
	if cap(out) < n {
		out = make([]Result, n)
	} else {
		out = out[:n]
	}
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Result)
	}
	return out, nil
}
