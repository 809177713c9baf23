// Package vectorindex implements the two interchangeable vector index
// backends: an exact brute-force scan and an approximate HNSW-family
// proximity graph. Both operate on physical slots, not node ids directly;
// the logical-to-physical mapping in package barq translates between the two so
// a node whose embedding is replaced gets a fresh slot without disturbing
// whatever graph links the old slot already accumulated.
package vectorindex

import "context"

// Slot is an index-internal, append-only position. Slots are never reused:
// replacing a node's embedding installs a new slot and leaves the old one
// graph-linked but unreachable through the logical mapping.
type Slot uint64

// Result is one candidate returned by a kNN search, sorted by ascending
// Distance (closest first). Distance ties break by ascending Slot, which makes
// search output deterministic independent of hash map iteration order.
type Result struct {
	Slot     Slot
	Distance float64
}

// Index is the contract both vector index backends satisfy.
type Index interface {
	// Install adds vec at the next available slot and returns it.
	// ErrDimensionMismatch is returned if vec's length disagrees with the
	// dimension of vectors already installed.
	Install(vec []float32) (Slot, error)
	// KNN returns up to k nearest neighbors of query, nearest first. Filter,
	// if non-nil, is consulted for every candidate slot and must return
	// true for the slot to be eligible; this is how the caller excludes
	// superseded slots without the index knowing about logical ids. out, if
	// non-nil, is reused as the result buffer (length reset, capacity kept)
	// so a caller issuing many queries back to back, such as the hybrid
	// query path, doesn't allocate a fresh slice on every call; pass nil to
	// let the index allocate its own.
	KNN(ctx context.Context, query []float32, k int, filter func(Slot) bool, out []Result) ([]Result, error)
	// Size returns the number of installed slots, including superseded
	// ones the index itself doesn't know are superseded.
	Size() int
	// Dimensions returns the vector dimension fixed by the first Install,
	// or 0 if empty.
	Dimensions() int
	// Vector returns the raw embedding installed at slot, or false if slot
	// was never installed. The returned slice must not be mutated.
	Vector(slot Slot) ([]float32, bool)
}
