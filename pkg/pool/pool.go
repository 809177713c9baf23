// Package pool reuses the slices the query engine's hot paths allocate
// repeatedly: kNN result buffers and hybrid-query candidate id lists. It is a trimmed
// adaptation of the example pack's sync.Pool-backed slice pooling,
// re-pointed at Barq's own allocation sites instead of the teacher's
// row/column buffers.
package pool

import (
	"sync"

	"github.com/YASSERRMD/barq-graphdb/pkg/vectorindex"
)

var resultSlices = sync.Pool{
	New: func() any {
		s := make([]vectorindex.Result, 0, 32)
		return &s
	},
}

// GetResults returns a zero-length *[]vectorindex.Result with spare
// capacity, for assembling kNN output without allocating on every query.
func GetResults() *[]vectorindex.Result {
	return resultSlices.Get().(*[]vectorindex.Result)
}

// PutResults returns s to the pool after resetting its length to 0.
func PutResults(s *[]vectorindex.Result) {
	*s = (*s)[:0]
	resultSlices.Put(s)
}

var u64Slices = sync.Pool{
	New: func() any {
		s := make([]uint64, 0, 64)
		return &s
	},
}

// GetIDs returns a zero-length *[]uint64 with spare capacity, used as
// scratch space for the hybrid query's intersected candidate ids.
func GetIDs() *[]uint64 {
	return u64Slices.Get().(*[]uint64)
}

// PutIDs returns s to the pool after resetting its length to 0.
func PutIDs(s *[]uint64) {
	*s = (*s)[:0]
	u64Slices.Put(s)
}
