package pool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/YASSERRMD/barq-graphdb/pkg/vectorindex"
)

func TestGetResultsReturnsEmptySlice(t *testing.T) {
	s := GetResults()
	require.Len(t, *s, 0)
	*s = append(*s, vectorindex.Result{Slot: 1})
	PutResults(s)

	s2 := GetResults()
	require.Len(t, *s2, 0, "pooled slice must be reset to zero length before reuse")
	PutResults(s2)
}

func TestGetIDsReturnsEmptySlice(t *testing.T) {
	s := GetIDs()
	require.Len(t, *s, 0)
	*s = append(*s, 1, 2, 3)
	PutIDs(s)

	s2 := GetIDs()
	require.Len(t, *s2, 0)
	PutIDs(s2)
}
