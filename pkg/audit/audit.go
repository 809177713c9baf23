// Package audit keeps the in-memory, WAL-backed log of decisions callers
// record through the engine's RecordDecision. It is a trimmed
// adaptation of the example pack's compliance audit logger: the same
// append-only-log-plus-queryable-index shape, collapsed from a general
// event taxonomy (auth, data access, erasure, consent, security) down to
// the single decision-record kind this engine needs.
package audit

import (
	"sync"

	"github.com/YASSERRMD/barq-graphdb/pkg/storage"
)

// Log is the in-memory index of recorded decisions, rebuilt from the WAL at
// open and appended to thereafter. It does not itself write to the WAL;
// callers append the WAL record and then call Record to index it, mirroring
// how every other mutation in this engine is WAL-first.
type Log struct {
	mu      sync.RWMutex
	nextID  uint64
	all     []storage.Decision
	byAgent map[string][]int // indexes into all
}

// New returns an empty decision log.
func New() *Log {
	return &Log{byAgent: make(map[string][]int)}
}

// ReserveID hands out the next monotonic decision id without indexing
// anything. Callers use it to stamp a WAL record before the mutation is
// known to have succeeded; Record is only called once the WAL append
// acknowledges, so a failed append never leaves a gap-free id unused in the
// index (it leaves a gap in the id sequence instead, which the monotonicity
// invariant permits).
func (l *Log) ReserveID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	return l.nextID
}

// Record indexes d. A non-zero id (reserved via ReserveID for a live write,
// or supplied by WAL replay) is kept, and the id counter advances past it; a
// zero id is replaced with the next monotonic id. It returns the stored copy.
func (l *Log) Record(d storage.Decision) storage.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d.ID == 0 {
		l.nextID++
		d.ID = l.nextID
	} else if d.ID > l.nextID {
		l.nextID = d.ID
	}
	idx := len(l.all)
	l.all = append(l.all, d)
	l.byAgent[d.AgentID] = append(l.byAgent[d.AgentID], idx)
	return d
}

// ListForAgent returns every decision recorded for agentID, oldest first.
func (l *Log) ListForAgent(agentID string) []storage.Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idxs := l.byAgent[agentID]
	out := make([]storage.Decision, len(idxs))
	for i, idx := range idxs {
		out[i] = l.all[idx]
	}
	return out
}

// Count returns the total number of decisions recorded.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.all)
}
