package barq

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/YASSERRMD/barq-graphdb/pkg/audit"
	"github.com/YASSERRMD/barq-graphdb/pkg/graphindex"
	"github.com/YASSERRMD/barq-graphdb/pkg/indexer"
	"github.com/YASSERRMD/barq-graphdb/pkg/pool"
	"github.com/YASSERRMD/barq-graphdb/pkg/security"
	"github.com/YASSERRMD/barq-graphdb/pkg/storage"
	"github.com/YASSERRMD/barq-graphdb/pkg/vecmath"
	"github.com/YASSERRMD/barq-graphdb/pkg/vectorindex"
)

const versionMarkerName = "VERSION"
const currentVersion = "barq-graphdb/1"

// DB is an open database: a WAL, a node store, a graph index, a vector
// index, an async indexer, and a decision audit log, all guarded by a
// single writer lease (mu) for mutations and a RWMutex discipline for the
// logical-to-physical embedding mapping.
//
// Open's initialization order mirrors the example pack's own engine
// bootstrap: open the durable log first, replay it to rebuild every other
// component's state, then start the background worker last so it never
// sees a job queued against state that hasn't been rebuilt yet.
type DB struct {
	mu     sync.RWMutex
	closed bool

	dir    string
	opts   Options
	logger *log.Logger

	wal    *storage.WAL
	nodes  *storage.NodeStore
	graph  *graphindex.Index
	vector vectorindex.Index
	audit  *audit.Log
	idx    *indexer.Indexer

	slotsMu  sync.RWMutex
	slots    map[NodeID]vectorindex.Slot // logical -> current physical slot
	supersededBy map[vectorindex.Slot]bool
}

// Open opens (creating if necessary) a database directory. A fresh
// directory gets a version marker file and an empty WAL; an existing one is
// replayed in full to rebuild the node store, graph index, vector index,
// logical-to-physical mapping, and decision log before Open returns.
func Open(dir string, options ...Option) (*DB, error) {
	opts := DefaultOptions()
	for _, o := range options {
		o(&opts)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", storage.ErrIO, dir, err)
	}
	logger := log.Default()

	var cipher storage.Cipher
	if opts.EncryptAtRest {
		salt, err := loadOrCreateSalt(dir)
		if err != nil {
			return nil, err
		}
		c, err := security.NewCipher(opts.Passphrase, salt)
		if err != nil {
			return nil, fmt.Errorf("barq: init cipher: %w", err)
		}
		cipher = c
	} else if err := writeVersionMarker(dir, nil); err != nil {
		return nil, err
	}

	wal, err := storage.OpenWAL(dir, cipher, logger)
	if err != nil {
		return nil, err
	}

	var vi vectorindex.Index
	switch opts.IndexType {
	case IndexHNSW:
		vi = vectorindex.NewHNSW(opts.HNSW, 1)
	default:
		vi = vectorindex.NewBruteForce()
	}

	db := &DB{
		dir:          dir,
		opts:         opts,
		logger:       logger,
		wal:          wal,
		nodes:        storage.NewNodeStore(),
		graph:        graphindex.New(),
		vector:       vi,
		audit:        audit.New(),
		slots:        make(map[NodeID]vectorindex.Slot),
		supersededBy: make(map[vectorindex.Slot]bool),
	}

	if err := db.replay(); err != nil {
		wal.Close()
		return nil, err
	}

	if opts.AsyncIndexing {
		db.idx = indexer.New(opts.AsyncQueueCapacity, db.installEmbedding, logger)
	}

	return db, nil
}

// writeVersionMarker writes the version marker file if it doesn't already
// exist. When salt is non-nil its base64 form is stored as a second line, so
// an encrypted database's key-derivation salt lives inside the same file
// instead of a file of its own: encrypt_at_rest never changes the directory's
// file list, only the WAL's payload bytes.
func writeVersionMarker(dir string, salt []byte) error {
	path := filepath.Join(dir, versionMarkerName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	contents := currentVersion + "\n"
	if salt != nil {
		contents += base64.StdEncoding.EncodeToString(salt) + "\n"
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("%w: write version marker: %v", storage.ErrIO, err)
	}
	return nil
}

// loadOrCreateSalt returns the key-derivation salt recorded in the version
// marker, generating and persisting one if the database is new or was
// created before encryption was turned on.
func loadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, versionMarkerName)
	data, err := os.ReadFile(path)
	if err == nil {
		lines := strings.SplitN(string(data), "\n", 3)
		if len(lines) >= 2 && lines[1] != "" {
			salt, err := base64.StdEncoding.DecodeString(lines[1])
			if err != nil {
				return nil, fmt.Errorf("%w: decode salt: %v", storage.ErrCorruptLog, err)
			}
			return salt, nil
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: read version marker: %v", storage.ErrIO, err)
	}

	salt, err := security.NewSalt()
	if err != nil {
		return nil, err
	}
	contents := currentVersion + "\n" + base64.StdEncoding.EncodeToString(salt) + "\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return nil, fmt.Errorf("%w: write version marker: %v", storage.ErrIO, err)
	}
	return salt, nil
}

// WAL record payloads.
type nodePayload struct {
	ID        NodeID    `json:"id"`
	Label     string    `json:"label"`
	AgentID   string    `json:"agent_id"`
	RuleTags  []string  `json:"rule_tags,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt int64     `json:"created_at"`
}

type edgePayload struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
	Type string `json:"type"`
}

type embeddingPayload struct {
	NodeID NodeID    `json:"node_id"`
	Vector []float32 `json:"vector"`
}

type decisionPayload struct {
	ID       uint64   `json:"id"`
	AgentID  string   `json:"agent_id"`
	RootNode NodeID   `json:"root_node"`
	Path     []NodeID `json:"path"`
	Score    float32  `json:"score"`
	Notes    string   `json:"notes"`
	At       int64    `json:"at"`
}

// replay rebuilds every in-memory component from the WAL, in sequence
// order. Embeddings are reinstalled into the vector index in the order they
// were originally set, so replaying SetEmbedding twice for the same node
// reproduces the same slot-supersession history a live run would have
// produced.
func (db *DB) replay() error {
	return db.wal.Replay(func(e storage.Entry) error {
		switch e.Operation {
		case storage.OpAppendNode:
			var p nodePayload
			if err := db.wal.Decode(e, &p); err != nil {
				return err
			}
			db.nodes.Upsert(storage.Node{
				ID: p.ID, Label: p.Label, AgentID: p.AgentID, RuleTags: p.RuleTags,
				CreatedAt: time.Unix(p.CreatedAt, 0).UTC(),
			})
			if p.Embedding != nil {
				if err := db.installEmbedding(indexer.Job{NodeID: uint64(p.ID), Vector: p.Embedding}); err != nil {
					return err
				}
			}
		case storage.OpAddEdge:
			var p edgePayload
			if err := db.wal.Decode(e, &p); err != nil {
				return err
			}
			db.graph.AddEdge(p.From, p.To, p.Type)
		case storage.OpSetEmbedding:
			var p embeddingPayload
			if err := db.wal.Decode(e, &p); err != nil {
				return err
			}
			if err := db.installEmbedding(indexer.Job{NodeID: uint64(p.NodeID), Vector: p.Vector}); err != nil {
				return err
			}
		case storage.OpRecordDecision:
			var p decisionPayload
			if err := db.wal.Decode(e, &p); err != nil {
				return err
			}
			db.audit.Record(storage.Decision{
				ID: p.ID, AgentID: p.AgentID, RootNode: p.RootNode,
				Path: p.Path, Score: p.Score, Notes: p.Notes,
				At: time.Unix(p.At, 0).UTC(),
			})
		}
		return nil
	})
}

// installEmbedding installs vec into the vector index for id, marking any
// previous slot for id as superseded. It is both the async indexer's
// install callback and the function replay calls directly for synchronous
// rebuild.
func (db *DB) installEmbedding(job indexer.Job) error {
	slot, err := db.vector.Install(job.Vector)
	if err != nil {
		return err
	}
	id := NodeID(job.NodeID)
	db.slotsMu.Lock()
	if old, ok := db.slots[id]; ok {
		db.supersededBy[old] = true
	}
	db.slots[id] = slot
	db.slotsMu.Unlock()
	if err := db.nodes.SetEmbedding(id, job.Vector); err != nil && err != storage.ErrNotFound {
		return err
	}
	return nil
}

// AppendNode adds n, WAL-first, then indexes it into the node store. If n
// carries an embedding, it is validated against the database's established
// dimension and installed into the vector index synchronously (a node's
// embedding at creation time always lands before AppendNode returns,
// regardless of Options.AsyncIndexing, so the caller never has to guess
// whether the initial vector is searchable yet).
func (db *DB) AppendNode(n Node) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return storage.ErrClosed
	}
	if n.Embedding != nil {
		if err := db.checkDimension(n.Embedding); err != nil {
			return err
		}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = timeNow()
	}
	_, err := db.wal.Append(storage.OpAppendNode, nodePayload{
		ID: n.ID, Label: n.Label, AgentID: n.AgentID, RuleTags: n.RuleTags,
		Embedding: n.Embedding, CreatedAt: n.CreatedAt.Unix(),
	})
	if err != nil {
		return err
	}
	if err := db.maybeSync(); err != nil {
		return err
	}
	db.nodes.Upsert(n)
	if n.Embedding != nil {
		if err := db.installEmbedding(indexer.Job{NodeID: uint64(n.ID), Vector: n.Embedding}); err != nil {
			return err
		}
	}
	return nil
}

// checkDimension rejects vec before any WAL or index work if the database
// has already established a different embedding dimension, so a dimension
// mismatch never leaves a WAL record with no matching install.
func (db *DB) checkDimension(vec []float32) error {
	if dim := db.vector.Dimensions(); dim != 0 && len(vec) != dim {
		return fmt.Errorf("barq: embedding has dimension %d, want %d: %w", len(vec), dim, storage.ErrDimensionMismatch)
	}
	return nil
}

// AddEdge installs a directed edge from->to, WAL-first. Both endpoints must
// already exist.
func (db *DB) AddEdge(from, to NodeID, edgeType string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return storage.ErrClosed
	}
	if _, ok := db.nodes.Get(from); !ok {
		return fmt.Errorf("barq: add edge from %d: %w", from, storage.ErrNotFound)
	}
	if _, ok := db.nodes.Get(to); !ok {
		return fmt.Errorf("barq: add edge to %d: %w", to, storage.ErrNotFound)
	}
	if _, err := db.wal.Append(storage.OpAddEdge, edgePayload{From: from, To: to, Type: edgeType}); err != nil {
		return err
	}
	if err := db.maybeSync(); err != nil {
		return err
	}
	db.graph.AddEdge(from, to, edgeType)
	return nil
}

// SetEmbedding WAL-appends the new embedding and either installs it
// synchronously or enqueues it for the background indexer, depending on
// Options.AsyncIndexing.
func (db *DB) SetEmbedding(ctx context.Context, id NodeID, vec []float32) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return storage.ErrClosed
	}
	if _, ok := db.nodes.Get(id); !ok {
		return fmt.Errorf("barq: set embedding for node %d: %w", id, storage.ErrNotFound)
	}
	if err := db.checkDimension(vec); err != nil {
		return err
	}
	if _, err := db.wal.Append(storage.OpSetEmbedding, embeddingPayload{NodeID: id, Vector: vec}); err != nil {
		return err
	}
	if err := db.maybeSync(); err != nil {
		return err
	}
	job := indexer.Job{NodeID: uint64(id), Vector: vec}
	if db.idx != nil {
		if !db.idx.Enqueue(ctx, job) {
			return fmt.Errorf("barq: enqueue embedding for node %d: %w", id, ctx.Err())
		}
		return nil
	}
	return db.installEmbedding(job)
}

func (db *DB) maybeSync() error {
	if db.opts.SyncWrites == SyncImmediate {
		return db.wal.Sync()
	}
	return nil
}

// Flush blocks until every embedding enqueued before the call has been
// installed into the vector index, then flushes and fsyncs the WAL. When
// async indexing is disabled only the WAL step does anything, since
// SetEmbedding is already synchronous in that mode.
func (db *DB) Flush() error {
	if db.idx != nil {
		db.idx.Flush()
	}
	return db.wal.Sync()
}

// GetNode returns a copy of the node at id.
func (db *DB) GetNode(id NodeID) (Node, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.nodes.Get(id)
}

// ListNodes returns every node in insertion order.
func (db *DB) ListNodes() []Node {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.nodes.List()
}

// Neighbors returns id's outgoing edges in insertion order.
func (db *DB) Neighbors(id NodeID) []Neighbor {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ns := db.graph.Neighbors(id)
	out := make([]Neighbor, len(ns))
	for i, n := range ns {
		out[i] = Neighbor{To: n.To, Type: n.Type}
	}
	return out
}

// BFSHops performs a bounded-hop breadth-first traversal from start.
func (db *DB) BFSHops(start NodeID, maxHops int) []Hop {
	db.mu.RLock()
	defer db.mu.RUnlock()
	hops := db.graph.BFS(start, maxHops)
	out := make([]Hop, len(hops))
	for i, h := range hops {
		out[i] = Hop{Node: h.Node, Distance: h.Distance, Predecessor: h.Predecessor, HasPredecessor: h.HasPredecessor}
	}
	return out
}

// KNNSearch returns up to k nodes whose embeddings are closest to query,
// nearest first, excluding nodes whose current slot has been superseded by
// a later SetEmbedding call.
func (db *DB) KNNSearch(ctx context.Context, query []float32, k int) ([]ScoredNode, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	bufPtr := pool.GetResults()
	defer pool.PutResults(bufPtr)
	results, err := db.vector.KNN(ctx, query, k, db.notSuperseded, (*bufPtr)[:0])
	if err != nil {
		return nil, err
	}
	*bufPtr = results
	slotToNode := db.invertSlots()
	out := make([]ScoredNode, 0, len(results))
	for _, r := range results {
		if id, ok := slotToNode[r.Slot]; ok {
			out = append(out, ScoredNode{Node: id, Distance: r.Distance})
		}
	}
	return out, nil
}

func (db *DB) notSuperseded(slot vectorindex.Slot) bool {
	db.slotsMu.RLock()
	defer db.slotsMu.RUnlock()
	return !db.supersededBy[slot]
}

func (db *DB) invertSlots() map[vectorindex.Slot]NodeID {
	db.slotsMu.RLock()
	defer db.slotsMu.RUnlock()
	out := make(map[vectorindex.Slot]NodeID, len(db.slots))
	for id, slot := range db.slots {
		out[slot] = id
	}
	return out
}

// HybridQuery fuses a bounded-hop BFS from q.Start with a kNN search over
// q.Query, intersecting the two candidate sets and ranking by
// alpha*(1-normalized_vector_distance) + beta*(1/(1+graph_distance)).
// Vector distances are normalized to [0,1] within the candidate
// intersection, not globally, since the fused score is only meaningful
// relative to the other candidates being compared in this one query.
// Candidates whose fused score ties are ranked by cosine similarity to
// the query next, then by ascending node id, which keeps ranking
// deterministic rather than undefined.
func (db *DB) HybridQuery(ctx context.Context, q HybridQuery) ([]HybridResult, error) {
	if q.K < q.Limit {
		q.K = q.Limit
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	hops := db.graph.BFS(q.Start, q.MaxHops)
	graphDist := make(map[NodeID]int, len(hops))
	for _, h := range hops {
		graphDist[h.Node] = h.Distance
	}

	vecBufPtr := pool.GetResults()
	defer pool.PutResults(vecBufPtr)
	vecResults, err := db.vector.KNN(ctx, q.Query, q.K, db.notSuperseded, (*vecBufPtr)[:0])
	if err != nil {
		return nil, err
	}
	*vecBufPtr = vecResults
	slotToNode := db.invertSlots()

	// Scratch space for the intersected candidate ids is pooled: a hybrid
	// query runs this path on every call and the candidate set rarely
	// exceeds a handful of entries, making it a good fit for the same
	// slice-reuse pattern the kNN scan itself uses for its result buffer.
	idsPtr := pool.GetIDs()
	defer pool.PutIDs(idsPtr)
	candidateIDs := *idsPtr

	queryNorm := vecmath.Norm(q.Query)

	candidates := make(map[NodeID]hybridCandidate)
	for _, r := range vecResults {
		id, ok := slotToNode[r.Slot]
		if !ok {
			continue
		}
		gd, inGraph := graphDist[id]
		if !inGraph {
			continue
		}
		// cosineSim is not part of the fused score: the formula in the
		// doc comment above ranks on normalized squared Euclidean distance
		// and graph distance only. It exists purely as a tie-break
		// diagnostic for candidates the fused score can't separate, since
		// two nodes at the same normalized distance and the same hop count
		// can still point in different directions from the query.
		cosineSim := 0.0
		if vec, ok := db.vector.Vector(r.Slot); ok && queryNorm > 0 {
			if vn := vecmath.Norm(vec); vn > 0 {
				cosineSim = vecmath.DotProduct(q.Query, vec) / (queryNorm * vn)
			}
		}
		candidates[id] = hybridCandidate{node: id, vecDist: r.Distance, graphDist: gd, cosineSim: cosineSim}
		candidateIDs = append(candidateIDs, uint64(id))
	}
	*idsPtr = candidateIDs
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	var minDist, maxDist float64
	first := true
	for _, c := range candidates {
		if first {
			minDist, maxDist = c.vecDist, c.vecDist
			first = false
			continue
		}
		if c.vecDist < minDist {
			minDist = c.vecDist
		}
		if c.vecDist > maxDist {
			maxDist = c.vecDist
		}
	}
	spread := maxDist - minDist

	out := make([]HybridResult, 0, len(candidates))
	for _, c := range candidates {
		norm := 0.0
		if spread > 0 {
			norm = (c.vecDist - minDist) / spread
		}
		score := float32(0)
		if q.Alpha != 0 || q.Beta != 0 {
			score = q.Alpha*float32(1-norm) + q.Beta*float32(1/(1+float64(c.graphDist)))
		}
		path, _ := graphindex.Path(hops, c.node)
		out = append(out, HybridResult{
			Node: c.node, Score: score, GraphDistance: c.graphDist, VectorDistance: c.vecDist,
			CosineSimilarity: c.cosineSim, Path: path,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].CosineSimilarity != out[j].CosineSimilarity {
			return out[i].CosineSimilarity > out[j].CosineSimilarity
		}
		return out[i].Node < out[j].Node
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type hybridCandidate struct {
	node      NodeID
	vecDist   float64
	graphDist int
	cosineSim float64
}

// RecordDecision WAL-appends and indexes a decision record, assigning it a
// monotonic id and timestamp. Like every other mutation, the WAL append
// happens before any in-memory state changes: the id is reserved up front so
// it can be stamped into the WAL record, but the audit log itself is only
// updated once the append has acknowledged.
func (db *DB) RecordDecision(d Decision) (Decision, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return Decision{}, storage.ErrClosed
	}
	if d.At.IsZero() {
		d.At = timeNow()
	}
	d.ID = db.audit.ReserveID()

	_, err := db.wal.Append(storage.OpRecordDecision, decisionPayload{
		ID: d.ID, AgentID: d.AgentID, RootNode: d.RootNode,
		Path: d.Path, Score: d.Score, Notes: d.Notes, At: d.At.Unix(),
	})
	if err != nil {
		return Decision{}, err
	}
	if err := db.maybeSync(); err != nil {
		return Decision{}, err
	}
	return db.audit.Record(d), nil
}

// ListDecisionsForAgent returns every decision recorded for agentID, oldest
// first.
func (db *DB) ListDecisionsForAgent(agentID string) []Decision {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.audit.ListForAgent(agentID)
}

// Stats summarizes the live state of the database.
func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return Stats{
		NodeCount:      db.nodes.Count(),
		EdgeCount:      db.graph.EdgeCount(),
		EmbeddingCount: db.embeddingCount(),
		DecisionCount:  db.audit.Count(),
		WALBytes:       db.wal.Bytes(),
		WALSequence:    db.wal.Sequence(),
	}
}

// embeddingCount returns the number of nodes with a live embedding, i.e. the
// size of the logical id->slot mapping. This is not db.vector.Size(): a
// superseded slot stays installed in the vector index forever (§4.5) but is
// removed from this mapping, so counting physical slots would keep growing
// on every re-embed of the same node.
func (db *DB) embeddingCount() int {
	db.slotsMu.RLock()
	defer db.slotsMu.RUnlock()
	return len(db.slots)
}

// Close stops the background indexer (draining whatever it already queued)
// and closes the WAL.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	idx := db.idx
	db.mu.Unlock()

	if idx != nil {
		idx.Close()
	}
	return db.wal.Close()
}
