package barq

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/YASSERRMD/barq-graphdb/pkg/vectorindex"
)

// IndexType selects which vector index backend a database uses.
type IndexType string

const (
	IndexBruteForce IndexType = "brute_force"
	IndexHNSW       IndexType = "hnsw"
)

// SyncPolicy controls how aggressively the WAL fsyncs after a write.
type SyncPolicy string

const (
	SyncImmediate SyncPolicy = "immediate"
	SyncBatch     SyncPolicy = "batch"
	SyncNone      SyncPolicy = "none"
)

// Options configures an opened database. The zero value is not valid; use
// DefaultOptions and override fields, or functional-option constructors
// (WithIndexType, WithSyncWrites, ...) for a fluent call at Open.
type Options struct {
	IndexType          IndexType
	SyncWrites         SyncPolicy
	AsyncIndexing      bool
	AsyncQueueCapacity int
	HNSW               vectorindex.HNSWConfig

	// EncryptAtRest, when true, requires Passphrase and stores WAL record
	// payloads as AES-256-GCM ciphertext. See pkg/security.
	EncryptAtRest bool
	Passphrase    string
}

// DefaultOptions returns the configuration a database opens with if the
// caller supplies none: brute-force index, immediate fsync, async indexing
// enabled with a modest queue.
func DefaultOptions() Options {
	return Options{
		IndexType:          IndexBruteForce,
		SyncWrites:         SyncImmediate,
		AsyncIndexing:      true,
		AsyncQueueCapacity: 256,
		HNSW:               vectorindex.DefaultHNSWConfig(),
	}
}

// Option mutates Options; see WithIndexType and friends.
type Option func(*Options)

func WithIndexType(t IndexType) Option { return func(o *Options) { o.IndexType = t } }
func WithSyncWrites(p SyncPolicy) Option { return func(o *Options) { o.SyncWrites = p } }
func WithAsyncIndexing(enabled bool) Option {
	return func(o *Options) { o.AsyncIndexing = enabled }
}
func WithAsyncQueueCapacity(n int) Option {
	return func(o *Options) { o.AsyncQueueCapacity = n }
}
func WithHNSWParams(m, efConstruction, efSearch int) Option {
	return func(o *Options) {
		o.HNSW.M = m
		o.HNSW.EfConstruction = efConstruction
		o.HNSW.EfSearch = efSearch
	}
}
func WithEncryptAtRest(passphrase string) Option {
	return func(o *Options) {
		o.EncryptAtRest = true
		o.Passphrase = passphrase
	}
}

// Validate checks that Options describes an openable database.
func (o Options) Validate() error {
	switch o.IndexType {
	case IndexBruteForce, IndexHNSW:
	default:
		return fmt.Errorf("barq: unknown index_type %q", o.IndexType)
	}
	switch o.SyncWrites {
	case SyncImmediate, SyncBatch, SyncNone:
	default:
		return fmt.Errorf("barq: unknown sync_writes %q", o.SyncWrites)
	}
	if o.AsyncQueueCapacity < 1 {
		return fmt.Errorf("barq: async_queue_capacity must be >= 1, got %d", o.AsyncQueueCapacity)
	}
	if o.EncryptAtRest && o.Passphrase == "" {
		return fmt.Errorf("barq: encrypt_at_rest requires a passphrase")
	}
	return nil
}

// yamlOptions is the on-disk shape for LoadOptionsFile, covering the index,
// sync, async-indexing and HNSW fields of Options with the lowercase,
// underscore-separated names spec.md lists for each config option.
// Encryption settings and the HNSW level multiplier are not read from the
// file.
type yamlOptions struct {
	IndexType          IndexType  `yaml:"index_type"`
	SyncWrites         SyncPolicy `yaml:"sync_writes"`
	AsyncIndexing      *bool      `yaml:"async_indexing"`
	AsyncQueueCapacity int        `yaml:"async_queue_capacity"`
	HNSWM              int        `yaml:"hnsw_m"`
	HNSWEfConstruction int        `yaml:"hnsw_ef_construction"`
	HNSWEfSearch       int        `yaml:"hnsw_ef_search"`
}

// LoadOptionsFile reads a YAML configuration file and applies it on top of
// DefaultOptions. A host process embedding Barq is expected to configure it
// with Go values; this exists for the common case of a deployment that
// wants its database tuning parameters alongside its other config files
// rather than compiled into the binary.
func LoadOptionsFile(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("barq: read options file: %w", err)
	}
	var y yamlOptions
	if err := yaml.Unmarshal(data, &y); err != nil {
		return Options{}, fmt.Errorf("barq: parse options file: %w", err)
	}
	opts := DefaultOptions()
	if y.IndexType != "" {
		opts.IndexType = y.IndexType
	}
	if y.SyncWrites != "" {
		opts.SyncWrites = y.SyncWrites
	}
	if y.AsyncIndexing != nil {
		opts.AsyncIndexing = *y.AsyncIndexing
	}
	if y.AsyncQueueCapacity > 0 {
		opts.AsyncQueueCapacity = y.AsyncQueueCapacity
	}
	if y.HNSWM > 0 {
		opts.HNSW.M = y.HNSWM
	}
	if y.HNSWEfConstruction > 0 {
		opts.HNSW.EfConstruction = y.HNSWEfConstruction
	}
	if y.HNSWEfSearch > 0 {
		opts.HNSW.EfSearch = y.HNSWEfSearch
	}
	return opts, opts.Validate()
}
