package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// OperationType tags a WAL record with the state change it represents.
type OperationType string

const (
	OpAppendNode     OperationType = "append_node"
	OpAddEdge        OperationType = "add_edge"
	OpSetEmbedding   OperationType = "set_embedding"
	OpRecordDecision OperationType = "record_decision"
)

// Cipher encrypts and decrypts WAL record payloads in place. A nil Cipher
// means records are stored as plain JSON. See pkg/security for the AES-GCM
// implementation wired to the optional encrypt_at_rest option.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Entry is one framed record as it sits on disk: a monotonic sequence
// number, the operation it encodes, the (possibly encrypted) JSON payload,
// and a checksum of that payload.
type Entry struct {
	Sequence  uint64          `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Operation OperationType   `json:"op"`
	Data      json.RawMessage `json:"data"`
	Checksum  uint64          `json:"crc"`
}

// WAL is a single append-only, newline-delimited JSON log file. It is the
// only on-disk artifact a database directory needs besides the version
// marker.
type WAL struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	cipher Cipher
	logger *log.Logger

	sequence atomic.Uint64
	bytes    atomic.Int64
	closed   atomic.Bool
}

const walFileName = "wal.log"

// OpenWAL opens (creating if necessary) the WAL file inside dir. It does not
// replay anything itself; callers use Replay to rebuild state after Open.
func OpenWAL(dir string, cipher Cipher, logger *log.Logger) (*WAL, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrIO, dir, err)
	}
	path := filepath.Join(dir, walFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	return &WAL{
		file:   f,
		writer: bufio.NewWriter(f),
		path:   path,
		cipher: cipher,
		logger: logger,
	}, nil
}

// Append encodes a record, checksums and optionally encrypts its payload,
// and writes it as one newline-terminated JSON line. It does not fsync; the
// caller decides sync policy (see Options.SyncWrites).
func (w *WAL) Append(op OperationType, payload any) (Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return Entry{}, ErrClosed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: marshal %s: %v", ErrIO, op, err)
	}
	if w.cipher != nil {
		raw, err = w.cipher.Seal(raw)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: seal %s: %v", ErrIO, op, err)
		}
	}

	entry := Entry{
		Sequence:  w.sequence.Add(1),
		Timestamp: time.Now(),
		Operation: op,
		Data:      raw,
		Checksum:  xxhash.Sum64(raw),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: marshal entry %d: %v", ErrIO, entry.Sequence, err)
	}
	line = append(line, '\n')
	n, err := w.writer.Write(line)
	w.bytes.Add(int64(n))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: write entry %d: %v", ErrIO, entry.Sequence, err)
	}
	return entry, nil
}

// Sync flushes buffered writes and fsyncs the underlying file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrIO, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync: %v", ErrIO, err)
	}
	return nil
}

// Close flushes, fsyncs, and closes the file descriptor.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Swap(true) {
		return nil
	}
	if err := w.syncLocked(); err != nil {
		return err
	}
	return w.file.Close()
}

// Bytes reports the size of the log in bytes, for Stats: the length Replay
// kept plus everything appended since.
func (w *WAL) Bytes() int64 { return w.bytes.Load() }

// Sequence reports the highest sequence number assigned so far.
func (w *WAL) Sequence() uint64 { return w.sequence.Load() }

// Decode unwraps an entry's payload into v, verifying its checksum and
// decrypting it if a cipher was configured at Open.
func (w *WAL) Decode(e Entry, v any) error {
	if xxhash.Sum64(e.Data) != e.Checksum {
		return fmt.Errorf("%w: checksum mismatch at sequence %d", ErrCorruptLog, e.Sequence)
	}
	raw := []byte(e.Data)
	if w.cipher != nil {
		plain, err := w.cipher.Open(raw)
		if err != nil {
			return fmt.Errorf("%w: decrypt sequence %d: %v", ErrCorruptLog, e.Sequence, err)
		}
		raw = plain
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: unmarshal sequence %d: %v", ErrCorruptLog, e.Sequence, err)
	}
	return nil
}

// Replay reads every well-formed record in sequence order, invoking fn for
// each. A record whose JSON framing is torn (an incomplete line, the shape
// a crash mid-append leaves behind) or whose final record fails its
// checksum is treated as a torn tail: Replay truncates the log there and
// returns normally. A checksum failure on anything but the last record is
// reported as ErrCorruptLog, since that indicates corruption rather than an
// interrupted append.
func (w *WAL) Replay(fn func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("%w: flush before replay: %v", ErrIO, err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek: %v", ErrIO, err)
	}

	r := bufio.NewReader(w.file)
	var lastGood, offset int64
	var maxSeq uint64
	for {
		line, readErr := r.ReadBytes('\n')
		atEOF := readErr == io.EOF
		if len(line) == 0 && atEOF {
			break
		}
		if readErr != nil && !atEOF {
			return fmt.Errorf("%w: read: %v", ErrIO, readErr)
		}

		var entry Entry
		wellFormed := true
		if len(line) == 0 || line[len(line)-1] != '\n' {
			wellFormed = false
		} else if err := json.Unmarshal(line, &entry); err != nil {
			wellFormed = false
		}
		if !wellFormed {
			w.logger.Printf("wal: truncating torn tail at offset %d", lastGood)
			break
		}
		if xxhash.Sum64(entry.Data) != entry.Checksum {
			if _, peekErr := r.Peek(1); peekErr == io.EOF {
				w.logger.Printf("wal: discarding corrupt final record at sequence %d", entry.Sequence)
				break
			}
			return fmt.Errorf("%w: checksum mismatch at sequence %d, byte offset %d", ErrCorruptLog, entry.Sequence, offset)
		}
		if err := fn(entry); err != nil {
			return err
		}
		if entry.Sequence > maxSeq {
			maxSeq = entry.Sequence
		}
		offset += int64(len(line))
		lastGood = offset
		if atEOF {
			break
		}
	}

	if err := w.file.Truncate(lastGood); err != nil {
		return fmt.Errorf("%w: truncate: %v", ErrIO, err)
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("%w: seek end: %v", ErrIO, err)
	}
	w.writer = bufio.NewWriter(w.file)
	w.bytes.Store(lastGood)
	w.sequence.Store(maxSeq)
	return nil
}
