package storage

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/helixdb/pkg/protocol"
)

// tableSet is the fixed catalogue of logical tables. It is persisted in
// the manifest on first open; a directory whose manifest lists a
// different set belongs to an incompatible layout and is refused.
var tableSet = []string{
	"nodes",
	"edges",
	"out_edges",
	"in_edges",
	"vectors",
	"secondary_index",
	"bm25_postings",
	"bm25_doc_len",
	"bm25_df",
	"bm25_meta",
}

// Options configures the storage environment.
type Options struct {
	// Path is the environment directory. Required unless InMemory.
	Path string

	// InMemory keeps all data in RAM. For tests.
	InMemory bool

	// MaxSizeGB sets the value-log file size (a tenth of it per file).
	// 0 means the default (10). The total environment size is not bounded.
	MaxSizeGB int

	// SyncWrites forces fsync after each commit.
	SyncWrites bool

	// SecondaryIndices lists property names maintained in the secondary
	// index for every label that carries them.
	SecondaryIndices []string

	// Float64 stores vector coordinates at 8 bytes instead of 4.
	Float64 bool
}

// KeywordIndex is the hook the engine calls to keep the BM25 tables in
// step with node mutations. Nil disables keyword indexing.
type KeywordIndex interface {
	InsertDoc(txn *Txn, id protocol.ID, label string, props map[string]protocol.Value) error
	UpdateDoc(txn *Txn, id protocol.ID, label string, oldProps, newProps map[string]protocol.Value) error
	DeleteDoc(txn *Txn, id protocol.ID, label string, props map[string]protocol.Value) error
}

// VectorStore is the hook the engine calls to resolve and drop vector
// endpoints without depending on the index implementation.
type VectorStore interface {
	Exists(txn *Txn, id protocol.ID) bool
	Drop(txn *Txn, id protocol.ID) error
}

// Engine owns one Badger environment and its tables.
//
// Exactly one read-write transaction may be live at a time; BeginRw
// blocks until the current writer commits or rolls back. Read
// transactions are unbounded and see the snapshot taken when they began.
type Engine struct {
	db   *badger.DB
	opts Options

	writerMu sync.Mutex

	mu     sync.RWMutex
	closed bool

	// Keyword and Vectors are wired by the opener (helix.Open) after the
	// index packages are constructed on top of this engine.
	Keyword KeywordIndex
	Vectors VectorStore
}

// Open opens (creating if needed) the environment at opts.Path and
// verifies the table manifest.
func Open(opts Options) (*Engine, error) {
	maxSize := opts.MaxSizeGB
	if maxSize <= 0 {
		maxSize = 10
	}

	// Badger has no hard environment cap, so the size option only sets the
	// value-log file size; nothing limits how large the directory grows.
	vlogSize := int64(maxSize) << 30 / 10
	if vlogSize < 64<<20 {
		vlogSize = 64 << 20
	}
	if vlogSize > 1<<30 {
		vlogSize = 1 << 30
	}

	badgerOpts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(vlogSize).
		WithNumMemtables(2).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening environment: %w", err)
	}

	eng := &Engine{db: db, opts: opts}
	if err := eng.checkManifest(); err != nil {
		db.Close()
		return nil, err
	}
	return eng, nil
}

// checkManifest writes the table set on first open and refuses a
// mismatched one afterwards.
func (e *Engine) checkManifest() error {
	want := strings.Join(tableSet, ",")
	return e.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(metaTablesKey)
		if err == badger.ErrKeyNotFound {
			return txn.Set(metaTablesKey, []byte(want))
		}
		if err != nil {
			return fmt.Errorf("reading table manifest: %w", err)
		}
		have, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("reading table manifest: %w", err)
		}
		if !bytes.Equal(have, []byte(want)) {
			return fmt.Errorf("%w: environment has tables [%s]", ErrTableSetMismatch, have)
		}
		return nil
	})
}

// Options returns the options the engine was opened with.
func (e *Engine) Options() Options {
	return e.opts
}

// BeginRo starts a read-only transaction on a consistent snapshot.
func (e *Engine) BeginRo() *Txn {
	return &Txn{eng: e, txn: e.db.NewTransaction(false)}
}

// BeginRw starts the process-wide read-write transaction, blocking while
// another writer is live.
func (e *Engine) BeginRw() *Txn {
	e.writerMu.Lock()
	return &Txn{eng: e, txn: e.db.NewTransaction(true), rw: true}
}

// Close flushes and closes the environment. Outstanding transactions
// must be finished first.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

// Txn wraps one Badger transaction. Read-write transactions hold the
// engine's writer lock until Commit or Rollback.
type Txn struct {
	eng  *Engine
	txn  *badger.Txn
	rw   bool
	done bool
}

// RW reports whether the transaction can write.
func (t *Txn) RW() bool { return t.rw }

// Engine returns the owning engine.
func (t *Txn) Engine() *Engine { return t.eng }

// Get fetches a key. The second return is false when the key is absent.
func (t *Txn) Get(key []byte) ([]byte, bool, error) {
	if t.done {
		return nil, false, ErrTxnClosed
	}
	item, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	return val, true, nil
}

// Set writes a key. Fails on read-only transactions.
func (t *Txn) Set(key, val []byte) error {
	if t.done {
		return ErrTxnClosed
	}
	if !t.rw {
		return ErrReadOnlyTxn
	}
	if err := t.txn.Set(key, val); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (t *Txn) Delete(key []byte) error {
	if t.done {
		return ErrTxnClosed
	}
	if !t.rw {
		return ErrReadOnlyTxn
	}
	if err := t.txn.Delete(key); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// IteratePrefix scans all keys under prefix in key order, invoking fn for
// each. fn returning false stops the scan early. The value slice is only
// valid for the duration of the callback.
func (t *Txn) IteratePrefix(prefix []byte, fn func(key, val []byte) (bool, error)) error {
	if t.done {
		return ErrTxnClosed
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		cont, err := fn(item.KeyCopy(nil), val)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// IterateKeys scans keys only, skipping value fetches.
func (t *Txn) IterateKeys(prefix []byte, fn func(key []byte) (bool, error)) error {
	if t.done {
		return ErrTxnClosed
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		cont, err := fn(it.Item().KeyCopy(nil))
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// Scanner is a lazy prefix scan. It borrows the transaction and must be
// closed before the transaction finishes. Read transactions may hold any
// number of scanners; a write transaction supports one at a time, so
// mutating pipelines materialise their scans instead.
type Scanner struct {
	it     *badger.Iterator
	prefix []byte
}

// NewScanner starts a lazy scan over all keys under prefix.
func (t *Txn) NewScanner(prefix []byte) *Scanner {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	it.Rewind()
	return &Scanner{it: it, prefix: prefix}
}

// Next returns the next key/value pair. ok is false once the prefix is
// exhausted. Returned slices are copies owned by the caller.
func (s *Scanner) Next() (key, val []byte, ok bool, err error) {
	if !s.it.ValidForPrefix(s.prefix) {
		return nil, nil, false, nil
	}
	item := s.it.Item()
	key = item.KeyCopy(nil)
	val, err = item.ValueCopy(nil)
	if err != nil {
		return nil, nil, false, fmt.Errorf("scan: %w", err)
	}
	s.it.Next()
	return key, val, true, nil
}

// Close releases the underlying iterator. Safe to call twice.
func (s *Scanner) Close() {
	if s.it != nil {
		s.it.Close()
		s.it = nil
	}
}

// Commit makes the transaction's writes durable and releases the writer
// lock. Committing a read transaction just releases its snapshot.
func (t *Txn) Commit() error {
	if t.done {
		return ErrTxnClosed
	}
	t.done = true
	if !t.rw {
		t.txn.Discard()
		return nil
	}
	defer t.eng.writerMu.Unlock()
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Safe to call after Commit; the
// usual pattern is `defer txn.Rollback()`.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Discard()
	if t.rw {
		t.eng.writerMu.Unlock()
	}
}
