package kv

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/google/btree"
)

const btreeDegree = 32

type memoryItem struct {
	key   string
	value []byte
}

func lessItem(a, b memoryItem) bool {
	return a.key < b.key
}

// MemoryStore keeps everything in process memory in an ordered B-tree
type MemoryStore struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[memoryItem]
	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tree: btree.NewG(btreeDegree, lessItem)}
}

// View implements Store.View
func (s *MemoryStore) View(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(&memoryTx{store: s})
}

// Update implements Store.Update. Writes go straight to the tree and are
// undone from the journal when fn fails.
func (s *MemoryStore) Update(ctx context.Context, fn func(w Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := &memoryTx{store: s, journal: make(map[string]journalEntry)}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Close implements Store.Close
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type journalEntry struct {
	value   []byte
	existed bool
}

type memoryTx struct {
	store   *MemoryStore
	journal map[string]journalEntry
}

func (tx *memoryTx) Get(key []byte) ([]byte, bool, error) {
	item, ok := tx.store.tree.Get(memoryItem{key: string(key)})
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(item.value), true, nil
}

// Scan inside Update walks a copy-on-write clone so fn may write to the
// store. Read views never write and walk the tree itself.
func (tx *memoryTx) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	p := string(prefix)
	tree := tx.store.tree
	if tx.journal != nil {
		tree = tree.Clone()
	}
	tree.AscendGreaterOrEqual(memoryItem{key: p}, func(item memoryItem) bool {
		if !strings.HasPrefix(item.key, p) {
			return false
		}
		return fn([]byte(item.key), bytes.Clone(item.value))
	})
	return nil
}

func (tx *memoryTx) Set(key, value []byte) error {
	k := string(key)
	tx.remember(k)
	tx.store.tree.ReplaceOrInsert(memoryItem{key: k, value: bytes.Clone(value)})
	return nil
}

func (tx *memoryTx) Delete(key []byte) error {
	k := string(key)
	tx.remember(k)
	tx.store.tree.Delete(memoryItem{key: k})
	return nil
}

func (tx *memoryTx) remember(key string) {
	if _, ok := tx.journal[key]; ok {
		return
	}
	item, existed := tx.store.tree.Get(memoryItem{key: key})
	tx.journal[key] = journalEntry{value: item.value, existed: existed}
}

func (tx *memoryTx) rollback() {
	for k, e := range tx.journal {
		if e.existed {
			tx.store.tree.ReplaceOrInsert(memoryItem{key: k, value: e.value})
		} else {
			tx.store.tree.Delete(memoryItem{key: k})
		}
	}
}
