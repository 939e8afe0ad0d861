package storage

import (
	"encoding/json"
	"fmt"

	"github.com/t77yq/croncat/internal/kv"
	"github.com/t77yq/croncat/internal/model"
)

// SlotIndex maps slot ids of one kind to the hashes of the tasks due in
// them. Empty slots are deleted, never stored.
type SlotIndex struct {
	kind   model.SlotKind
	prefix []byte
}

// NewSlotIndex creates the index for kind
func NewSlotIndex(kind model.SlotKind) *SlotIndex {
	return &SlotIndex{
		kind:   kind,
		prefix: []byte("slot/" + string(kind) + "/"),
	}
}

// Kind returns the slot kind this index holds
func (ix *SlotIndex) Kind() model.SlotKind {
	return ix.kind
}

func (ix *SlotIndex) key(id uint64) []byte {
	return kv.Key(ix.prefix, kv.Uint64(id))
}

// Push appends hash to slot id, creating the slot when needed
func (ix *SlotIndex) Push(w kv.Writer, id uint64, hash string) error {
	hashes, err := ix.Get(w, id)
	if err != nil {
		return err
	}
	return ix.save(w, id, append(hashes, hash))
}

// Get returns the hashes in slot id
func (ix *SlotIndex) Get(r kv.Reader, id uint64) ([]string, error) {
	data, ok, err := r.Get(ix.key(id))
	if err != nil || !ok {
		return nil, err
	}
	return decodeHashes(data)
}

// Remove drops every occurrence of hash from every slot and returns how many
// entries were dropped.
func (ix *SlotIndex) Remove(w kv.Writer, hash string) (int, error) {
	type slot struct {
		id     uint64
		hashes []string
	}
	var slots []slot
	var scanErr error
	err := w.Scan(ix.prefix, func(key, value []byte) bool {
		id, ok := kv.ParseUint64(key)
		if !ok {
			scanErr = fmt.Errorf("corrupt slot key %x", key)
			return false
		}
		hashes, err := decodeHashes(value)
		if err != nil {
			scanErr = err
			return false
		}
		slots = append(slots, slot{id: id, hashes: hashes})
		return true
	})
	if err != nil {
		return 0, err
	}
	if scanErr != nil {
		return 0, scanErr
	}

	removed := 0
	for _, s := range slots {
		kept := s.hashes[:0]
		for _, h := range s.hashes {
			if h != hash {
				kept = append(kept, h)
			}
		}
		if len(kept) == len(s.hashes) {
			continue
		}
		removed += len(s.hashes) - len(kept)
		if err := ix.save(w, s.id, kept); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

// PeekNext returns the smallest occupied slot. Without one it returns 0 and
// an empty list.
func (ix *SlotIndex) PeekNext(r kv.Reader) (uint64, []string, error) {
	var (
		id      uint64
		hashes  = []string{}
		scanErr error
	)
	err := r.Scan(ix.prefix, func(key, value []byte) bool {
		n, ok := kv.ParseUint64(key)
		if !ok {
			scanErr = fmt.Errorf("corrupt slot key %x", key)
			return false
		}
		id = n
		hashes, scanErr = decodeHashes(value)
		return false
	})
	if err != nil {
		return 0, nil, err
	}
	if scanErr != nil {
		return 0, nil, scanErr
	}
	return id, hashes, nil
}

// IDs returns the occupied slot ids in ascending order
func (ix *SlotIndex) IDs(r kv.Reader) ([]uint64, error) {
	ids := []uint64{}
	err := r.Scan(ix.prefix, func(key, _ []byte) bool {
		if id, ok := kv.ParseUint64(key); ok {
			ids = append(ids, id)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (ix *SlotIndex) save(w kv.Writer, id uint64, hashes []string) error {
	if len(hashes) == 0 {
		return w.Delete(ix.key(id))
	}
	data, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("failed to marshal slot: %w", err)
	}
	return w.Set(ix.key(id), data)
}

func decodeHashes(data []byte) ([]string, error) {
	var hashes []string
	if err := json.Unmarshal(data, &hashes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal slot: %w", err)
	}
	return hashes, nil
}
