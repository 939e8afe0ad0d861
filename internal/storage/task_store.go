package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/t77yq/croncat/internal/kv"
	"github.com/t77yq/croncat/internal/model"
)

const (
	// DefaultListLimit is used when a caller does not pass a limit
	DefaultListLimit uint64 = 100

	// MaxListLimit bounds every listing regardless of the requested limit
	MaxListLimit uint64 = 1000
)

var (
	// ErrTaskExists is returned when a task with the same hash is stored
	ErrTaskExists = errors.New("task already exists")

	// ErrTaskNotFound is returned when no task is stored under a hash
	ErrTaskNotFound = errors.New("task not found")
)

var (
	taskPrefix   = []byte("task/")
	seqPrefix    = []byte("seq/")
	ownerPrefix  = []byte("owner/")
	taskTotalKey = []byte("meta/task_total")
	taskLiveKey  = []byte("meta/task_live")
)

// taskRecord is the stored form of a task. Seq is its position in the
// canonical listing order.
type taskRecord struct {
	Seq  uint64     `json:"seq"`
	Task model.Task `json:"task"`
}

// TaskStore is the task catalog: a primary map by identity hash, a sequence
// index giving the canonical listing order and an owner index that reuses
// the sequence so owner listings keep the same order.
type TaskStore struct{}

// NewTaskStore creates a task store
func NewTaskStore() *TaskStore {
	return &TaskStore{}
}

func taskKey(hash string) []byte {
	return kv.Key(taskPrefix, []byte(hash))
}

func seqKey(seq uint64) []byte {
	return kv.Key(seqPrefix, kv.Uint64(seq))
}

func ownerKey(owner string, seq uint64) []byte {
	return kv.Key(ownerScanPrefix(owner), kv.Uint64(seq))
}

// ownerScanPrefix hex-encodes owner so no owner's prefix is a prefix of
// another's.
func ownerScanPrefix(owner string) []byte {
	return kv.Key(ownerPrefix, []byte(hex.EncodeToString([]byte(owner))), []byte("/"))
}

// Insert stores task under its identity hash. It fails with ErrTaskExists
// before writing anything when the hash is taken.
func (s *TaskStore) Insert(w kv.Writer, task *model.Task) (string, error) {
	hash := task.Hash()
	_, exists, err := w.Get(taskKey(hash))
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrTaskExists
	}

	total, err := readCounter(w, taskTotalKey)
	if err != nil {
		return "", err
	}
	live, err := readCounter(w, taskLiveKey)
	if err != nil {
		return "", err
	}
	seq := total + 1

	data, err := json.Marshal(taskRecord{Seq: seq, Task: *task})
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	for _, op := range []struct{ key, value []byte }{
		{taskKey(hash), data},
		{seqKey(seq), []byte(hash)},
		{ownerKey(task.Owner, seq), []byte(hash)},
		{taskTotalKey, kv.Uint64(seq)},
		{taskLiveKey, kv.Uint64(live + 1)},
	} {
		if err := w.Set(op.key, op.value); err != nil {
			return "", err
		}
	}
	return hash, nil
}

// Get returns the task stored under hash, or nil when there is none
func (s *TaskStore) Get(r kv.Reader, hash string) (*model.Task, error) {
	rec, err := s.load(r, hash)
	if err != nil || rec == nil {
		return nil, err
	}
	return &rec.Task, nil
}

// Remove deletes the task and its index entries and returns the removed task
func (s *TaskStore) Remove(w kv.Writer, hash string) (*model.Task, error) {
	rec, err := s.load(w, hash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrTaskNotFound
	}
	live, err := readCounter(w, taskLiveKey)
	if err != nil {
		return nil, err
	}

	for _, key := range [][]byte{
		taskKey(hash),
		seqKey(rec.Seq),
		ownerKey(rec.Task.Owner, rec.Seq),
	} {
		if err := w.Delete(key); err != nil {
			return nil, err
		}
	}
	if live > 0 {
		live--
	}
	if err := w.Set(taskLiveKey, kv.Uint64(live)); err != nil {
		return nil, err
	}
	return &rec.Task, nil
}

// UpdateDeposit replaces the deposit of a stored task. The hash and the
// listing position stay the same.
func (s *TaskStore) UpdateDeposit(w kv.Writer, hash string, deposit model.Coins) error {
	rec, err := s.load(w, hash)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrTaskNotFound
	}
	rec.Task.Deposit = deposit

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return w.Set(taskKey(hash), data)
}

// List returns up to limit tasks in canonical order, skipping the first
// from tasks. limit is clamped to MaxListLimit.
func (s *TaskStore) List(r kv.Reader, from, limit uint64) ([]*model.Task, error) {
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if limit == 0 {
		return []*model.Task{}, nil
	}

	var hashes []string
	var skipped uint64
	err := r.Scan(seqPrefix, func(_, value []byte) bool {
		if skipped < from {
			skipped++
			return true
		}
		hashes = append(hashes, string(value))
		return uint64(len(hashes)) < limit
	})
	if err != nil {
		return nil, err
	}
	return s.loadAll(r, hashes)
}

// ListByOwner returns the owner's tasks in canonical order
func (s *TaskStore) ListByOwner(r kv.Reader, owner string) ([]*model.Task, error) {
	var hashes []string
	err := r.Scan(ownerScanPrefix(owner), func(_, value []byte) bool {
		hashes = append(hashes, string(value))
		return true
	})
	if err != nil {
		return nil, err
	}
	return s.loadAll(r, hashes)
}

// Total returns the number of tasks ever created
func (s *TaskStore) Total(r kv.Reader) (uint64, error) {
	return readCounter(r, taskTotalKey)
}

// Count returns the number of tasks currently stored
func (s *TaskStore) Count(r kv.Reader) (uint64, error) {
	return readCounter(r, taskLiveKey)
}

func (s *TaskStore) load(r kv.Reader, hash string) (*taskRecord, error) {
	data, ok, err := r.Get(taskKey(hash))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var rec taskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", hash, err)
	}
	return &rec, nil
}

func (s *TaskStore) loadAll(r kv.Reader, hashes []string) ([]*model.Task, error) {
	tasks := make([]*model.Task, 0, len(hashes))
	for _, hash := range hashes {
		rec, err := s.load(r, hash)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("index references missing task %s", hash)
		}
		tasks = append(tasks, &rec.Task)
	}
	return tasks, nil
}

func readCounter(r kv.Reader, key []byte) (uint64, error) {
	data, ok, err := r.Get(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, ok := kv.ParseUint64(data)
	if !ok {
		return 0, fmt.Errorf("corrupt counter %s", key)
	}
	return n, nil
}
