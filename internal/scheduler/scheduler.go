// Package scheduler implements the task scheduling facade: it validates
// requests, places tasks into slots and keeps the task catalog, the slot
// indexes and the balance ledger consistent with each other.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/croncat/internal/chain"
	"github.com/t77yq/croncat/internal/interval"
	"github.com/t77yq/croncat/internal/kv"
	"github.com/t77yq/croncat/internal/model"
	"github.com/t77yq/croncat/internal/storage"
)

// RefundSender delivers refund transfers. Delivery is best effort.
type RefundSender interface {
	SendRefund(ctx context.Context, refund model.RefundInstruction) error
}

// AgentCounter reports how many executors are currently active
type AgentCounter interface {
	ActiveAgentCount() uint64
}

// Config holds the static settings of a Scheduler
type Config struct {
	// ContractAddress is the scheduler's own account; actions may not call
	// back into it.
	ContractAddress string
}

// Scheduler is the public surface of the scheduling core. Mutations are
// serialized and each one commits in a single store transaction.
type Scheduler struct {
	logger      *zap.Logger
	config      Config
	store       kv.Store
	clock       chain.Clock
	agents      AgentCounter
	refunds     RefundSender
	tasks       *storage.TaskStore
	heightSlots *storage.SlotIndex
	timeSlots   *storage.SlotIndex
	ledger      *storage.Ledger
	mu          sync.Mutex
}

// New creates a scheduler. refunds may be nil, in which case refund
// instructions are only returned to the caller.
func New(config Config, store kv.Store, clock chain.Clock, agents AgentCounter, refunds RefundSender, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger:      logger.Named("scheduler"),
		config:      config,
		store:       store,
		clock:       clock,
		agents:      agents,
		refunds:     refunds,
		tasks:       storage.NewTaskStore(),
		heightSlots: storage.NewSlotIndex(model.SlotHeight),
		timeSlots:   storage.NewSlotIndex(model.SlotTime),
		ledger:      storage.NewLedger(),
	}
}

// Init stores defaults as the scheduler config unless one is stored already,
// and returns the config in effect.
func (s *Scheduler) Init(ctx context.Context, defaults model.Config) (*model.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cfg *model.Config
	err := s.store.Update(ctx, func(w kv.Writer) error {
		existing, err := s.ledger.Load(w)
		if err == nil {
			cfg = existing
			return nil
		}
		if !errors.Is(err, storage.ErrNotInitialized) {
			return err
		}
		if defaults.SlotGranularity == 0 {
			defaults.SlotGranularity = interval.DefaultSlotGranularity
		}
		if defaults.AvailableBalance == nil && defaults.NativeDenom != "" {
			defaults.AvailableBalance = model.NewCoins(0, defaults.NativeDenom)
		}
		cfg = &defaults
		return s.ledger.Save(w, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}

	s.logger.Info("Scheduler initialized",
		zap.String("owner_id", cfg.OwnerID),
		zap.Bool("paused", cfg.Paused),
		zap.Uint64("min_tasks_per_agent", cfg.MinTasksPerAgent),
		zap.Uint64("slot_granularity", cfg.SlotGranularity))
	return cfg, nil
}

// SetPaused switches task creation off or on
func (s *Scheduler) SetPaused(ctx context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.Update(ctx, func(w kv.Writer) error {
		cfg, err := s.ledger.Load(w)
		if err != nil {
			return err
		}
		cfg.Paused = paused
		return s.ledger.Save(w, cfg)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Task creation pause updated", zap.Bool("paused", paused))
	return nil
}

// Config returns the stored config aggregate
func (s *Scheduler) Config(ctx context.Context) (*model.Config, error) {
	var cfg *model.Config
	err := s.store.View(ctx, func(r kv.Reader) error {
		var err error
		cfg, err = s.ledger.Load(r)
		return err
	})
	return cfg, err
}

// Balances returns the funds currently held for live tasks
func (s *Scheduler) Balances(ctx context.Context) (model.Coins, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.AvailableBalance, nil
}

// Stats summarizes the current load
func (s *Scheduler) Stats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats
	err := s.store.View(ctx, func(r kv.Reader) error {
		var err error
		if stats.TaskTotal, err = s.tasks.Total(r); err != nil {
			return err
		}
		if stats.ActiveTasks, err = s.tasks.Count(r); err != nil {
			return err
		}
		heights, err := s.heightSlots.IDs(r)
		if err != nil {
			return err
		}
		times, err := s.timeSlots.IDs(r)
		if err != nil {
			return err
		}
		stats.HeightSlots = len(heights)
		stats.TimeSlots = len(times)

		cfg, err := s.ledger.Load(r)
		if err != nil {
			return err
		}
		stats.AvailableBalance = cfg.AvailableBalance
		return nil
	})
	return stats, err
}

// HashOf returns the identity hash of task
func (s *Scheduler) HashOf(task model.Task) string {
	return task.Hash()
}

// ValidateSchedule reports whether schedule can be resolved
func (s *Scheduler) ValidateSchedule(schedule model.Schedule) bool {
	return interval.Validate(schedule)
}

// GetTask returns the task stored under hash, or nil
func (s *Scheduler) GetTask(ctx context.Context, hash string) (*model.TaskView, error) {
	var view *model.TaskView
	err := s.store.View(ctx, func(r kv.Reader) error {
		task, err := s.tasks.Get(r, hash)
		if err != nil || task == nil {
			return err
		}
		v := task.View()
		view = &v
		return nil
	})
	return view, err
}

// ListTasks pages through all tasks in canonical order. A nil from starts at
// the beginning, a nil limit means storage.DefaultListLimit.
func (s *Scheduler) ListTasks(ctx context.Context, from, limit *uint64) ([]model.TaskView, error) {
	offset := uint64(0)
	if from != nil {
		offset = *from
	}
	n := storage.DefaultListLimit
	if limit != nil {
		n = *limit
	}

	var views []model.TaskView
	err := s.store.View(ctx, func(r kv.Reader) error {
		tasks, err := s.tasks.List(r, offset, n)
		views = toViews(tasks)
		return err
	})
	return views, err
}

// ListTasksByOwner returns every task of owner in canonical order
func (s *Scheduler) ListTasksByOwner(ctx context.Context, owner string) ([]model.TaskView, error) {
	var views []model.TaskView
	err := s.store.View(ctx, func(r kv.Reader) error {
		tasks, err := s.tasks.ListByOwner(r, owner)
		views = toViews(tasks)
		return err
	})
	return views, err
}

// NextDue returns the tasks in the earliest height and time slots. With a
// slot id it returns the tasks held under that id in either index.
func (s *Scheduler) NextDue(ctx context.Context, slot *uint64) (model.SlotTasks, error) {
	due := model.SlotTasks{HeightHashes: []string{}, TimeHashes: []string{}}
	err := s.store.View(ctx, func(r kv.Reader) error {
		if slot != nil {
			heights, err := s.heightSlots.Get(r, *slot)
			if err != nil {
				return err
			}
			if len(heights) > 0 {
				due.HeightID, due.HeightHashes = *slot, heights
			}
			times, err := s.timeSlots.Get(r, *slot)
			if err != nil {
				return err
			}
			if len(times) > 0 {
				due.TimeID, due.TimeHashes = *slot, times
			}
			return nil
		}

		var err error
		if due.HeightID, due.HeightHashes, err = s.heightSlots.PeekNext(r); err != nil {
			return err
		}
		due.TimeID, due.TimeHashes, err = s.timeSlots.PeekNext(r)
		return err
	})
	return due, err
}

// OccupiedSlotIDs lists the slot ids holding at least one task
func (s *Scheduler) OccupiedSlotIDs(ctx context.Context) (model.SlotIDs, error) {
	var ids model.SlotIDs
	err := s.store.View(ctx, func(r kv.Reader) error {
		var err error
		if ids.Height, err = s.heightSlots.IDs(r); err != nil {
			return err
		}
		ids.Time, err = s.timeSlots.IDs(r)
		return err
	})
	return ids, err
}

func (s *Scheduler) slotIndex(kind model.SlotKind) *storage.SlotIndex {
	if kind == model.SlotTime {
		return s.timeSlots
	}
	return s.heightSlots
}

func toViews(tasks []*model.Task) []model.TaskView {
	views := make([]model.TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, t.View())
	}
	return views
}
