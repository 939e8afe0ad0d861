// Package agent tracks the executors that pick up due tasks. The scheduler
// only needs to know how many of them are currently active.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/croncat/internal/model"
)

const (
	// DefaultHeartbeatTimeout is how long an executor stays healthy without a heartbeat
	DefaultHeartbeatTimeout = 15 * time.Second

	// MinHeartbeatTimeout is the shortest timeout a registry accepts
	MinHeartbeatTimeout = time.Second
)

// ErrExecutorNotFound is returned when an executor is not registered
var ErrExecutorNotFound = errors.New("executor not found")

// Registry keeps the set of known executors and their health
type Registry struct {
	logger    *zap.Logger
	timeout   time.Duration
	executors map[string]*model.Executor
	mu        sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

// NewRegistry creates an executor registry
func NewRegistry(timeout time.Duration, logger *zap.Logger) *Registry {
	switch {
	case timeout <= 0:
		timeout = DefaultHeartbeatTimeout
	case timeout < MinHeartbeatTimeout:
		timeout = MinHeartbeatTimeout
	}
	return &Registry{
		logger:    logger.Named("agent-registry"),
		timeout:   timeout,
		executors: make(map[string]*model.Executor),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start starts the health check loop
func (r *Registry) Start(ctx context.Context) error {
	r.logger.Info("Starting agent registry", zap.Duration("heartbeat_timeout", r.timeout))
	go r.healthCheckLoop(ctx)
	return nil
}

// Stop stops the health check loop
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping agent registry")
		close(r.stop)
	})
}

// Heartbeat registers the executor on first contact and refreshes it afterwards
func (r *Registry) Heartbeat(hb model.Heartbeat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	executor, exists := r.executors[hb.ExecutorID]
	if !exists {
		executor = &model.Executor{ID: hb.ExecutorID}
		r.executors[hb.ExecutorID] = executor
		r.logger.Info("Executor registered", zap.String("executor_id", hb.ExecutorID))
	}
	if hb.Address != "" {
		executor.Address = hb.Address
	}
	executor.TaskCount = hb.TaskCount
	executor.LastHeartbeat = r.now()
	if executor.Status != model.ExecutorStatusHealthy {
		executor.Status = model.ExecutorStatusHealthy
	}
}

// Unregister removes an executor
func (r *Registry) Unregister(executorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	executor, exists := r.executors[executorID]
	if !exists {
		return ErrExecutorNotFound
	}
	executor.Status = model.ExecutorStatusOffline
	delete(r.executors, executorID)

	r.logger.Info("Executor unregistered", zap.String("executor_id", executorID))
	return nil
}

// Get returns a copy of the executor state
func (r *Registry) Get(executorID string) (model.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, exists := r.executors[executorID]
	if !exists {
		return model.Executor{}, ErrExecutorNotFound
	}
	return *executor, nil
}

// ActiveAgentCount returns the number of healthy executors
func (r *Registry) ActiveAgentCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n uint64
	for _, e := range r.executors {
		if e.Status == model.ExecutorStatusHealthy {
			n++
		}
	}
	return n
}

// healthCheckLoop runs periodic health checks on executors
func (r *Registry) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(r.timeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.checkExecutorHealth()
		}
	}
}

// checkExecutorHealth marks executors without a recent heartbeat unhealthy
func (r *Registry) checkExecutorHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, executor := range r.executors {
		if now.Sub(executor.LastHeartbeat) > r.timeout && executor.Status == model.ExecutorStatusHealthy {
			executor.Status = model.ExecutorStatusUnhealthy
			r.logger.Warn("Executor marked as unhealthy",
				zap.String("executor_id", id),
				zap.Time("last_heartbeat", executor.LastHeartbeat))
		}
	}
}
