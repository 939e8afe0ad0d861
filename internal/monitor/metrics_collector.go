// Package monitor periodically publishes scheduler load and host usage.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/croncat/internal/model"
)

const (
	metricsStreamName = "METRICS"
	metricsSubject    = "metrics.scheduler"
	metricsMaxAge     = 24 * time.Hour
)

// StatsSource reports scheduler load
type StatsSource interface {
	Stats(ctx context.Context) (model.Stats, error)
}

// AgentCounter reports the number of active executors
type AgentCounter interface {
	ActiveAgentCount() uint64
}

// Snapshot is one published metrics sample
type Snapshot struct {
	Timestamp    time.Time   `json:"timestamp"`
	CPUUsage     float64     `json:"cpu_usage"`
	MemoryUsage  float64     `json:"memory_usage"`
	ActiveAgents uint64      `json:"active_agents"`
	Scheduler    model.Stats `json:"scheduler"`
}

// MetricsCollector samples scheduler stats and host usage on an interval
type MetricsCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	stats    StatsSource
	agents   AgentCounter
	interval time.Duration
	mu       sync.RWMutex
	latest   *Snapshot
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(js nats.JetStreamContext, stats StatsSource, agents AgentCounter, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		js:       js,
		stats:    stats,
		agents:   agents,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start creates the metrics stream and starts the collection loop
func (c *MetricsCollector) Start(ctx context.Context) error {
	c.logger.Info("Starting metrics collector", zap.Duration("interval", c.interval))

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:     metricsStreamName,
		Subjects: []string{"metrics.>"},
		Storage:  nats.FileStorage,
		MaxAge:   metricsMaxAge,
	}, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create metrics stream: %w", err)
	}

	go c.collectLoop(ctx)

	return nil
}

// Stop stops the metrics collector
func (c *MetricsCollector) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping metrics collector")
		close(c.stop)
	})
}

// collectLoop runs the metrics collection loop
func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collectMetrics(ctx)
		}
	}
}

// collectMetrics takes one sample and publishes it
func (c *MetricsCollector) collectMetrics(ctx context.Context) {
	snapshot, err := c.sample(ctx)
	if err != nil {
		c.logger.Error("Failed to collect metrics", zap.Error(err))
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("Failed to marshal metrics", zap.Error(err))
		return
	}

	if _, err := c.js.Publish(metricsSubject, data); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.latest = snapshot
	c.mu.Unlock()

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage),
		zap.Uint64("active_tasks", snapshot.Scheduler.ActiveTasks),
		zap.Uint64("active_agents", snapshot.ActiveAgents))
}

func (c *MetricsCollector) sample(ctx context.Context) (*Snapshot, error) {
	stats, err := c.stats.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduler stats: %w", err)
	}

	// Zero interval compares against the previous call
	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU usage: %w", err)
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}

	snapshot := &Snapshot{
		Timestamp:   time.Now(),
		MemoryUsage: memInfo.UsedPercent,
		Scheduler:   stats,
	}
	if len(cpuPercent) > 0 {
		snapshot.CPUUsage = cpuPercent[0]
	}
	if c.agents != nil {
		snapshot.ActiveAgents = c.agents.ActiveAgentCount()
	}
	return snapshot, nil
}

// Latest returns the last published snapshot, or nil before the first one
func (c *MetricsCollector) Latest() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}
