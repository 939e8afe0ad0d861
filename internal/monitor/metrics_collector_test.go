package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/croncat/internal/model"
	"github.com/t77yq/croncat/internal/testutil"
)

type fakeStats struct {
	stats model.Stats
	err   error
}

func (f *fakeStats) Stats(ctx context.Context) (model.Stats, error) {
	return f.stats, f.err
}

type fakeAgents uint64

func (f fakeAgents) ActiveAgentCount() uint64 {
	return uint64(f)
}

func TestMetricsCollector(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	source := &fakeStats{stats: model.Stats{
		TaskTotal:        4,
		ActiveTasks:      3,
		HeightSlots:      2,
		TimeSlots:        1,
		AvailableBalance: model.NewCoins(111, "atom"),
	}}
	collector := NewMetricsCollector(js, source, fakeAgents(2), 200*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, collector.Start(ctx))
	defer collector.Stop()
	require.NoError(t, testutil.WaitForStream(t, js, metricsStreamName, 2*time.Second))

	t.Run("CollectMetrics", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			return collector.Latest() != nil
		}, 5*time.Second, 50*time.Millisecond)

		msgs, err := testutil.ConsumeMessages(js, metricsSubject, time.Second)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)

		var snapshot Snapshot
		require.NoError(t, json.Unmarshal(msgs[0], &snapshot))
		assert.NotZero(t, snapshot.Timestamp)
		assert.GreaterOrEqual(t, snapshot.CPUUsage, 0.0)
		assert.GreaterOrEqual(t, snapshot.MemoryUsage, 0.0)
		assert.Equal(t, uint64(2), snapshot.ActiveAgents)
		assert.Equal(t, source.stats, snapshot.Scheduler)
	})

	t.Run("StatsFailure", func(t *testing.T) {
		failing := NewMetricsCollector(js, &fakeStats{err: errors.New("store closed")}, nil, time.Hour, zaptest.NewLogger(t))
		failing.collectMetrics(ctx)
		assert.Nil(t, failing.Latest())
	})
}
