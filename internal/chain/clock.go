// Package chain provides the execution context (block height and time)
// tasks are scheduled against.
package chain

import (
	"sync"
	"time"

	"github.com/t77yq/croncat/internal/model"
)

// Clock returns the current execution context
type Clock interface {
	Now() model.Env
}

// BlockClock derives the height from wall time at a fixed block interval
type BlockClock struct {
	genesisHeight uint64
	genesisTime   time.Time
	blockTime     time.Duration
	now           func() time.Time
}

// NewBlockClock creates a block clock. A non-positive blockTime is treated
// as one second.
func NewBlockClock(genesisHeight uint64, genesisTime time.Time, blockTime time.Duration) *BlockClock {
	if blockTime <= 0 {
		blockTime = time.Second
	}
	return &BlockClock{
		genesisHeight: genesisHeight,
		genesisTime:   genesisTime,
		blockTime:     blockTime,
		now:           time.Now,
	}
}

// Now implements Clock
func (c *BlockClock) Now() model.Env {
	t := c.now()
	elapsed := t.Sub(c.genesisTime)
	if elapsed < 0 {
		elapsed = 0
	}
	return model.Env{
		Height: c.genesisHeight + uint64(elapsed/c.blockTime),
		Time:   uint64(t.UnixNano()),
	}
}

// FixedClock returns whatever it was last set to
type FixedClock struct {
	mu  sync.RWMutex
	env model.Env
}

// NewFixedClock creates a clock pinned to env
func NewFixedClock(env model.Env) *FixedClock {
	return &FixedClock{env: env}
}

// Now implements Clock
func (c *FixedClock) Now() model.Env {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.env
}

// Set pins the clock to env
func (c *FixedClock) Set(env model.Env) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.env = env
}

// Advance moves the clock forward by blocks and d
func (c *FixedClock) Advance(blocks uint64, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.env.Height += blocks
	c.env.Time += uint64(d)
}
