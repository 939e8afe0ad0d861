package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/t77yq/croncat/internal/model"
)

func TestBlockClock(t *testing.T) {
	genesis := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewBlockClock(12345, genesis, 5*time.Second)

	clock.now = func() time.Time { return genesis.Add(17 * time.Second) }
	env := clock.Now()
	assert.Equal(t, uint64(12348), env.Height)
	assert.Equal(t, uint64(genesis.Add(17*time.Second).UnixNano()), env.Time)

	clock.now = func() time.Time { return genesis.Add(-time.Hour) }
	assert.Equal(t, uint64(12345), clock.Now().Height)
}

func TestBlockClockDefaultsBlockTime(t *testing.T) {
	genesis := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewBlockClock(0, genesis, 0)
	clock.now = func() time.Time { return genesis.Add(3 * time.Second) }
	assert.Equal(t, uint64(3), clock.Now().Height)
}

func TestFixedClock(t *testing.T) {
	clock := NewFixedClock(model.Env{Height: 10, Time: 100})
	assert.Equal(t, model.Env{Height: 10, Time: 100}, clock.Now())

	clock.Advance(2, time.Nanosecond*50)
	assert.Equal(t, model.Env{Height: 12, Time: 150}, clock.Now())

	clock.Set(model.Env{Height: 1})
	assert.Equal(t, model.Env{Height: 1}, clock.Now())
}
