package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/t77yq/croncat/internal/kv"
	"github.com/t77yq/croncat/internal/model"
)

// ErrNotInitialized is returned when no config has been saved yet
var ErrNotInitialized = errors.New("scheduler config not initialized")

var configKey = []byte("meta/config")

// Ledger persists the config aggregate, including the running total of
// funds held for live tasks. The total is only ever adjusted, never
// recomputed from the tasks.
type Ledger struct{}

// NewLedger creates a ledger
func NewLedger() *Ledger {
	return &Ledger{}
}

// Load returns the stored config
func (l *Ledger) Load(r kv.Reader) (*model.Config, error) {
	data, ok, err := r.Get(configKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}

	var cfg model.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Save stores cfg
func (l *Ledger) Save(w kv.Writer, cfg *model.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return w.Set(configKey, data)
}

// Credit adds coins to the available balance
func (l *Ledger) Credit(w kv.Writer, coins model.Coins) (*model.Config, error) {
	return l.adjust(w, func(cfg *model.Config) {
		cfg.AvailableBalance = cfg.AvailableBalance.Add(coins)
	})
}

// Debit removes coins from the available balance, flooring at zero
func (l *Ledger) Debit(w kv.Writer, coins model.Coins) (*model.Config, error) {
	return l.adjust(w, func(cfg *model.Config) {
		cfg.AvailableBalance = cfg.AvailableBalance.Sub(coins)
	})
}

func (l *Ledger) adjust(w kv.Writer, fn func(cfg *model.Config)) (*model.Config, error) {
	cfg, err := l.Load(w)
	if err != nil {
		return nil, err
	}
	fn(cfg)
	if err := l.Save(w, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
