package model

import (
	"fmt"
	"math"
	"strings"
)

// Coin is an amount of a single asset denomination
type Coin struct {
	Denom  string `json:"denom"`
	Amount uint64 `json:"amount"`
}

// NewCoin creates a coin
func NewCoin(amount uint64, denom string) Coin {
	return Coin{Denom: denom, Amount: amount}
}

func (c Coin) String() string {
	return fmt.Sprintf("%d%s", c.Amount, c.Denom)
}

// Coins is an ordered set of coins, at most one entry per denomination
type Coins []Coin

// NewCoins builds a Coins value from a single amount
func NewCoins(amount uint64, denom string) Coins {
	return Coins{NewCoin(amount, denom)}
}

// IsZero reports whether no entry carries a positive amount
func (cs Coins) IsZero() bool {
	for _, c := range cs {
		if c.Amount > 0 {
			return false
		}
	}
	return true
}

// AmountOf returns the amount held for denom
func (cs Coins) AmountOf(denom string) uint64 {
	for _, c := range cs {
		if c.Denom == denom {
			return c.Amount
		}
	}
	return 0
}

// Add merges other into a copy of cs. Matching denominations are summed
// (saturating), unmatched ones are appended in the order they appear.
func (cs Coins) Add(other Coins) Coins {
	out := make(Coins, len(cs), len(cs)+len(other))
	copy(out, cs)
	for _, o := range other {
		found := false
		for i := range out {
			if out[i].Denom == o.Denom {
				out[i].Amount = saturatingAdd(out[i].Amount, o.Amount)
				found = true
				break
			}
		}
		if !found {
			out = append(out, o)
		}
	}
	return out
}

// Normalize returns a copy of cs with one entry per denomination, amounts of
// repeated denominations summed in order of first appearance.
func (cs Coins) Normalize() Coins {
	return Coins{}.Add(cs)
}

// Sub removes other from a copy of cs, flooring every denomination at zero.
// Entries are kept even when they reach zero.
func (cs Coins) Sub(other Coins) Coins {
	out := make(Coins, len(cs))
	copy(out, cs)
	for _, o := range other {
		for i := range out {
			if out[i].Denom == o.Denom {
				if out[i].Amount > o.Amount {
					out[i].Amount -= o.Amount
				} else {
					out[i].Amount = 0
				}
				break
			}
		}
	}
	return out
}

func (cs Coins) String() string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
