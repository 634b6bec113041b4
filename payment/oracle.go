// Package payment simulates the payment gateway's verdict for an order.
package payment

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Oracle decides whether a simulated payment succeeded.
type Oracle interface {
	Decide() bool
}

// RandomOracle succeeds with probability successRate.
type RandomOracle struct {
	mu          sync.Mutex
	rng         *rand.Rand
	successRate float64
}

func NewRandomOracle(successRate float64, seed uint64) *RandomOracle {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomOracle{
		rng:         rand.New(rand.NewPCG(seed, seed>>1|1)),
		successRate: clamp(successRate),
	}
}

func (o *RandomOracle) Decide() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.Float64() < o.successRate
}

func clamp(rate float64) float64 {
	switch {
	case rate < 0:
		return 0
	case rate > 1:
		return 1
	default:
		return rate
	}
}

// FixedOracle always returns the same verdict.
type FixedOracle bool

func (o FixedOracle) Decide() bool { return bool(o) }

// SequenceOracle replays verdicts in order and repeats the last one once
// exhausted. An empty sequence always fails.
type SequenceOracle struct {
	mu       sync.Mutex
	verdicts []bool
	next     int
}

func NewSequenceOracle(verdicts ...bool) *SequenceOracle {
	return &SequenceOracle{verdicts: verdicts}
}

func (o *SequenceOracle) Decide() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.verdicts) == 0 {
		return false
	}
	if o.next >= len(o.verdicts) {
		return o.verdicts[len(o.verdicts)-1]
	}
	v := o.verdicts[o.next]
	o.next++
	return v
}
