package health

import (
	"math"
	"time"
)

// Backoff is a capped exponential cooldown schedule.
type Backoff struct {
	Base       time.Duration `yaml:"base_cooldown"`
	Max        time.Duration `yaml:"max_cooldown"`
	Multiplier float64       `yaml:"multiplier"`
}

// DefaultBackoff waits 1s, 2s, 4s, ... up to one minute.
var DefaultBackoff = Backoff{
	Base:       1 * time.Second,
	Max:        60 * time.Second,
	Multiplier: 2.0,
}

// Delay returns the cooldown after the given number of consecutive failures
// (1-indexed). It never decreases as failures grows.
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.Base) * math.Pow(mult, float64(failures-1))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	return time.Duration(delay)
}
