package display

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds how Dial and cmd/wlmon retry a compositor socket.
type RetryPolicy struct {
	// Attempts is the number of connects Dial makes; values below one
	// mean a single try.
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter spreads each wait between d/2 and 3d/2 when a source is given.
	Jitter bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   5,
		Initial:    100 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Delay is the wait after failed try n (1-based).
func (p RetryPolicy) Delay(n int, rng *rand.Rand) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	growth := p.Multiplier
	if growth < 1 {
		growth = 1
	}
	// keeps the jittered value inside time.Duration
	ceiling := float64(math.MaxInt64 / 2)
	d := float64(p.Initial)
	for i := 1; i < n && d < ceiling; i++ {
		d *= growth
		if p.Max > 0 && d >= float64(p.Max) {
			break
		}
	}
	delay := time.Duration(min(d, ceiling))
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	if p.Jitter && rng != nil {
		delay = delay/2 + time.Duration(rng.Int63n(int64(delay)+1))
	}
	return delay
}
