// Package rate paces run starts across workers.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter paces callers. Wait blocks until the caller may start its next
// unit of work or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// LeakyBucket spaces run starts 1/rate seconds apart.
//
// The bucket keeps a virtual drip time that advances by one interval per
// granted start. A caller that is behind schedule starts at once; starts
// never accumulate beyond the burst size, so a stalled target does not cause
// a flood of runs when it recovers.
//
// LeakyBucket is safe for concurrent use from multiple goroutines.
type LeakyBucket struct {
	rate        float64 // starts per second
	maxBurst    float64
	lastDrip    time.Time
	accumulated float64
	mu          sync.Mutex

	granted  atomic.Int64
	waitTime atomic.Int64 // nanoseconds
}

// NewLeakyBucket creates a bucket granting rate starts per second. A
// non-positive rate is treated as 1. The first start is granted at once.
func NewLeakyBucket(rate float64) *LeakyBucket {
	return NewLeakyBucketWithBurst(rate, 1)
}

// NewLeakyBucketWithBurst creates a bucket that lets up to maxBurst starts
// pile up while callers are slow.
func NewLeakyBucketWithBurst(rate, maxBurst float64) *LeakyBucket {
	if rate <= 0 {
		rate = 1
	}
	if maxBurst < 1 {
		maxBurst = 1
	}
	return &LeakyBucket{
		rate:        rate,
		maxBurst:    maxBurst,
		lastDrip:    time.Now(),
		accumulated: 1,
	}
}

// Next reserves a start and returns when it may happen. The time is in the
// past or now when the caller is behind schedule.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(lb.lastDrip).Seconds(); elapsed > 0 {
		lb.accumulated += elapsed * lb.rate
	}
	if lb.accumulated > lb.maxBurst {
		lb.accumulated = lb.maxBurst
	}
	lb.granted.Add(1)

	if lb.accumulated >= 1 {
		lb.accumulated--
		if now.After(lb.lastDrip) {
			lb.lastDrip = now
		}
		return now
	}

	wait := time.Duration((1 - lb.accumulated) / lb.rate * float64(time.Second))
	at := now
	if lb.lastDrip.After(now) {
		at = lb.lastDrip
	}
	at = at.Add(wait)

	// The drip time moves to the granted start so the sleep is not counted
	// again on the next call.
	lb.accumulated = 0
	lb.lastDrip = at
	lb.waitTime.Add(int64(at.Sub(now)))
	return at
}

// Wait blocks until the next start is due.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	d := time.Until(lb.Next())
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rate returns the configured starts per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Stats returns counters describing the bucket's operation.
func (lb *LeakyBucket) Stats() Stats {
	lb.mu.Lock()
	rate := lb.rate
	maxBurst := lb.maxBurst
	lb.mu.Unlock()

	return Stats{
		Rate:     rate,
		MaxBurst: maxBurst,
		Granted:  lb.granted.Load(),
		WaitTime: time.Duration(lb.waitTime.Load()),
	}
}

// Stats contains statistics about a leaky bucket.
type Stats struct {
	Rate     float64       `json:"rate"`
	MaxBurst float64       `json:"maxBurst"`
	Granted  int64         `json:"granted"`
	WaitTime time.Duration `json:"waitTime"`
}

// Unlimited is a Limiter that never waits.
type Unlimited struct{}

// Wait returns ctx.Err().
func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}
