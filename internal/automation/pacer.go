package automation

import (
	"context"
	"sync"
	"time"
)

// Pacer is a token bucket that keeps GUI sends at a human-plausible rate.
type Pacer struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// NewPacer allows burst sends immediately, then perMinute sends per minute.
// Non-positive values fall back to 5 and 60.
func NewPacer(burst int, perMinute float64) *Pacer {
	if burst <= 0 {
		burst = 5
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Pacer{
		tokens:   float64(burst),
		max:      float64(burst),
		rate:     perMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait blocks until a send is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		now := time.Now()
		p.tokens += now.Sub(p.lastTime).Seconds() * p.rate
		if p.tokens > p.max {
			p.tokens = p.max
		}
		p.lastTime = now

		if p.tokens >= 1.0 {
			p.tokens--
			p.mu.Unlock()
			return nil
		}
		wait := time.Duration((1.0 - p.tokens) / p.rate * float64(time.Second))
		p.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
