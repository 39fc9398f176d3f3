package mapfeed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller drives the reconciliation loop. All scheduling and error state
// lives here, guarded by one mutex; cycles never overlap.
type Poller struct {
	sources  []Source
	interval time.Duration
	maxWait  time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	snapshot []MapSensor
	lastErr  error
	failures int
}

// NewPoller builds a poller over the given sources. interval is the nominal
// cycle period, maxWait caps the failure backoff.
func NewPoller(sources []Source, interval, maxWait time.Duration, log *zap.Logger) *Poller {
	return &Poller{
		sources:  sources,
		interval: interval,
		maxWait:  maxWait,
		log:      log,
	}
}

// Snapshot returns the last successfully merged list and the error from the
// most recent cycle, if any. The returned slice is shared; callers must not
// mutate it.
func (p *Poller) Snapshot() ([]MapSensor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot, p.lastErr
}

// NextInterval returns the wait before the next cycle: the nominal interval
// doubled per consecutive total failure, capped at maxWait.
func (p *Poller) NextInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backoffLocked()
}

func (p *Poller) backoffLocked() time.Duration {
	wait := p.interval
	for i := 0; i < p.failures; i++ {
		wait *= 2
		if wait >= p.maxWait {
			return p.maxWait
		}
	}
	return wait
}

// Run polls until the context is canceled. The first cycle fires immediately.
func (p *Poller) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		p.cycle(ctx)
		timer.Reset(p.NextInterval())
	}
}

// cycle fetches every source once and rebuilds the snapshot from the
// successful fetches only, so records from a source that failed this cycle
// never carry over. Sources are concatenated, never merged by identity: a
// device present in both feeds yields two entries. A cycle with zero
// successful sources keeps the previous snapshot and counts toward backoff.
func (p *Poller) cycle(ctx context.Context) {
	merged := make([]MapSensor, 0)
	var firstErr error
	succeeded := 0

	for _, src := range p.sources {
		records, err := src.Fetch(ctx)
		if err != nil {
			p.log.Warn("source fetch failed",
				zap.String("source", src.Name()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		succeeded++
		merged = append(merged, records...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if succeeded == 0 {
		p.failures++
		p.lastErr = firstErr
		p.log.Warn("poll cycle failed",
			zap.Int("consecutive_failures", p.failures),
			zap.Duration("next_wait", p.backoffLocked()))
		return
	}

	p.snapshot = merged
	p.failures = 0
	p.lastErr = firstErr
	p.log.Debug("poll cycle complete",
		zap.Int("sensors", len(merged)),
		zap.Bool("degraded", firstErr != nil))
}
