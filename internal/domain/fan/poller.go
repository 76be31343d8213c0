package fan

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Poller drives periodic fan updates while a consumer is active.
type Poller struct {
	interval  time.Duration
	tolerance time.Duration
	tick      func()

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithTolerance sets the scheduling slack. Ticks arriving closer than
// interval-tolerance to the previous one are dropped.
func WithTolerance(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.tolerance = d
	}
}

// NewPoller creates a poller calling tick on every interval.
func NewPoller(tick func(), opts ...PollerOption) *Poller {
	p := &Poller{
		interval:  time.Second,
		tolerance: 200 * time.Millisecond,
		tick:      tick,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tolerance > p.interval {
		p.tolerance = p.interval
	}
	return p
}

// Start begins polling. Calling Start while running is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})

	log.Debug().Dur("interval", p.interval).Msg("Fan polling started")
	go p.loop(p.stopCh, p.done)
}

func (p *Poller) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if now.Sub(last) < p.interval-p.tolerance {
				continue
			}
			last = now
			p.tick()
		}
	}
}

// Stop ends polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()

	<-done
	log.Debug().Msg("Fan polling stopped")
}

// IsRunning reports whether polling is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
