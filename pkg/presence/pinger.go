package presence

import (
	"log/slog"
	"sync"
	"time"
)

// Pinger drives the liveness heartbeat for one connection: an immediate
// ping on start, then one per interval until stopped. It is started on
// connect and stopped on disconnect, so pings never outlive the transport.
type Pinger struct {
	interval time.Duration
	send     func() error

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

func NewPinger(interval time.Duration, send func() error) *Pinger {
	return &Pinger{interval: interval, send: send}
}

// Start sends one ping immediately and then on the fixed interval.
// Starting a running pinger is a no-op.
func (p *Pinger) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	if err := p.send(); err != nil {
		slog.Debug("Ping failed", "error", err)
	}

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.send(); err != nil {
					slog.Debug("Ping failed", "error", err)
				}
			case <-done:
				return
			}
		}
	}()
}

// Stop halts the heartbeat. Stopping a stopped pinger is a no-op.
func (p *Pinger) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.done)
}
