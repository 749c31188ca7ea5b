// Package worker runs the engine's recurring jobs: the timeline sweep and
// the engagement refresh.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// periodic runs fn once at start and then on every tick until stopped.
type periodic struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

func (p *periodic) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("%s already running", p.name)
	}
	if p.interval <= 0 {
		p.mu.Unlock()
		return fmt.Errorf("%s: interval must be positive", p.name)
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	logger.Info("["+p.name+"] starting", "interval", p.interval.String())

	p.wg.Add(1)
	go p.loop()
	return nil
}

// Stop cancels the running pass, if any, and waits for it to return.
func (p *periodic) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	logger.Info("[" + p.name + "] stopped")
}

// Running reports whether the loop is active.
func (p *periodic) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *periodic) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.fn(p.ctx)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.fn(p.ctx)
		}
	}
}
