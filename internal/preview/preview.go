// File: internal/preview/preview.go
// Description: Live screenshot streaming for operator preview. The poller is
// scheduled independently of any session and deliberately bypasses the
// session's screenshot cache: sharing it would race the decision loop's
// invalidation.
package preview

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/config"
)

// Frame is one preview capture.
type Frame struct {
	SutID    string
	Image    []byte
	Captured time.Time
}

// Consumer receives preview frames. It must not block for long; a slow
// consumer delays subsequent captures, never the automation loop.
type Consumer func(Frame)

// Poller streams screenshots from one SUT at a fixed cadence.
type Poller struct {
	sutID    string
	agent    schemas.AgentClient
	cfg      config.PreviewConfig
	consumer Consumer
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller for one SUT.
func New(sutID string, agent schemas.AgentClient, cfg config.PreviewConfig, consumer Consumer, logger *zap.Logger) *Poller {
	return &Poller{
		sutID:    sutID,
		agent:    agent,
		cfg:      cfg,
		consumer: consumer,
		logger:   logger.Named("preview").With(zap.String("sut", sutID)),
	}
}

// Start launches the polling loop. Repeated calls while running are no-ops.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.logger.Warn("Preview poller already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(runCtx)
	p.logger.Info("Preview streaming started", zap.Duration("interval", p.cfg.Interval))
}

// Stop halts the loop and waits for the final in-flight capture to settle.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("Preview streaming stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	interval := p.cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		image, err := p.agent.Screenshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Preview is best effort; skip the cycle and keep streaming.
			p.logger.Warn("Preview capture failed", zap.Error(err))
			continue
		}
		p.consumer(Frame{SutID: p.sutID, Image: image, Captured: time.Now()})
	}
}
