package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/estatedir/pkg/logger"
)

// Prober checks whether the spreadsheet host answers.
type Prober interface {
	Probe(ctx context.Context) error
}

// StatusSink receives connectivity observations.
type StatusSink interface {
	SetOnline(online bool)
}

// Monitor periodically probes the spreadsheet host and forwards the outcome to a sink.
type Monitor struct {
	prober   Prober
	sink     StatusSink
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewMonitor builds a monitor probing every interval. Each probe is bounded by timeout,
// which defaults to half the interval.
func NewMonitor(prober Prober, sink StatusSink, interval, timeout time.Duration) (*Monitor, error) {
	if prober == nil || sink == nil {
		return nil, errors.New("syncer: monitor needs a prober and a sink")
	}
	if interval <= 0 {
		return nil, errors.New("syncer: monitor interval must be positive")
	}
	if timeout <= 0 {
		timeout = interval / 2
	}
	return &Monitor{
		prober:   prober,
		sink:     sink,
		interval: interval,
		timeout:  timeout,
		log:      logger.WithModule("netstatus"),
	}, nil
}

// Check probes once and reports the result.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	if ctx.Err() != nil {
		return false
	}
	online := err == nil
	if err != nil {
		m.log.Debug("probe failed", zap.Error(err))
	}
	m.sink.SetOnline(online)
	return online
}

// Start probes immediately and then on every tick until Stop or ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(ctx, m.done)
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}
