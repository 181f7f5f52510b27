// Package syncer replays actions queued while the spreadsheet host was unreachable once
// connectivity returns, and tracks whether the host is reachable.
package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/estatedir/internal/fetch"
	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/pkg/logger"
	"github.com/charlesng35/estatedir/pkg/metrics"
)

// Queue is the pending-action storage the coordinator drains.
type Queue interface {
	Pending(ctx context.Context) ([]models.PendingAction, error)
	MarkProcessed(ctx context.Context, id uint, at time.Time) error
	RecordFailure(ctx context.Context, id uint, cause error) error
	PendingCount(ctx context.Context) (int64, error)
}

// Handler replays an action that has no endpoint of its own.
type Handler func(ctx context.Context, action models.PendingAction) error

// Status is a snapshot of the coordinator.
type Status struct {
	Online     bool       `json:"online"`
	Syncing    bool       `json:"syncing"`
	Pending    int64      `json:"pending"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Result summarises one SyncNow call. Skipped is set when nothing ran because a pass was
// already in flight or the host is offline.
type Result struct {
	Skipped   bool `json:"skipped"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
}

// Coordinator owns the online flag and the one-pass-at-a-time replay of the queue.
type Coordinator struct {
	queue    Queue
	client   fetch.Doer
	timeout  time.Duration
	handlers map[string]Handler
	now      func() time.Time
	log      *zap.Logger
	onPass   func(ctx context.Context, result Result, at time.Time)

	// publishMu orders status deliveries; it is taken before mu, never after.
	publishMu sync.Mutex

	mu          sync.Mutex
	online      bool
	syncing     bool
	pending     int64
	lastSyncAt  *time.Time
	lastError   string
	subscribers map[int]func(Status)
	nextSubID   int
	closed      bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithHTTPClient sets the client used to replay actions that carry an endpoint.
func WithHTTPClient(client fetch.Doer) Option {
	return func(c *Coordinator) {
		if client != nil {
			c.client = client
		}
	}
}

// WithRequestTimeout bounds each replayed HTTP request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides the clock used to stamp processed actions.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithInitialOnline sets the starting connectivity state. Coordinators start online.
func WithInitialOnline(online bool) Option {
	return func(c *Coordinator) {
		c.online = online
	}
}

// WithLastSync seeds the last completed pass time, for example from persisted state.
func WithLastSync(at time.Time) Option {
	return func(c *Coordinator) {
		if !at.IsZero() {
			at := at
			c.lastSyncAt = &at
		}
	}
}

// WithPassHook registers fn to run after every completed pass.
func WithPassHook(fn func(ctx context.Context, result Result, at time.Time)) Option {
	return func(c *Coordinator) {
		c.onPass = fn
	}
}

// NewCoordinator builds a coordinator over queue.
func NewCoordinator(queue Queue, opts ...Option) (*Coordinator, error) {
	if queue == nil {
		return nil, errors.New("syncer: queue is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		queue:       queue,
		client:      http.DefaultClient,
		timeout:     fetch.DefaultTimeout,
		handlers:    make(map[string]Handler),
		now:         time.Now,
		log:         logger.WithModule("syncer"),
		online:      true,
		subscribers: make(map[int]func(Status)),
		bgCtx:       ctx,
		bgCancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	metrics.Online.Set(boolGauge(c.online))
	return c, nil
}

// RegisterHandler routes actions of the given type to fn.
func (c *Coordinator) RegisterHandler(actionType string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[actionType] = fn
}

// Subscribe registers fn to receive every status change. The returned function removes it.
// Deliveries happen one at a time in the order the snapshots were taken, so fn must not call
// methods that change coordinator state.
func (c *Coordinator) Subscribe(fn func(Status)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Online reports the current connectivity flag.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records connectivity. Going from offline to online starts a sync pass in the
// background.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	if c.closed || c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	reconnected := online
	if reconnected {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	metrics.Online.Set(boolGauge(online))
	c.log.Info("connectivity changed", zap.Bool("online", online))
	c.publish()

	if reconnected {
		go func() {
			defer c.wg.Done()
			c.SyncNow(c.bgCtx)
		}()
	}
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	status := Status{
		Online:    c.online,
		Syncing:   c.syncing,
		Pending:   c.pending,
		LastError: c.lastError,
	}
	if c.lastSyncAt != nil {
		at := *c.lastSyncAt
		status.LastSyncAt = &at
	}
	return status
}

// RefreshPending reloads the pending counter from the queue and publishes it.
func (c *Coordinator) RefreshPending(ctx context.Context) error {
	count, err := c.queue.PendingCount(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pending = count
	c.mu.Unlock()
	metrics.PendingActions.Set(float64(count))
	c.publish()
	return nil
}

// SyncNow runs one pass over the pending queue. Failures are recorded per action and in
// Status; they never stop the pass or surface as an error.
func (c *Coordinator) SyncNow(ctx context.Context) Result {
	c.mu.Lock()
	if c.syncing || !c.online || c.closed {
		c.mu.Unlock()
		return Result{Skipped: true}
	}
	c.syncing = true
	c.mu.Unlock()
	c.publish()

	result, passErr := c.runPass(ctx)

	count, countErr := c.queue.PendingCount(ctx)
	finishedAt := c.now().UTC()

	c.mu.Lock()
	c.syncing = false
	c.lastSyncAt = &finishedAt
	switch {
	case passErr != nil:
		c.lastError = passErr.Error()
	case countErr != nil:
		c.lastError = countErr.Error()
	default:
		c.lastError = ""
	}
	if countErr == nil {
		c.pending = count
	}
	pending := c.pending
	hook := c.onPass
	c.mu.Unlock()

	metrics.PendingActions.Set(float64(pending))
	c.log.Info("sync pass finished",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Int64("pending", pending),
	)
	if hook != nil {
		hook(ctx, result, finishedAt)
	}
	c.publish()
	return result
}

func (c *Coordinator) runPass(ctx context.Context) (Result, error) {
	var result Result

	actions, err := c.queue.Pending(ctx)
	if err != nil {
		c.log.Warn("could not read pending actions", zap.Error(err))
		return result, fmt.Errorf("read pending actions: %w", err)
	}

	var lastErr error
	for _, action := range actions {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if err := c.replay(ctx, action); err != nil {
			result.Failed++
			lastErr = fmt.Errorf("action %d (%s): %w", action.ID, action.Type, err)
			metrics.SyncActions.WithLabelValues("failed").Inc()
			c.log.Warn("pending action failed",
				zap.Uint("id", action.ID),
				zap.String("type", action.Type),
				zap.Error(err),
			)
			if recErr := c.queue.RecordFailure(ctx, action.ID, err); recErr != nil {
				c.log.Error("could not record action failure", zap.Uint("id", action.ID), zap.Error(recErr))
			}
			continue
		}

		if err := c.queue.MarkProcessed(ctx, action.ID, c.now().UTC()); err != nil {
			result.Failed++
			lastErr = fmt.Errorf("action %d (%s): %w", action.ID, action.Type, err)
			c.log.Error("could not mark action processed", zap.Uint("id", action.ID), zap.Error(err))
			continue
		}
		result.Processed++
		metrics.SyncActions.WithLabelValues("processed").Inc()
	}
	return result, lastErr
}

func (c *Coordinator) replay(ctx context.Context, action models.PendingAction) error {
	if action.HasEndpoint() {
		return c.replayHTTP(ctx, action)
	}

	c.mu.Lock()
	handler, ok := c.handlers[action.Type]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler registered for action type %q", action.Type)
	}
	return handler(ctx, action)
}

func (c *Coordinator) replayHTTP(ctx context.Context, action models.PendingAction) error {
	req, err := http.NewRequestWithContext(ctx, action.Method, action.URL, bytes.NewReader(action.Data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := fetch.Do(ctx, c.client, req, fetch.Options{MaxAttempts: -1, Timeout: c.timeout})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Coordinator) publish() {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	status := c.statusLocked()
	subs := make([]func(Status), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(status)
	}
}

// Close stops background passes and waits for any in flight to finish.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.bgCancel()
	c.wg.Wait()
	return nil
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
