package sync

import (
	"context"
	"sync"
	"time"

	"github.com/brunakemp/juschat/internal/bus"
	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/status"
	"go.uber.org/zap"
)

// messageLister is the slice of the backend client the poller uses.
type messageLister interface {
	ListMessages(ctx context.Context, conversationID string) ([]rest.Message, error)
}

// Poller drives the message refresh loop for the conversation the user
// currently has open. At most one poll is in flight at a time; a poll
// dispatched before the active conversation changed is discarded when it
// lands. Transient failures are retried silently on the next tick and only
// degrade the session status after a run of consecutive failures.
type Poller struct {
	client   messageLister
	engine   *Engine
	bus      *bus.Bus
	machine  *status.Machine
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	degradedAfter int

	mu       sync.Mutex
	active   string
	dispatch uint64
	inflight bool
	failures int
	selfID   string

	wake   chan struct{}
	cancel context.CancelFunc
}

// NewPoller creates a poller. degradedAfter is the number of consecutive
// poll failures before the session is marked degraded.
func NewPoller(client messageLister, engine *Engine, b *bus.Bus, machine *status.Machine,
	logger *zap.Logger, interval, timeout time.Duration, degradedAfter int) *Poller {
	if degradedAfter <= 0 {
		degradedAfter = 3
	}
	return &Poller{
		client:        client,
		engine:        engine,
		bus:           b,
		machine:       machine,
		logger:        logger,
		interval:      interval,
		timeout:       timeout,
		degradedAfter: degradedAfter,
		wake:          make(chan struct{}, 1),
	}
}

// SetSelf records the authenticated user's id for ownership decisions
// during merges.
func (p *Poller) SetSelf(userID string) {
	p.mu.Lock()
	p.selfID = userID
	p.mu.Unlock()
}

// SetActive switches polling to the given conversation and triggers an
// immediate refresh. Any poll already in flight for the previous
// conversation is discarded when it returns.
func (p *Poller) SetActive(conversationID string) {
	p.mu.Lock()
	p.active = conversationID
	p.dispatch++
	p.mu.Unlock()
	p.Wake()
}

// ClearActive stops message polling until a conversation is opened again.
func (p *Poller) ClearActive() {
	p.mu.Lock()
	p.active = ""
	p.dispatch++
	p.mu.Unlock()
}

// Active returns the conversation currently being polled, or "".
func (p *Poller) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Wake requests a poll outside the regular tick.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start launches the poll loop.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.pollOnce(ctx)
			case <-p.wake:
				p.pollOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the poll loop.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// ForcePoll runs one poll of the active conversation and reports its
// error, unlike the background ticks which retry silently. A no-op when
// nothing is open or a poll is already in flight.
func (p *Poller) ForcePoll(ctx context.Context) error {
	return p.poll(ctx)
}

func (p *Poller) pollOnce(ctx context.Context) {
	_ = p.poll(ctx)
}

func (p *Poller) poll(ctx context.Context) error {
	p.mu.Lock()
	if p.inflight || p.active == "" {
		p.mu.Unlock()
		return nil
	}
	conv := p.active
	seq := p.dispatch
	selfID := p.selfID
	p.inflight = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inflight = false
		p.mu.Unlock()
	}()

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dispatchedAt := time.Now()
	msgs, err := p.client.ListMessages(reqCtx, conv)
	if err != nil {
		p.onFailure(conv, err)
		return err
	}

	p.mu.Lock()
	stale := seq != p.dispatch
	p.mu.Unlock()
	if stale {
		p.logger.Debug("discarding stale poll", zap.String("conversation", conv))
		return nil
	}

	res, err := p.engine.ApplySnapshotAt(conv, msgs, selfID, dispatchedAt)
	if err != nil {
		p.logger.Error("snapshot merge failed", zap.Error(err), zap.String("conversation", conv))
		return err
	}
	p.onSuccess(conv, res)
	return nil
}

func (p *Poller) onFailure(conv string, err error) {
	p.mu.Lock()
	p.failures++
	failures := p.failures
	p.mu.Unlock()

	p.logger.Warn("poll failed", zap.Error(err),
		zap.String("conversation", conv), zap.Int("consecutive", failures))
	p.bus.Publish(bus.Event{Kind: "sync.poll_failed", At: time.Now(),
		Data: map[string]string{"conversation_id": conv, "error": err.Error()}})

	if rest.IsAuthError(err) {
		if terr := p.machine.Transition(status.AuthRequired); terr != nil {
			p.logger.Debug("status transition rejected", zap.Error(terr))
		}
		return
	}
	if failures >= p.degradedAfter && p.machine.Current() == status.Ready {
		if terr := p.machine.Transition(status.Degraded); terr != nil {
			p.logger.Debug("status transition rejected", zap.Error(terr))
		}
	}
}

func (p *Poller) onSuccess(conv string, res *SnapshotResult) {
	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()

	if p.machine.Current() == status.Degraded {
		if terr := p.machine.Transition(status.Ready); terr != nil {
			p.logger.Debug("status transition rejected", zap.Error(terr))
		}
	}
	p.logger.Debug("poll applied",
		zap.String("conversation", conv),
		zap.Int("upserted", res.Upserted),
		zap.Int("reconciled", res.Reconciled),
		zap.Int("removed", res.Removed),
		zap.Int("retained", res.Retained))
	p.bus.Publish(bus.Event{Kind: "sync.polled", At: time.Now(),
		Data: map[string]string{"conversation_id": conv}})
}
