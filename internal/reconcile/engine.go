// Package reconcile brings a node's ledger up to date with the network on
// join and keeps it current afterwards.
//
// Two producers feed one consumer. The live producer forwards the topic
// subscription into a queue; the history producer replays past envelopes.
// The consumer applies the whole history first and only then starts draining
// live envelopes, so anything seen by both paths is suppressed by the
// ledger's identity dedup.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/ledger"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/transport"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/wire"
)

var ErrRunning = errors.New("engine already running")

type State int32

const (
	Cold State = iota
	Replaying
	Live
	Stopped
)

func (s State) String() string {
	switch s {
	case Cold:
		return "cold"
	case Replaying:
		return "replaying"
	case Live:
		return "live"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

type Config struct {
	Topic string
	// HistoryTimeout bounds the history replay. Zero means no bound. On
	// expiry the engine goes live with the history applied so far.
	HistoryTimeout time.Duration
	// QueueSize is how many live envelopes may wait while history replays.
	QueueSize int
}

type Engine struct {
	transport transport.Transport
	ledger    *ledger.Ledger
	cfg       Config
	log       *zap.Logger
	metrics   *metrics

	state atomic.Int32

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	sub      transport.Subscription
	group    *errgroup.Group
	replayed chan struct{}
}

func New(t transport.Transport, l *ledger.Ledger, cfg Config, log *zap.Logger, reg prometheus.Registerer) (*Engine, error) {
	if cfg.Topic == "" {
		cfg.Topic = wire.ContentTopic
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		transport: t,
		ledger:    l,
		cfg:       cfg,
		log:       log.With(zap.String("topic", cfg.Topic)),
		metrics:   m,
		replayed:  make(chan struct{}),
	}
	e.setState(Cold)
	return e, nil
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Running reports whether the engine is replaying or live, which implies the
// transport was ready when it started.
func (e *Engine) Running() bool {
	s := e.State()
	return s == Replaying || s == Live
}

// Replayed is closed once the current run has finished its history replay
// and the engine is live.
func (e *Engine) Replayed() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replayed
}

// Start waits for the transport, opens the live subscription and begins the
// history replay. It returns once both producers are running; ctx bounds the
// wait for readiness only. Stop tears the run down, after which Start may be
// called again to rejoin.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrRunning
	}

	if err := e.transport.Ready(ctx); err != nil {
		return fmt.Errorf("waiting for transport: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub, err := e.transport.Subscribe(runCtx, e.cfg.Topic)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}

	e.running = true
	e.cancel = cancel
	e.sub = sub
	e.replayed = make(chan struct{})
	e.setState(Replaying)
	e.log.Info("replaying history")

	history := make(chan transport.Message)
	live := make(chan transport.Message, e.cfg.QueueSize)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(history)
		e.replayHistory(gctx, history)
		return nil
	})
	g.Go(func() error {
		return e.forwardLive(gctx, sub, live)
	})
	replayed := e.replayed
	g.Go(func() error {
		e.consume(gctx, history, live, replayed)
		return nil
	})
	e.group = g
	return nil
}

// Stop cancels the subscription and any history replay still in flight and
// waits for the consumer to exit. No envelope is applied after Stop returns.
// It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}

	e.cancel()
	e.sub.Cancel()
	_ = e.group.Wait()

	e.running = false
	e.cancel = nil
	e.sub = nil
	e.group = nil
	e.setState(Stopped)
	e.log.Info("reconciliation stopped")
}

func (e *Engine) replayHistory(ctx context.Context, out chan<- transport.Message) {
	hctx := ctx
	if e.cfg.HistoryTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, e.cfg.HistoryTimeout)
		defer cancel()
	}

	var n int
	err := e.transport.QueryHistory(hctx, e.cfg.Topic, func(msg transport.Message) error {
		select {
		case out <- msg:
			n++
			return nil
		case <-hctx.Done():
			return hctx.Err()
		}
	})
	switch {
	case err == nil:
		e.log.Info("history replay finished", zap.Int("envelopes", n))
	case ctx.Err() != nil:
		// Stopped.
	case errors.Is(err, context.DeadlineExceeded):
		e.metrics.historyTimeouts.Inc()
		e.log.Warn("history replay timed out, going live with partial history",
			zap.Int("envelopes", n),
			zap.Duration("timeout", e.cfg.HistoryTimeout),
		)
	default:
		e.log.Warn("history replay failed, going live with partial history",
			zap.Int("envelopes", n),
			zap.Error(err),
		)
	}
}

func (e *Engine) forwardLive(ctx context.Context, sub transport.Subscription, out chan<- transport.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// consume is the only goroutine that merges network envelopes into the
// ledger.
func (e *Engine) consume(ctx context.Context, history, live <-chan transport.Message, replayed chan struct{}) {
	for msg := range history {
		if ctx.Err() != nil {
			return
		}
		e.apply(sourceHistory, msg)
	}
	if ctx.Err() != nil {
		return
	}

	e.setState(Live)
	close(replayed)
	e.log.Info("live", zap.Int("identities", e.ledger.Len()))

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-live:
			if ctx.Err() != nil {
				return
			}
			e.apply(sourceLive, msg)
		}
	}
}

func (e *Engine) apply(source string, msg transport.Message) {
	if len(msg.Payload) == 0 {
		e.metrics.envelope(source, resultEmpty)
		return
	}

	pm, err := wire.Decode(msg.Payload)
	if err != nil {
		e.metrics.envelope(source, resultMalformed)
		e.log.Warn("dropping malformed envelope",
			zap.String("source", source),
			zap.Int64("timestamp", msg.Timestamp),
			zap.Error(err),
		)
		return
	}
	if len(pm.Votes) == 0 {
		e.metrics.envelope(source, resultAnnouncement)
		e.log.Debug("poll announcement",
			zap.String("id", pm.ID),
			zap.String("question", pm.Question),
			zap.Int("answers", len(pm.Answers)),
		)
		return
	}
	e.metrics.envelope(source, resultVotes)

	for i, v := range pm.Votes {
		identity := wire.VoteIdentity(pm.ID, msg.Payload, msg.Timestamp, i)
		outcome, err := e.ledger.Apply(v.PostID, ledger.Direction(v.Vote), identity)
		if err != nil {
			e.log.Warn("dropping vote",
				zap.String("source", source),
				zap.Int32("post_id", v.PostID),
				zap.Int32("vote", v.Vote),
				zap.Error(err),
			)
			continue
		}
		if outcome == ledger.Duplicate {
			e.log.Debug("duplicate vote", zap.String("source", source), zap.String("identity", identity))
		}
	}
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.metrics.state.Set(float64(s))
}
