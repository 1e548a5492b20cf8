package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/ledger"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/transport"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/wire"
)

const legacyID = "uniqueId"

func envelope(id string, votes ...wire.Vote) []byte {
	return wire.Encode(wire.PollMessage{ID: id, Question: "Vote on Post", Votes: votes})
}

func vote(post, dir int32) wire.Vote {
	return wire.Vote{PostID: post, Vote: dir}
}

// gatedHistory holds history replay until gate is closed.
type gatedHistory struct {
	*transport.Memory
	gate chan struct{}
}

func (g *gatedHistory) QueryHistory(ctx context.Context, topic string, fn func(transport.Message) error) error {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Memory.QueryHistory(ctx, topic, fn)
}

func newEngine(t *testing.T, tr transport.Transport, cfg Config) (*Engine, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.New(nil)
	require.NoError(t, err)
	e, err := New(tr, l, cfg, nil, nil)
	require.NoError(t, err)
	return e, l
}

func waitLive(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case <-e.Replayed():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not finish history replay")
	}
	require.Equal(t, Live, e.State())
}

// awaitSentinel publishes a sentinel vote and waits until the engine applied it. The
// engine consumes live envelopes in order, so everything delivered before the
// sentinel has been handled too.
func awaitSentinel(t *testing.T, mem *transport.Memory, l *ledger.Ledger, post int32) {
	t.Helper()
	require.NoError(t, mem.Publish(context.Background(), wire.ContentTopic, envelope(wire.NewEnvelopeID(), vote(post, 1))))
	require.Eventually(t, func() bool {
		return l.Tally(post) == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestReplayHistory(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require := require.New(t)

	mem := transport.NewMemory(nil, transport.StartReady())
	mem.Seed(wire.ContentTopic,
		envelope(legacyID, vote(1, 1)),
		envelope(legacyID, vote(2, -1)),
		envelope(legacyID, vote(1, 1)),
	)

	e, l := newEngine(t, mem, Config{})
	require.Equal(Cold, e.State())
	require.NoError(e.Start(context.Background()))
	defer e.Stop()
	waitLive(t, e)

	require.Equal(int64(2), l.Tally(1))
	require.Equal(int64(-1), l.Tally(2))
	require.Equal(3, l.Len())
}

func TestRedeliveredHistoryIsNotCountedTwice(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require := require.New(t)

	mem := transport.NewMemory(nil, transport.StartReady())
	seeded := mem.Seed(wire.ContentTopic,
		envelope(legacyID, vote(1, 1)),
		envelope(wire.NewEnvelopeID(), vote(1, 1), vote(3, -1)),
	)

	e, l := newEngine(t, mem, Config{})
	require.NoError(e.Start(context.Background()))
	defer e.Stop()
	waitLive(t, e)

	for _, msg := range seeded {
		mem.Redeliver(msg)
	}
	awaitSentinel(t, mem, l, 99)

	require.Equal(int64(2), l.Tally(1))
	require.Equal(int64(-1), l.Tally(3))
}

func TestLiveDuringReplayIsQueued(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require := require.New(t)

	mem := transport.NewMemory(nil, transport.StartReady())
	mem.Seed(wire.ContentTopic, envelope(legacyID, vote(1, 1)))
	gated := &gatedHistory{Memory: mem, gate: make(chan struct{})}

	e, l := newEngine(t, gated, Config{})
	require.NoError(e.Start(context.Background()))
	defer e.Stop()
	require.Equal(Replaying, e.State())

	// Published while replay is held: it reaches both the live stream and
	// the history the replay is about to read.
	require.NoError(mem.Publish(context.Background(), wire.ContentTopic, envelope(legacyID, vote(2, 1))))
	require.Never(func() bool {
		return l.Has(2)
	}, 100*time.Millisecond, 10*time.Millisecond)

	close(gated.gate)
	waitLive(t, e)
	awaitSentinel(t, mem, l, 99)

	require.Equal(int64(1), l.Tally(1))
	require.Equal(int64(1), l.Tally(2))
}

func TestLocalEchoIsDeduplicated(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require := require.New(t)

	mem := transport.NewMemory(nil, transport.StartReady())
	e, l := newEngine(t, mem, Config{})
	require.NoError(e.Start(context.Background()))
	defer e.Stop()
	waitLive(t, e)

	id := wire.NewEnvelopeID()
	payload := envelope(id, vote(5, -1))
	_, err := l.Apply(5, ledger.Down, wire.VoteIdentity(id, payload, 0, 0))
	require.NoError(err)
	require.NoError(mem.Publish(context.Background(), wire.ContentTopic, payload))
	awaitSentinel(t, mem, l, 99)

	require.Equal(int64(-1), l.Tally(5))
}

func TestRestartReplaysWithoutDoubleCounting(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require := require.New(t)

	mem := transport.NewMemory(nil, transport.StartReady())
	mem.Seed(wire.ContentTopic,
		envelope(legacyID, vote(1, 1)),
		envelope(legacyID, vote(1, -1)),
		envelope(legacyID, vote(1, -1)),
	)

	e, l := newEngine(t, mem, Config{})
	require.NoError(e.Start(context.Background()))
	waitLive(t, e)
	require.ErrorIs(e.Start(context.Background()), ErrRunning)

	e.Stop()
	e.Stop()
	require.Equal(Stopped, e.State())

	// Missed while offline; recovered from history on rejoin.
	require.NoError(mem.Publish(context.Background(), wire.ContentTopic, envelope(legacyID, vote(1, -1))))

	require.NoError(e.Start(context.Background()))
	defer e.Stop()
	waitLive(t, e)

	require.Equal(int64(-2), l.Tally(1))
	require.Equal(4, l.Len())
}

func TestHistoryTimeoutGoesLive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require := require.New(t)

	mem := transport.NewMemory(nil, transport.StartReady())
	mem.Seed(wire.ContentTopic, envelope(legacyID, vote(1, 1)))
	gated := &gatedHistory{Memory: mem, gate: make(chan struct{})}

	l, err := ledger.New(nil)
	require.NoError(err)
	e, err := New(gated, l, Config{HistoryTimeout: 50 * time.Millisecond}, nil, prometheus.NewRegistry())
	require.NoError(err)
	require.NoError(e.Start(context.Background()))
	defer e.Stop()
	waitLive(t, e)

	require.False(l.Has(1))
	require.Equal(float64(1), testutil.ToFloat64(e.metrics.historyTimeouts))

	awaitSentinel(t, mem, l, 99)
}

func TestUndecodableEnvelopesAreSkipped(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require := require.New(t)

	mem := transport.NewMemory(nil, transport.StartReady())
	mem.Seed(wire.ContentTopic,
		[]byte{0xff, 0xff},
		nil,
		wire.Encode(wire.PollMessage{ID: legacyID, Question: "Best editor?", Answers: []string{"vim", "emacs"}}),
		envelope(legacyID, vote(1, 7), vote(1, -1)),
		envelope(legacyID, vote(1, 1)),
	)

	l, err := ledger.New(nil)
	require.NoError(err)
	e, err := New(mem, l, Config{}, nil, prometheus.NewRegistry())
	require.NoError(err)
	require.NoError(e.Start(context.Background()))
	defer e.Stop()
	waitLive(t, e)

	require.Equal(int64(0), l.Tally(1))
	require.Equal(2, l.Len())

	count := func(result string) float64 {
		return testutil.ToFloat64(e.metrics.envelopes.WithLabelValues(sourceHistory, result))
	}
	require.Equal(float64(1), count(resultMalformed))
	require.Equal(float64(1), count(resultEmpty))
	require.Equal(float64(1), count(resultAnnouncement))
	require.Equal(float64(2), count(resultVotes))
}

func TestNothingAppliedAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require := require.New(t)

	mem := transport.NewMemory(nil, transport.StartReady())
	e, l := newEngine(t, mem, Config{})
	require.NoError(e.Start(context.Background()))
	waitLive(t, e)
	e.Stop()

	require.NoError(mem.Publish(context.Background(), wire.ContentTopic, envelope(wire.NewEnvelopeID(), vote(1, 1))))
	require.Never(func() bool {
		return l.Has(1)
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestStartWaitsForTransport(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require := require.New(t)

	mem := transport.NewMemory(nil)
	e, _ := newEngine(t, mem, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(e.Start(ctx), context.DeadlineExceeded)
	require.Equal(Cold, e.State())

	mem.MarkReady()
	require.NoError(e.Start(context.Background()))
	defer e.Stop()
	waitLive(t, e)
}

func TestStateString(t *testing.T) {
	require := require.New(t)
	require.Equal("cold", Cold.String())
	require.Equal("replaying", Replaying.String())
	require.Equal("live", Live.String())
	require.Equal("stopped", Stopped.String())
	require.Equal("unknown", State(42).String())
}
