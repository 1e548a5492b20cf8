package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/config"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/ledger"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/transport"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/wire"
)

func memoryConfig() config.Config {
	return config.Config{
		Transport:        config.TransportMemory,
		Topic:            wire.ContentTopic,
		HistoryTimeout:   time.Second,
		HistoryPageSize:  100,
		SubscriberBuffer: 16,
	}
}

func TestMemoryNode(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require := require.New(t)

	n, err := New(memoryConfig(), zap.NewNop())
	require.NoError(err)
	require.Nil(n.DB)

	_, err = n.Forum.CreateSubject("X", "Y")
	require.NoError(err)
	_, err = n.Forum.CastVote(context.Background(), 1, ledger.Up)
	require.ErrorIs(err, transport.ErrNotReady, "engine not started")

	require.NoError(n.Engine.Start(context.Background()))
	<-n.Engine.Replayed()

	tally, err := n.Forum.CastVote(context.Background(), 1, ledger.Up)
	require.NoError(err)
	require.Equal(int64(1), tally)

	families, err := n.Metrics.Gather()
	require.NoError(err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(names["wapoll_ledger_votes_total"])
	require.True(names["wapoll_reconcile_state"])
	require.True(names["go_goroutines"])

	require.NoError(n.Close())
	require.False(n.Engine.Running())
}

func TestUnknownTransport(t *testing.T) {
	cfg := memoryConfig()
	cfg.Transport = "smoke-signals"
	_, err := New(cfg, zap.NewNop())
	require.ErrorIs(t, err, config.ErrUnknownTransport)
}
