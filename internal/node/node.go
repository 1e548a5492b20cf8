// Package node assembles a forum peer from its configuration.
package node

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/config"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/database"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/forum"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/ledger"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/reconcile"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/transport"
)

type Node struct {
	Config    config.Config
	Log       *zap.Logger
	Metrics   *prometheus.Registry
	DB        database.Service
	Transport transport.Transport
	Ledger    *ledger.Ledger
	Engine    *reconcile.Engine
	Forum     *forum.Registry

	closers []func() error
}

// New builds a node. Nothing touches the network until the engine is
// started.
func New(cfg config.Config, log *zap.Logger) (*Node, error) {
	n := &Node{
		Config:  cfg,
		Log:     log,
		Metrics: prometheus.NewRegistry(),
	}
	if err := n.Metrics.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	if err := n.Metrics.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}

	switch cfg.Transport {
	case config.TransportMemory:
		mem := transport.NewMemory(log.Named("transport"),
			transport.WithSubscriberBuffer(cfg.SubscriberBuffer),
			transport.StartReady(),
		)
		n.Transport = mem
		n.closers = append(n.closers, mem.Close)
	case config.TransportPostgres:
		db, err := database.New(cfg.DB, log.Named("database"))
		if err != nil {
			return nil, err
		}
		n.DB = db
		n.closers = append(n.closers, db.Close)
		n.Transport = transport.NewPostgres(db.GetDB(), cfg.DB.DSN(), log.Named("transport"),
			transport.WithPageSize(cfg.HistoryPageSize),
			transport.WithListenerBuffer(cfg.SubscriberBuffer),
		)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Transport)
	}

	l, err := ledger.New(n.Metrics)
	if err != nil {
		n.Close()
		return nil, err
	}
	n.Ledger = l

	n.Engine, err = reconcile.New(n.Transport, l, reconcile.Config{
		Topic:          cfg.Topic,
		HistoryTimeout: cfg.HistoryTimeout,
		QueueSize:      cfg.SubscriberBuffer,
	}, log.Named("reconcile"), n.Metrics)
	if err != nil {
		n.Close()
		return nil, err
	}

	n.Forum = forum.NewRegistry(l, n.Transport,
		forum.WithTopic(cfg.Topic),
		forum.WithLogger(log.Named("forum")),
		forum.WithReadyCheck(n.Engine.Running),
	)
	return n, nil
}

// Close stops the engine and releases the transport and database.
func (n *Node) Close() error {
	if n.Engine != nil {
		n.Engine.Stop()
	}
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		errs = append(errs, n.closers[i]())
	}
	n.closers = nil
	return errors.Join(errs...)
}
