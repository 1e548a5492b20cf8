package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/handlers"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/node"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/server"
)

const (
	portKey = "port"

	shutdownTimeout = 10 * time.Second
)

func serveCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Joins the network and serves the forum API",
		RunE:  serveFunc,
	}
	c.Flags().String(portKey, "", "HTTP port (overrides PORT)")
	return c
}

func serveFunc(c *cobra.Command, _ []string) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if c.Flags().Changed(portKey) {
		if cfg.Port, err = c.Flags().GetString(portKey); err != nil {
			return err
		}
	}

	n, err := node.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Warn("closing node", zap.Error(err))
		}
	}()

	ctx := c.Context()
	log.Info("joining network",
		zap.String("transport", cfg.Transport),
		zap.String("topic", cfg.Topic),
	)
	if err := n.Engine.Start(ctx); err != nil {
		return err
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.NewServer(cfg.Port, server.Deps{
		Handler:  handlers.NewHandler(n.Forum, log.Named("handlers")),
		Engine:   n.Engine,
		DB:       n.DB,
		Gatherer: n.Metrics,
		Log:      log.Named("http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
