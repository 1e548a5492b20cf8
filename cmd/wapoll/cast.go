package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/config"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/forum"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/ledger"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/node"
)

const (
	postKey = "post"
	voteKey = "vote"

	readyTimeout = 30 * time.Second
)

var errSharedTransport = errors.New("cast needs a shared transport, use --transport=postgres")

func castCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "cast",
		Short: "Publishes a single vote",
		RunE:  castFunc,
	}
	flags := c.Flags()
	flags.Int32(postKey, 0, "Post to vote on (required)")
	flags.String(voteKey, "up", "Vote direction: up or down")
	_ = c.MarkFlagRequired(postKey)
	return c
}

func parseDirection(s string) (ledger.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "+1", "1":
		return ledger.Up, nil
	case "down", "-1":
		return ledger.Down, nil
	}
	return 0, fmt.Errorf("%w: %q", ledger.ErrInvalidDirection, s)
}

func castFunc(c *cobra.Command, _ []string) error {
	flags := c.Flags()
	postID, err := flags.GetInt32(postKey)
	if err != nil {
		return err
	}
	rawVote, err := flags.GetString(voteKey)
	if err != nil {
		return err
	}
	dir, err := parseDirection(rawVote)
	if err != nil {
		return err
	}

	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if cfg.Transport == config.TransportMemory {
		return errSharedTransport
	}

	n, err := node.New(cfg, log)
	if err != nil {
		return err
	}
	defer n.Close()

	ctx, cancel := context.WithTimeout(c.Context(), readyTimeout)
	defer cancel()
	if err := n.Transport.Ready(ctx); err != nil {
		return fmt.Errorf("waiting for transport: %w", err)
	}

	envelopeID, payload := forum.VoteEnvelope(postID, dir)
	if err := n.Transport.Publish(ctx, cfg.Topic, payload); err != nil {
		return err
	}
	log.Debug("vote published", zap.Int32("post_id", postID), zap.String("envelope_id", envelopeID))
	fmt.Fprintf(c.OutOrStdout(), "published vote %+d on post %d (envelope %s)\n", dir, postID, envelopeID)
	return nil
}
