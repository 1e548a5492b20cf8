package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/config"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/node"
)

func tallyCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "tally",
		Short: "Replays the topic history and prints every post's tally",
		RunE:  tallyFunc,
	}
	c.Flags().Int32(postKey, 0, "Only print this post")
	return c
}

func tallyFunc(c *cobra.Command, _ []string) error {
	only, err := c.Flags().GetInt32(postKey)
	if err != nil {
		return err
	}

	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if cfg.Transport == config.TransportMemory {
		return fmt.Errorf("tally needs a shared transport, use --transport=postgres")
	}

	n, err := node.New(cfg, log)
	if err != nil {
		return err
	}
	defer n.Close()

	ctx := c.Context()
	if err := n.Engine.Start(ctx); err != nil {
		return err
	}
	select {
	case <-n.Engine.Replayed():
	case <-ctx.Done():
		return ctx.Err()
	}
	n.Engine.Stop()

	tallies := n.Ledger.Snapshot()
	ids := make([]int32, 0, len(tallies))
	for id := range tallies {
		if only == 0 || id == only {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POST\tVOTES")
	for _, id := range ids {
		fmt.Fprintf(w, "%d\t%d\n", id, tallies[id])
	}
	return w.Flush()
}
