package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/config"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/logging"
)

const (
	transportKey      = "transport"
	topicKey          = "topic"
	historyTimeoutKey = "history-timeout"
	logLevelKey       = "log-level"
	logFormatKey      = "log-format"
)

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "wapoll",
		Short:         "Peer-to-peer forum voting node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(c.PersistentFlags())
	c.AddCommand(serveCommand(), castCommand(), tallyCommand())
	return c
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.String(transportKey, "", "Transport to use: memory or postgres (overrides WAPOLL_TRANSPORT)")
	flags.String(topicKey, "", "Content topic (overrides WAPOLL_TOPIC)")
	flags.Duration(historyTimeoutKey, 0, "History replay timeout (overrides WAPOLL_HISTORY_TIMEOUT)")
	flags.String(logLevelKey, "", "Log level (overrides LOG_LEVEL)")
	flags.String(logFormatKey, "", "Log format: json or console (overrides LOG_FORMAT)")
}

// setup reads the environment, applies flags the user set explicitly and
// builds the logger.
func setup(c *cobra.Command) (config.Config, *zap.Logger, error) {
	cfg, err := config.Read()
	if err != nil {
		return config.Config{}, nil, err
	}

	flags := c.Flags()
	overrides := []struct {
		key string
		dst *string
	}{
		{transportKey, &cfg.Transport},
		{topicKey, &cfg.Topic},
		{logLevelKey, &cfg.LogLevel},
		{logFormatKey, &cfg.LogFormat},
	}
	for _, o := range overrides {
		if !flags.Changed(o.key) {
			continue
		}
		if *o.dst, err = flags.GetString(o.key); err != nil {
			return config.Config{}, nil, err
		}
	}
	if flags.Changed(historyTimeoutKey) {
		if cfg.HistoryTimeout, err = flags.GetDuration(historyTimeoutKey); err != nil {
			return config.Config{}, nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}
