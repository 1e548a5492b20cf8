package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/config"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/ledger"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	c := rootCommand()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetArgs(args)
	err := c.Execute()
	return out.String(), err
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]ledger.Direction{
		"up": ledger.Up, "UP": ledger.Up, "+1": ledger.Up, "1": ledger.Up,
		"down": ledger.Down, " -1 ": ledger.Down,
	} {
		got, err := parseDirection(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := parseDirection("sideways")
	require.ErrorIs(t, err, ledger.ErrInvalidDirection)
}

func TestSetupFlagsOverrideEnvironment(t *testing.T) {
	require := require.New(t)
	t.Setenv("WAPOLL_TRANSPORT", "memory")
	t.Setenv("WAPOLL_HISTORY_TIMEOUT", "10s")
	t.Setenv("LOG_LEVEL", "info")

	c := rootCommand()
	require.NoError(c.ParseFlags([]string{
		"--topic=/wapoll/test", "--history-timeout=3s", "--log-level=debug", "--log-format=console",
	}))
	cfg, log, err := setup(c)
	require.NoError(err)
	require.NotNil(log)
	require.Equal(config.TransportMemory, cfg.Transport)
	require.Equal("/wapoll/test", cfg.Topic)
	require.Equal(3*time.Second, cfg.HistoryTimeout)
	require.Equal("debug", cfg.LogLevel)
}

func TestSetupRejectsInvalidConfiguration(t *testing.T) {
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_NAME", "")

	_, err := run(t, "tally", "--transport=postgres")
	require.ErrorIs(t, err, config.ErrMissingDatabase)

	_, err = run(t, "tally", "--transport=pigeon")
	require.ErrorIs(t, err, config.ErrUnknownTransport)
}

func TestCastNeedsSharedTransport(t *testing.T) {
	t.Setenv("WAPOLL_TRANSPORT", "memory")

	_, err := run(t, "cast", "--post=1", "--vote=down", "--log-level=error")
	require.ErrorIs(t, err, errSharedTransport)

	_, err = run(t, "cast", "--post=1", "--vote=maybe")
	require.ErrorIs(t, err, ledger.ErrInvalidDirection)

	_, err = run(t, "cast")
	require.ErrorContains(t, err, "post")
}
