package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/wire"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "WAPOLL_TRANSPORT", "WAPOLL_TOPIC", "WAPOLL_HISTORY_TIMEOUT",
		"WAPOLL_HISTORY_PAGE_SIZE", "WAPOLL_SUBSCRIBER_BUFFER", "LOG_LEVEL", "LOG_FORMAT",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)
	clearEnv(t)

	cfg, err := Load()
	require.NoError(err)
	require.Equal("8080", cfg.Port)
	require.Equal(TransportMemory, cfg.Transport)
	require.Equal(wire.ContentTopic, cfg.Topic)
	require.Equal(10*time.Second, cfg.HistoryTimeout)
	require.Equal(500, cfg.HistoryPageSize)
	require.Equal("disable", cfg.DB.SSLMode)
}

func TestLoadPostgres(t *testing.T) {
	require := require.New(t)
	clearEnv(t)
	t.Setenv("WAPOLL_TRANSPORT", "Postgres")
	t.Setenv("WAPOLL_HISTORY_TIMEOUT", "250ms")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "forum")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "wapoll")

	cfg, err := Load()
	require.NoError(err)
	require.Equal(TransportPostgres, cfg.Transport)
	require.Equal(250*time.Millisecond, cfg.HistoryTimeout)
	require.Equal(
		"host=db user=forum password=secret dbname=wapoll port=5432 sslmode=disable TimeZone=UTC",
		cfg.DB.DSN(),
	)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want error
	}{
		{
			name: "unknown transport",
			env:  map[string]string{"WAPOLL_TRANSPORT": "carrier-pigeon"},
			want: ErrUnknownTransport,
		},
		{
			name: "postgres without database",
			env:  map[string]string{"WAPOLL_TRANSPORT": "postgres"},
			want: ErrMissingDatabase,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("bad duration", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("WAPOLL_HISTORY_TIMEOUT", "soon")
		_, err := Load()
		require.ErrorContains(t, err, "WAPOLL_HISTORY_TIMEOUT")
	})
}
