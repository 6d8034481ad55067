package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wsmux/wsmux/conn"
)

func TestParseLayersOverDefaults(t *testing.T) {
	raw := []byte(`
reconnect_interval: 5s
max_reconnect_tries: 10
continue_on_query_response: true
`)
	opts, err := Parse(raw)
	require.NoError(t, err)

	require.Equal(t, 5*time.Second, opts.ReconnectInterval)
	require.NotNil(t, opts.MaxReconnectTries)
	require.Equal(t, 10, *opts.MaxReconnectTries)
	require.True(t, opts.ContinueOnQueryResponse)

	defaults := conn.DefaultOptions()
	require.Equal(t, defaults.SocketNoDataTimeout, opts.SocketNoDataTimeout)
	require.Equal(t, defaults.AutoReconnect, opts.AutoReconnect)
	require.Equal(t, defaults.MaxConcurrentResubscriptions, opts.MaxConcurrentResubscriptions)
}

func TestParseRejectsInvalidDuration(t *testing.T) {
	_, err := Parse([]byte(`reconnect_interval: "not-a-duration"`))
	require.Error(t, err)
}

func TestParseDisablesAutoReconnectWhenExplicitlyFalse(t *testing.T) {
	f := false
	raw := []byte(`auto_reconnect: false`)
	opts, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, f, opts.AutoReconnect)
}

func TestLoadWrapsMissingFileAsNotExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadReadsFileFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_original_data: true\n"), 0o600))

	opts, err := Load(path)
	require.NoError(t, err)
	require.True(t, opts.OutputOriginalData)
}
