package config_test

import (
	"os"
	"testing"

	"github.com/ethan/rtsp-session/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, ":8554", cfg.ListenAddr)
	require.Equal(t, 10000, cfg.UDPPortMin)
}

func TestLoadOverlaysEnvFile(t *testing.T) {
	path := t.TempDir() + "/.env"
	require.NoError(t, os.WriteFile(path, []byte("RTSP_LISTEN_ADDR=:9554\nRTSP_MEDIA_PATH=/tmp/sample.h264\n"), 0644))
	t.Cleanup(func() {
		os.Unsetenv("RTSP_LISTEN_ADDR")
		os.Unsetenv("RTSP_MEDIA_PATH")
	})

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9554", cfg.ListenAddr)
	require.Equal(t, "/tmp/sample.h264", cfg.MediaPath)
}

func TestValidateRejectsOddPortStart(t *testing.T) {
	cfg := config.Default()
	cfg.UDPPortMin = 10001
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownKeepalive(t *testing.T) {
	cfg := config.Default()
	cfg.KeepaliveMethod = "ping"
	require.Error(t, cfg.Validate())
}
