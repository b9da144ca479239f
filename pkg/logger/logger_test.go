package logger_test

import (
	"os"
	"testing"

	"github.com/ethan/rtsp-session/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToTextStdout(t *testing.T) {
	cfg := logger.NewConfig()
	log, err := logger.New(cfg)
	require.NoError(t, err)
	require.NotNil(t, log)
}

func TestNewWritesToFile(t *testing.T) {
	path := t.TempDir() + "/out.log"
	cfg := logger.NewConfig()
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = path

	log, err := logger.New(cfg)
	require.NoError(t, err)
	log.Info().Msg("hello")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func TestDebugCategoryGating(t *testing.T) {
	path := t.TempDir() + "/out.log"
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = path
	cfg.EnableCategory(logger.DebugRTP)

	log, err := logger.New(cfg)
	require.NoError(t, err)

	log.DebugRTP("packet received", map[string]any{"seq": 1})
	log.DebugRTCP("sr ingested", map[string]any{"ssrc": 1}) // not enabled, silently dropped
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "packet received")
	require.NotContains(t, string(data), "sr ingested")
}

func TestEnableCategoryAllEnablesEverything(t *testing.T) {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugAll)

	require.True(t, cfg.IsCategoryEnabled(logger.DebugRTSP))
	require.True(t, cfg.IsCategoryEnabled(logger.DebugRTP))
	require.True(t, cfg.IsCategoryEnabled(logger.DebugRTCP))
	require.True(t, cfg.IsCategoryEnabled(logger.DebugTransport))
	require.True(t, cfg.IsCategoryEnabled(logger.DebugSession))
	require.True(t, cfg.IsDebugEnabled())
}

func TestParseLevelAndFormat(t *testing.T) {
	_, err := logger.ParseLevel("bogus")
	require.Error(t, err)

	lvl, err := logger.ParseLevel("WARN")
	require.NoError(t, err)
	require.Equal(t, logger.LevelWarn, lvl)

	_, err = logger.ParseFormat("xml")
	require.Error(t, err)

	f, err := logger.ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, logger.FormatJSON, f)
}
