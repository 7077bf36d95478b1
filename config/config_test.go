package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cybersemics/treecrdt-sub003/config"
)

func TestBuilderDefaultsBuild(t *testing.T) {
	cfg, err := config.NewBuilder().Build()
	require.NoError(t, err)
	require.Equal(t, config.Default.Peer.MaxCodewords, cfg.Peer.MaxCodewords)
	require.False(t, cfg.Auth.RequireProofRef)
}

func TestBuilderFromPresetProduction(t *testing.T) {
	cfg, err := config.NewBuilder().FromPreset(config.PresetProduction).Build()
	require.NoError(t, err)
	require.True(t, cfg.Auth.RequireProofRef)
	require.Equal(t, config.StorePebble, cfg.Store.Backend)
}

func TestBuilderRejectsInvalidMaxCodewords(t *testing.T) {
	_, err := config.NewBuilder().WithMaxCodewords(0).Build()
	require.ErrorIs(t, err, config.ErrInvalidMaxCodewords)
}

func TestBuilderMaxPayloadClampsCompressionThreshold(t *testing.T) {
	cfg, err := config.NewBuilder().
		WithMaxPayloadBytes(1024).
		Build()
	require.NoError(t, err)
	require.LessOrEqual(t, cfg.Peer.CompressionThresholdBytes, 1024)
}

func TestBuilderRejectsBadReconnectBackoffOrder(t *testing.T) {
	_, err := config.NewBuilder().WithReconnectBackoff(time.Minute, time.Second).Build()
	require.ErrorIs(t, err, config.ErrReconnectBackoffOrder)
}

func TestValidateRequiresPebbleDir(t *testing.T) {
	_, err := config.NewBuilder().WithStore(config.StorePebble, "").Build()
	require.ErrorIs(t, err, config.ErrPebbleDirRequired)
}

func TestFromPresetUnknown(t *testing.T) {
	_, err := config.NewBuilder().FromPreset("bogus").Build()
	require.Error(t, err)
}
