package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razor7877/kademliatransfer/config"
)

func TestParseAppliesFlagDefaults(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.ListenAddr)
	assert.Equal(t, 4, cfg.BucketSize)
	assert.False(t, cfg.DisableCLI)
}

func TestParseFlagsOverrideDefaults(t *testing.T) {
	cfg, err := config.Parse([]string{"-listen=127.0.0.1:9000", "-bucket-size=8"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.BucketSize)
}

func TestParseEnvironmentOverridesFlags(t *testing.T) {
	t.Setenv("KDMT_LISTEN", "127.0.0.1:5000")
	t.Setenv("DISABLE_CLI", "1")

	cfg, err := config.Parse([]string{"-listen=127.0.0.1:9000"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", cfg.ListenAddr)
	assert.True(t, cfg.DisableCLI)
}

func TestParseRejectsBucketSizeOutOfRange(t *testing.T) {
	_, err := config.Parse([]string{"-bucket-size=1"})
	assert.Error(t, err)
}

func TestParseRejectsMalformedListenAddress(t *testing.T) {
	_, err := config.Parse([]string{"-listen=not-an-address"})
	assert.Error(t, err)
}

func TestDisableCLIRecognizesFalsyStrings(t *testing.T) {
	t.Setenv("DISABLE_CLI", "false")
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	assert.False(t, cfg.DisableCLI)

	os.Unsetenv("DISABLE_CLI")
}
