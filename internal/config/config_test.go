package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beefpay/beefpay/internal/chain"
)

const (
	tronAddr    = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	polygonAddr = "0x1234567890123456789012345678901234567890"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ADDRESSES", tronAddr)
	setEnv(t, "PORT", "")
	setEnv(t, "TIMEOUT_MINUTES", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultTimeoutMinutes, cfg.TimeoutMinutes)
	assert.Equal(t, DefaultGatewayTag, cfg.GatewayTag)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.Timeout())
}

func TestLoad_PolygonRequiresAPIKey(t *testing.T) {
	setEnv(t, "ADDRESSES", polygonAddr+"|POLYGON")
	setEnv(t, "POLYGONSCAN_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLYGONSCAN_API_KEY")

	setEnv(t, "POLYGONSCAN_API_KEY", "some-key")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoad_InvalidTimeout(t *testing.T) {
	setEnv(t, "ADDRESSES", tronAddr)
	setEnv(t, "TIMEOUT_MINUTES", "-5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMEOUT_MINUTES")
}

func TestParseAddresses(t *testing.T) {
	raw := tronAddr + "\n" +
		"  \n" + // blank line skipped
		polygonAddr + "|POLYGON\r\n" +
		tronAddr + "|TRC20\n"

	pool, err := ParseAddresses(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{tronAddr, tronAddr}, pool[chain.TRC20])
	assert.Equal(t, []string{polygonAddr}, pool[chain.Polygon])
}

func TestParseAddresses_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown chain", tronAddr + "|BSC"},
		{"bad tron address", "notatron|TRC20"},
		{"bad polygon address", "0x1234|POLYGON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAddresses(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestSchema(t *testing.T) {
	fields := Schema()
	require.Len(t, fields, 3)

	names := make(map[string]bool)
	for _, f := range fields {
		names[f.Name] = true
	}
	assert.True(t, names["addresses"])
	assert.True(t, names["timeout"])
	assert.True(t, names["polygonscan_api_key"])
}
