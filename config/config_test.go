package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	req := require.New(t)

	cfg, err := Load(t.TempDir())
	req.NoError(err)

	req.Equal(":3000", cfg.Server.Addr)
	req.Equal("/ws", cfg.Server.Path)
	req.Equal(10000, cfg.Server.Capacity)
	req.Equal(25, cfg.Transport.PingInterval)
	req.Equal("broadcast", cfg.Router.DefaultPolicy)
	req.Contains(cfg.Router.PersistEvents, "chat-message")
	req.False(cfg.Mongo.Enabled)
	req.Equal("info", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	req := require.New(t)

	dir := t.TempDir()
	yaml := []byte(`
server:
  addr: ":4000"
  capacity: 2
router:
  defaultpolicy: drop
log:
  level: debug
`)
	req.NoError(os.WriteFile(filepath.Join(dir, "roomcast.yaml"), yaml, 0o644))

	cfg, err := Load(dir)
	req.NoError(err)
	req.Equal(":4000", cfg.Server.Addr)
	req.Equal(2, cfg.Server.Capacity)
	req.Equal("drop", cfg.Router.DefaultPolicy)
	req.Equal("debug", cfg.Log.Level)

	// Untouched keys keep their defaults.
	req.Equal("/ws", cfg.Server.Path)
	req.Equal(60, cfg.Transport.PongTimeout)
}

func TestValidate(t *testing.T) {
	base := func() *AppConfig {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		return cfg
	}

	testCases := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*AppConfig) {}},
		{name: "empty addr", mutate: func(c *AppConfig) { c.Server.Addr = "" }, wantErr: true},
		{name: "negative capacity", mutate: func(c *AppConfig) { c.Server.Capacity = -1 }, wantErr: true},
		{name: "pong not above ping", mutate: func(c *AppConfig) { c.Transport.PongTimeout = c.Transport.PingInterval }, wantErr: true},
		{name: "zero handler timeout", mutate: func(c *AppConfig) { c.Router.HandlerTimeout = 0 }, wantErr: true},
		{name: "unknown policy", mutate: func(c *AppConfig) { c.Router.DefaultPolicy = "mirror" }, wantErr: true},
		{name: "mongo enabled without uri", mutate: func(c *AppConfig) { c.Mongo.Enabled = true; c.Mongo.URI = "" }, wantErr: true},
		{name: "metrics port out of range", mutate: func(c *AppConfig) { c.Metrics.Port = 70000 }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
