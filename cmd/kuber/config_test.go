package main

import (
	"encoding/json"
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		name        string
		cfg         config
		expServer   string
		expFrontend string
		expSkipOpen bool
	}{
		{
			name:        "defaults",
			expServer:   "127.0.0.1:9894",
			expFrontend: "http://localhost:9894",
		},
		{
			name:        "server only",
			cfg:         config{Server: "127.0.0.1:7000"},
			expServer:   "127.0.0.1:7000",
			expFrontend: "http://127.0.0.1:7000",
		},
		{
			name:        "frontend only",
			cfg:         config{Frontend: "http://localhost:3000"},
			expServer:   "127.0.0.1:9894",
			expFrontend: "http://localhost:3000",
		},
		{
			name:        "both",
			cfg:         config{Server: "127.0.0.1:7000", Frontend: "http://localhost:3000"},
			expServer:   "127.0.0.1:7000",
			expFrontend: "http://localhost:3000",
		},
		{
			name:        "dev",
			cfg:         config{Dev: true},
			expServer:   "127.0.0.1:9894",
			expFrontend: "http://localhost:1234",
			expSkipOpen: true,
		},
		{
			name:        "dev keeps explicit server",
			cfg:         config{Dev: true, Server: "127.0.0.1:7000"},
			expServer:   "127.0.0.1:7000",
			expFrontend: "http://localhost:1234",
			expSkipOpen: true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := c.cfg
			cfg.resolve()
			assert.Equal(t, c.expServer, cfg.Server)
			assert.Equal(t, c.expFrontend, cfg.Frontend)
			assert.Equal(t, c.expSkipOpen, cfg.SkipOpen)
			if c.cfg.Dev {
				assert.True(t, cfg.SkipDepsCheck)
				assert.True(t, cfg.PrintConfig)
			}
		})
	}
}

func validConfig() config {
	return config{
		Server:                "127.0.0.1:9894",
		Frontend:              "http://localhost:9894",
		InactivityTimeout:     time.Minute,
		BatchSize:             20,
		FlushInterval:         time.Second,
		MaxConcurrentRequests: 8,
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(c *config)
		expErr string
	}{
		{name: "valid", modify: func(c *config) {}},
		{name: "zero batch size", modify: func(c *config) { c.BatchSize = 0 }, expErr: "batch size"},
		{name: "negative flush interval", modify: func(c *config) { c.FlushInterval = -time.Second }, expErr: "flush interval"},
		{name: "zero timeout", modify: func(c *config) { c.InactivityTimeout = 0 }, expErr: "inactivity timeout"},
		{name: "zero concurrency", modify: func(c *config) { c.MaxConcurrentRequests = 0 }, expErr: "max concurrent requests"},
		{name: "frontend without host", modify: func(c *config) { c.Frontend = "localhost" }, expErr: "has no host"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := validConfig()
			c.modify(&cfg)
			err := cfg.validate()
			if c.expErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, c.expErr)
		})
	}
}

func TestFrontendHostIsAllowedOrigin(t *testing.T) {
	cfg := validConfig()
	cfg.Frontend = "http://localhost:1234/app"
	host, err := cfg.frontendHost()
	require.NoError(t, err)
	assert.Equal(t, "localhost:1234", host)
}

func TestCheckDeps(t *testing.T) {
	found := func(string) (string, error) { return "/usr/bin/x", nil }
	assert.NoError(t, checkDeps(found))

	noKube := func(name string) (string, error) {
		if name == "kubectl" || name == "kubectx" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}
	err := checkDeps(noKube)
	assert.EqualError(t, err, "missing dependencies: kubectl, kubectx")
}

func TestPrintConfig(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = zapcore.DebugLevel
	b, err := json.Marshal(&cfg)
	require.NoError(t, err)

	var printed map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &printed))
	assert.Equal(t, "1m0s", printed["InactivityTimeout"])
	assert.Equal(t, "1s", printed["FlushInterval"])
	assert.Equal(t, "debug", printed["LogLevel"])
	assert.Equal(t, "127.0.0.1:9894", printed["Server"])
}

func TestConfigFromContext(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("server", "", "")
	set.String("frontend", "", "")
	set.Bool("dev", false, "")
	set.Bool("skip-deps-check", false, "")
	set.Bool("skip-open", false, "")
	set.Bool("print-config", false, "")
	set.Duration("inactivity-timeout", 120*time.Second, "")
	set.Int("batch-size", 20, "")
	set.Duration("flush-interval", 500*time.Millisecond, "")
	set.Int("max-concurrent-requests", 8, "")
	set.Bool("kill-on-abort", false, "")
	set.String("log-level", "warn", "")
	require.NoError(t, set.Parse([]string{"--server", "127.0.0.1:7000", "--kill-on-abort"}))

	cfg, err := configFromContext(cli.NewContext(cli.NewApp(), set, nil))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server)
	assert.Equal(t, "http://127.0.0.1:7000", cfg.Frontend)
	assert.True(t, cfg.KillOnAbort)
	assert.Equal(t, zapcore.WarnLevel, cfg.LogLevel)
	assert.Equal(t, 120*time.Second, cfg.InactivityTimeout)
	assert.Len(t, cfg.agentOptions(), 8)
}
