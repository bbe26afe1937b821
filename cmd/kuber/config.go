package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/guseggert/kuber/agent"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
)

const devFrontend = "http://localhost:1234"

// runtimeDeps must resolve on PATH for the wrapper script to work.
var runtimeDeps = []string{"bash", "sh", "kubectl", "kubectx"}

type config struct {
	Server   string
	Frontend string

	Dev           bool
	SkipDepsCheck bool
	SkipOpen      bool
	PrintConfig   bool

	InactivityTimeout     time.Duration
	BatchSize             int
	FlushInterval         time.Duration
	MaxConcurrentRequests int
	KillOnAbort           bool
	LogLevel              zapcore.Level
}

func configFromContext(ctx *cli.Context) (*config, error) {
	level, err := zapcore.ParseLevel(ctx.String("log-level"))
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	c := &config{
		Server:                ctx.String("server"),
		Frontend:              ctx.String("frontend"),
		Dev:                   ctx.Bool("dev"),
		SkipDepsCheck:         ctx.Bool("skip-deps-check"),
		SkipOpen:              ctx.Bool("skip-open"),
		PrintConfig:           ctx.Bool("print-config"),
		InactivityTimeout:     ctx.Duration("inactivity-timeout"),
		BatchSize:             ctx.Int("batch-size"),
		FlushInterval:         ctx.Duration("flush-interval"),
		MaxConcurrentRequests: ctx.Int("max-concurrent-requests"),
		KillOnAbort:           ctx.Bool("kill-on-abort"),
		LogLevel:              level,
	}
	c.resolve()
	return c, c.validate()
}

// resolve fills in the server and frontend addresses from whichever of them was given.
func (c *config) resolve() {
	if c.Dev {
		c.SkipDepsCheck = true
		c.SkipOpen = true
		c.PrintConfig = true
		if c.Server == "" {
			c.Server = agent.DefaultListenAddr
		}
		if c.Frontend == "" {
			c.Frontend = devFrontend
		}
		return
	}
	switch {
	case c.Server == "" && c.Frontend == "":
		c.Server = agent.DefaultListenAddr
		c.Frontend = "http://localhost:9894"
	case c.Frontend == "":
		c.Frontend = "http://" + c.Server
	case c.Server == "":
		c.Server = agent.DefaultListenAddr
	}
}

func (c *config) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %s", c.FlushInterval)
	}
	if c.InactivityTimeout <= 0 {
		return fmt.Errorf("inactivity timeout must be positive, got %s", c.InactivityTimeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max concurrent requests must be positive, got %d", c.MaxConcurrentRequests)
	}
	if _, err := c.frontendHost(); err != nil {
		return err
	}
	return nil
}

// frontendHost is the host:port the page is served from, which must be allowed to open sessions.
func (c *config) frontendHost() (string, error) {
	u, err := url.Parse(c.Frontend)
	if err != nil {
		return "", fmt.Errorf("parsing frontend URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("frontend URL %q has no host", c.Frontend)
	}
	return u.Host, nil
}

func (c *config) agentOptions() []agent.Option {
	host, _ := c.frontendHost()
	return []agent.Option{
		agent.WithListenAddr(c.Server),
		agent.WithOriginPatterns(host),
		agent.WithInactivityTimeout(c.InactivityTimeout),
		agent.WithBatchSize(c.BatchSize),
		agent.WithFlushInterval(c.FlushInterval),
		agent.WithMaxConcurrentRequests(c.MaxConcurrentRequests),
		agent.WithKillOnAbort(c.KillOnAbort),
		// applied after the caller's WithLogger
		agent.WithLogLevel(c.LogLevel),
	}
}

func (c *config) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Server                string
		Frontend              string
		Dev                   bool
		SkipDepsCheck         bool
		SkipOpen              bool
		InactivityTimeout     string
		BatchSize             int
		FlushInterval         string
		MaxConcurrentRequests int
		KillOnAbort           bool
		LogLevel              string
	}{
		Server:                c.Server,
		Frontend:              c.Frontend,
		Dev:                   c.Dev,
		SkipDepsCheck:         c.SkipDepsCheck,
		SkipOpen:              c.SkipOpen,
		InactivityTimeout:     c.InactivityTimeout.String(),
		BatchSize:             c.BatchSize,
		FlushInterval:         c.FlushInterval.String(),
		MaxConcurrentRequests: c.MaxConcurrentRequests,
		KillOnAbort:           c.KillOnAbort,
		LogLevel:              c.LogLevel.String(),
	})
}

// checkDeps returns an error naming every dependency that lookPath cannot find.
func checkDeps(lookPath func(string) (string, error)) error {
	var missing []string
	for _, dep := range runtimeDeps {
		if _, err := lookPath(dep); err != nil {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}
