package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/kuber/agent"
	"github.com/guseggert/kuber/agent/executor"
	"github.com/guseggert/kuber/agent/relay"
	"github.com/pkg/browser"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "kuber",
		Usage: "a browser frontend for running kubectl helpers on this machine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server",
				Usage:       "The address for the HTTP server to listen on.",
				DefaultText: agent.DefaultListenAddr,
			},
			&cli.StringFlag{
				Name:        "frontend",
				Usage:       "The URL the frontend is served from.",
				DefaultText: "derived from --server",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "Development mode: skip the dependency check and browser, print the config, expect the frontend on " + devFrontend + ".",
			},
			&cli.BoolFlag{
				Name:  "skip-deps-check",
				Usage: "Don't check that the runtime dependencies are installed.",
			},
			&cli.BoolFlag{
				Name:  "skip-open",
				Usage: "Don't open the frontend in a browser.",
			},
			&cli.BoolFlag{
				Name:  "print-config",
				Usage: "Print the resolved config before starting.",
			},
			&cli.DurationFlag{
				Name:  "inactivity-timeout",
				Usage: "How long a streaming command may go without output before it is cut off.",
				Value: executor.DefaultInactivityTimeout,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "The number of output lines that triggers sending a chunk.",
				Value: executor.DefaultBatchSize,
			},
			&cli.DurationFlag{
				Name:  "flush-interval",
				Usage: "The longest time output lines are held before being sent.",
				Value: executor.DefaultFlushInterval,
			},
			&cli.IntFlag{
				Name:  "max-concurrent-requests",
				Usage: "The number of requests one session may run at once.",
				Value: relay.DefaultMaxConcurrentRequests,
			},
			&cli.BoolFlag{
				Name:  "kill-on-abort",
				Usage: "Kill running commands when their session is aborted.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error].",
				Value: "info",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:  "flush",
				Usage: "abort every active session of a running server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "server",
						Usage: "The address of the server.",
						Value: agent.DefaultListenAddr,
					},
				},
				Action: flush,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// buildLogger returns a development logger. Components raise its level with zap.IncreaseLevel.
func buildLogger() (*zap.Logger, error) {
	return zap.NewDevelopment()
}

func serve(ctx *cli.Context) error {
	cfg, err := configFromContext(ctx)
	if err != nil {
		return err
	}

	if cfg.PrintConfig {
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		fmt.Fprintln(ctx.App.Writer, string(b))
	}

	if !cfg.SkipDepsCheck {
		if err := checkDeps(exec.LookPath); err != nil {
			return err
		}
	}

	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	sugared := logger.WithOptions(zap.IncreaseLevel(cfg.LogLevel)).Sugar()

	opts := append([]agent.Option{agent.WithLogger(logger)}, cfg.agentOptions()...)
	relayAgent, err := agent.NewRelayAgent(opts...)
	if err != nil {
		return fmt.Errorf("building agent: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(relayAgent.Run)
	group.Go(func() error {
		<-groupCtx.Done()
		return relayAgent.Stop()
	})
	if !cfg.SkipOpen {
		group.Go(func() error {
			return openFrontend(groupCtx, sugared, cfg)
		})
	}
	return group.Wait()
}

// openFrontend waits for the server to come up and then opens the frontend in the default browser.
func openFrontend(ctx context.Context, log *zap.SugaredLogger, cfg *config) error {
	client, err := agent.NewClient(log, cfg.Server)
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err = client.WaitForServer(waitCtx)
	if err != nil {
		return fmt.Errorf("waiting for server: %w", err)
	}
	log.Infof("opening %s", cfg.Frontend)
	err = browser.OpenURL(cfg.Frontend)
	if err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}

func flush(ctx *cli.Context) error {
	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	sugared := logger.WithOptions(zap.IncreaseLevel(zapcore.InfoLevel)).Sugar()
	client, err := agent.NewClient(sugared, ctx.String("server"))
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}
	err = client.Flush(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "ok")
	return nil
}
