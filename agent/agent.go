package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/guseggert/kuber/agent/executor"
	"github.com/guseggert/kuber/agent/registry"
	"github.com/guseggert/kuber/agent/relay"
	"github.com/guseggert/kuber/assets"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const DefaultListenAddr = "127.0.0.1:9894"

// RelayAgent is the HTTP agent that serves the frontend and relays command requests from it.
// It has no authentication, so it should only listen on a loopback address.
type RelayAgent struct {
	logger *zap.SugaredLogger

	listenAddr     string
	originPatterns []string
	shell          string
	maxConcurrent  int
	executor       executor.Executor

	httpServer  *http.Server
	relayServer *relay.Server
	registry    *registry.Registry

	startTime time.Time
}

type Option func(a *RelayAgent)

func WithListenAddr(s string) Option {
	return func(a *RelayAgent) {
		a.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *RelayAgent) {
		a.logger = l.Named("relayagent").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *RelayAgent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithOriginPatterns allows WebSocket sessions from pages served by other hosts, such as a dev frontend.
func WithOriginPatterns(patterns ...string) Option {
	return func(a *RelayAgent) {
		a.originPatterns = append(a.originPatterns, patterns...)
	}
}

func WithInactivityTimeout(d time.Duration) Option {
	return func(a *RelayAgent) {
		a.executor.InactivityTimeout = d
	}
}

func WithBatchSize(n int) Option {
	return func(a *RelayAgent) {
		a.executor.BatchSize = n
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(a *RelayAgent) {
		a.executor.FlushInterval = d
	}
}

// WithKillOnAbort kills running commands when their session ends, instead of only detaching from their output.
func WithKillOnAbort(b bool) Option {
	return func(a *RelayAgent) {
		a.executor.KillOnCancel = b
	}
}

func WithMaxConcurrentRequests(n int) Option {
	return func(a *RelayAgent) {
		a.maxConcurrent = n
	}
}

// WithShell sets the shell that runs the wrapper script.
func WithShell(s string) Option {
	return func(a *RelayAgent) {
		a.shell = s
	}
}

// NewRelayAgent constructs a new relay agent.
func NewRelayAgent(opts ...Option) (*RelayAgent, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	a := &RelayAgent{
		logger:     logger.Named("relayagent").Sugar(),
		listenAddr: DefaultListenAddr,
		shell:      relay.DefaultShell(),
		executor: executor.Executor{
			InactivityTimeout: executor.DefaultInactivityTimeout,
			BatchSize:         executor.DefaultBatchSize,
			FlushInterval:     executor.DefaultFlushInterval,
		},
	}
	for _, o := range opts {
		o(a)
	}

	a.executor.Log = a.logger.Named("executor")
	a.registry = registry.New(a.logger.Named("registry"))
	a.relayServer = &relay.Server{
		Log:      a.logger.Named("relay_server"),
		Runner:   &a.executor,
		Registry: a.registry,
		Commands: relay.Commands{
			Shell:  a.shell,
			Script: assets.Script,
		},
		MaxConcurrentRequests: a.maxConcurrent,
		OriginPatterns:        a.originPatterns,
	}
	a.httpServer = &http.Server{Handler: a.routes()}
	return a, nil
}

func (a *RelayAgent) routes() http.Handler {
	flushCORS := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost},
	})
	flush := flushCORS.Handler(http.HandlerFunc(a.flush))

	router := httprouter.New()
	// unknown methods on known paths get the frontend too
	router.HandleMethodNotAllowed = false
	router.GET("/api", a.session)
	router.GET("/api/health", a.health)
	router.Handler(http.MethodPost, "/api/flush", flush)
	router.Handler(http.MethodOptions, "/api/flush", flush)
	router.NotFound = http.HandlerFunc(a.frontend)
	return router
}

// Run runs the relay agent and returns once it has stopped.
func (a *RelayAgent) Run() error {
	a.startTime = time.Now()

	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	a.logger.Infof("listening on %s", listener.Addr())

	err = a.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the listener and every open connection.
// Sessions whose connections are closed end on their own; running commands are not waited for.
func (a *RelayAgent) Stop() error {
	a.registry.AbortAll()
	return a.httpServer.Close()
}

func (a *RelayAgent) session(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.relayServer.ServeHTTP(w, r)
}

// flush aborts every active session.
func (a *RelayAgent) flush(w http.ResponseWriter, r *http.Request) {
	n := a.registry.AbortAll()
	a.logger.Infow("aborted all sessions", "Sessions", n)
	w.Header().Add("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

type HealthResponse struct {
	Sessions  int
	StartTime string
}

func (a *RelayAgent) health(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	response := HealthResponse{
		Sessions:  a.registry.Len(),
		StartTime: a.startTime.UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(response)
	if err != nil {
		a.logger.Debugf("error marshaling health response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

func (a *RelayAgent) frontend(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "text/html; charset=utf-8")
	_, err := w.Write(assets.Index)
	if err != nil {
		a.logger.Debugf("error sending frontend: %s", err)
	}
}
