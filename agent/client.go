package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/kuber/agent/relay"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// clientReadLimit leaves room for chunks of long lines, which can be much larger than requests.
const clientReadLimit = 1 << 20

// Client talks to a RelayAgent: the control endpoints over HTTP and sessions over WebSocket.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL                  string
	wsURL                    string
	customizeRetryableClient func(*retryablehttp.Client)

	waitInterval time.Duration
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("kuber_client").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient builds a client for the agent listening on addr (host:port).
func NewClient(log *zap.SugaredLogger, addr string, opts ...ClientOption) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("no agent address")
	}
	c := &Client{
		Logger:       log.Named("kuber_client"),
		baseURL:      "http://" + addr,
		wsURL:        "ws://" + addr + "/api",
		waitInterval: 100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	return c, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected health status code %d", resp.StatusCode)
	}

	var health HealthResponse
	err = json.NewDecoder(resp.Body).Decode(&health)
	if err != nil {
		return nil, fmt.Errorf("decoding health response: %w", err)
	}
	return &health, nil
}

// Flush aborts every active session on the agent.
func (c *Client) Flush(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/flush", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending flush over HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body string
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			body = fmt.Errorf("error reading body: %w", err).Error()
		} else {
			body = string(b)
		}
		return fmt.Errorf("non-200 HTTP status code %d received when flushing: %s", resp.StatusCode, body)
	}
	return nil
}

func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, err := c.Health(ctx)
			if err == nil {
				c.Logger.Debug("health check succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got health check error: %s", err)
		}
	}
}

// Connect opens a session.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	c.Logger.Debugw("dialing WebSocket", "URL", c.wsURL)
	wsConn, _, err := websocket.Dial(ctx, c.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing WebSocket conn: %w", err)
	}
	wsConn.SetReadLimit(clientReadLimit)
	return &Conn{conn: wsConn, log: c.Logger.Named("session")}, nil
}

// Conn is one session with the agent. Send and Receive may be used from different goroutines,
// but Receive and Do must not be called concurrently with each other.
type Conn struct {
	conn *websocket.Conn
	log  *zap.SugaredLogger
}

func (c *Conn) Send(ctx context.Context, msg relay.Message) error {
	return wsjson.Write(ctx, c.conn, &msg)
}

func (c *Conn) Receive(ctx context.Context) (relay.Message, error) {
	var msg relay.Message
	err := wsjson.Read(ctx, c.conn, &msg)
	return msg, err
}

// Do sends req and collects its replies until the request is complete.
// If req has no correlation tag, a random one is assigned so replies can be told apart.
// Replies to other requests on the same session are skipped.
func (c *Conn) Do(ctx context.Context, req relay.Message) ([]relay.Message, error) {
	if req.Correlation == nil {
		tag := uuid.NewString()
		req.Correlation = &tag
	}
	err := c.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	var replies []relay.Message
	for {
		msg, err := c.Receive(ctx)
		if err != nil {
			return replies, fmt.Errorf("receiving reply: %w", err)
		}
		if msg.Correlation == nil || *msg.Correlation != *req.Correlation {
			c.log.Debugw("skipping unrelated message", "Type", msg.Kind)
			continue
		}
		replies = append(replies, msg)
		if isFinal(req, msg) {
			return replies, nil
		}
	}
}

// isFinal reports whether reply is the last message the relay sends for req.
func isFinal(req, reply relay.Message) bool {
	if req.Kind == relay.KindShellRun && req.Streaming {
		return reply.Kind == relay.KindEmpty || reply.Kind == relay.KindError
	}
	return true
}

func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
