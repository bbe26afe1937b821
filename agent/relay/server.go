package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/kuber/agent/executor"
	"github.com/guseggert/kuber/agent/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

const (
	readLimit = 32768

	outboxSize = 100

	DefaultMaxConcurrentRequests = 8
)

// Runner runs one command. *executor.Executor implements it.
type Runner interface {
	Run(ctx context.Context, spec executor.CommandSpec, streaming bool, sink executor.Sink) (*executor.Result, error)
}

type Server struct {
	Log      *zap.SugaredLogger
	Runner   Runner
	Registry *registry.Registry
	Commands Commands

	// MaxConcurrentRequests bounds how many requests of one session run at once.
	MaxConcurrentRequests int
	// OriginPatterns are the extra hosts, besides the request's own, allowed to open a session.
	OriginPatterns []string

	Now func() time.Time
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
		OriginPatterns:  s.OriginPatterns,
	})
	if err != nil {
		s.Log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	wsConn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	handle := s.Registry.Register(cancel)
	defer s.Registry.Unregister(handle)

	maxConcurrent := s.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRequests
	}
	sess := &session{
		id:            handle.ID,
		log:           s.Log.Named("session").With("Session", handle.ID),
		server:        s,
		conn:          wsConn,
		ctx:           ctx,
		cancel:        cancel,
		outbox:        make(chan Message, outboxSize),
		maxConcurrent: maxConcurrent,
	}
	sess.log.Debug("accepted WebSocket conn")
	sess.run()
	sess.log.Debug("session ended")
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

type session struct {
	id     uuid.UUID
	log    *zap.SugaredLogger
	server *Server
	conn   *websocket.Conn
	ctx    context.Context
	cancel func()

	// outbox is the only path to the connection, drained by writeMessages
	outbox        chan Message
	maxConcurrent int

	closeConnOnce sync.Once
}

func (s *session) run() {
	defer s.cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeMessages()
	}()

	readDone := make(chan struct{})
	go s.closeOnCancel(readDone)

	group, groupCtx := errgroup.WithContext(s.ctx)
	group.SetLimit(s.maxConcurrent)
	s.readMessages(groupCtx, group)
	close(readDone)

	// nobody is left to read replies once the read side is gone
	s.cancel()
	if err := group.Wait(); err != nil {
		s.log.Debugf("request ended session: %s", err)
	}

	close(s.outbox)
	<-writerDone
	s.close(websocket.StatusNormalClosure, "")
}

// closeOnCancel closes the connection when the session is canceled from outside, which unblocks the reader.
func (s *session) closeOnCancel(readDone <-chan struct{}) {
	select {
	case <-s.ctx.Done():
		s.close(websocket.StatusGoingAway, "session aborted")
	case <-readDone:
	}
}

func (s *session) close(code websocket.StatusCode, reason string) {
	s.closeConnOnce.Do(func() {
		err := s.conn.Close(code, reason)
		if err != nil {
			s.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (s *session) readMessages(ctx context.Context, group *errgroup.Group) {
	for {
		// reads are not bound to the session context: cancellation closes the conn
		// through closeOnCancel so the peer sees Going Away
		_, b, err := s.conn.Read(context.Background())
		if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			s.log.Debugf("got close status %s from client, wrapping up", status)
			return
		}
		if err != nil {
			if s.ctx.Err() != nil {
				s.log.Debugf("session canceled: %s", s.ctx.Err())
				return
			}
			s.log.Debugf("message reader got error: %s", err)
			s.close(websocket.StatusInternalError, "read failed")
			return
		}
		if ctx.Err() != nil {
			return
		}

		msg := Decode(b)
		if msg.Kind == KindError {
			s.log.Debugw("could not decode message", "Error", msg.Text)
		}
		group.Go(func() error {
			return s.handle(ctx, msg)
		})
	}
}

// handle dispatches one request and sends its direct reply, if any.
// It only returns an error when the connection can no longer be written to.
func (s *session) handle(ctx context.Context, req Message) error {
	s.log.Debugw("handling request", "Type", req.Kind, "Streaming", req.Streaming)
	var reply *Message
	switch req.Kind {
	case KindTime:
		reply = &Message{
			Kind:        KindTime,
			Text:        strconv.FormatInt(s.server.now().Unix(), 10),
			Correlation: req.Correlation,
		}
	case KindListFiles:
		var err error
		reply, err = s.execute(ctx, req, s.server.Commands.ListFiles(), false)
		if err != nil {
			return err
		}
	case KindShellRun:
		spec, err := s.server.Commands.ShellRun(req.Text)
		if err != nil {
			reply = errorReply(req, err)
			break
		}
		reply, err = s.execute(ctx, req, spec, req.Streaming)
		if err != nil {
			return err
		}
	case KindEcho, KindError, KindEmpty:
		reply = &req
	default:
		reply = errorReply(req, fmt.Errorf("unhandled message type %s", req.Kind))
	}
	if reply == nil {
		return nil
	}
	return s.send(ctx, *reply)
}

func (s *session) execute(ctx context.Context, req Message, spec executor.CommandSpec, streaming bool) (*Message, error) {
	res, err := s.server.Runner.Run(ctx, spec, streaming, &chunkWriter{session: s, req: req})
	if err != nil {
		if errors.Is(err, executor.ErrDelivery) {
			return nil, err
		}
		if ctx.Err() != nil {
			s.log.Debugf("dropping reply for canceled request: %s", err)
			return nil, nil
		}
		return errorReply(req, err), nil
	}

	text, ok := res.Text()
	if !ok {
		end := NewEmpty(req.Correlation)
		if res.TimedOut {
			end.Text = "inactivity timeout"
		}
		return &end, nil
	}
	return &Message{
		Kind:        req.Kind,
		Text:        text,
		Correlation: req.Correlation,
		Streaming:   req.Streaming,
	}, nil
}

func errorReply(req Message, err error) *Message {
	msg := NewError(err)
	msg.Correlation = req.Correlation
	msg.Streaming = req.Streaming
	return &msg
}

// send queues a message for the writer, waiting for room if the outbox is full.
func (s *session) send(ctx context.Context, msg Message) error {
	select {
	case s.outbox <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session closed: %w", ctx.Err())
	}
}
