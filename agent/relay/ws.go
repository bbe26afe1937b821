package relay

import (
	"context"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 10 * time.Second

// writeMessages is the single writer for the connection. It drains the outbox until it is closed.
// Once the session is canceled, or after a write error, the rest of the outbox is discarded.
// Writes are not bound to the session context so that an abort never interrupts a frame
// halfway and the close handshake in closeOnCancel still goes through.
func (s *session) writeMessages() {
	failed := false
	for msg := range s.outbox {
		if failed || s.ctx.Err() != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, s.conn, &msg)
		cancel()
		if err != nil {
			s.log.Debugf("error writing message, stopping writer: %s", err)
			failed = true
			s.close(websocket.StatusInternalError, "write failed")
			s.cancel()
		}
	}
}

// chunkWriter is the executor sink for one request. Each chunk becomes one message
// carrying the request's type and correlation tag.
type chunkWriter struct {
	session *session
	req     Message
}

func (w *chunkWriter) SendChunk(ctx context.Context, lines []string) error {
	w.session.log.Debugf("sending chunk of %d lines", len(lines))
	return w.session.send(ctx, Message{
		Kind:        w.req.Kind,
		Text:        strings.Join(lines, "\n"),
		Correlation: w.req.Correlation,
		Streaming:   true,
	})
}
