package relay

import (
	"encoding/json"
	"fmt"
)

// Kind is the type of a Message. It is encoded as the "type" field.
type Kind int

const (
	KindError Kind = iota
	KindEcho
	KindTime
	KindListFiles
	KindShellRun
	KindEmpty
)

var kindNames = map[Kind]string{
	KindError:     "error",
	KindEcho:      "echo",
	KindTime:      "time",
	KindListFiles: "ls",
	KindShellRun:  "sh",
	KindEmpty:     "empty",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	s, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown message kind %d", int(k))
	}
	return []byte(s), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown message type %q", string(b))
}

// Message is the single frame type exchanged in both directions.
// Missing fields decode as type "echo", meta null, and streaming true.
type Message struct {
	Text string `json:"message"`
	Kind Kind   `json:"type"`
	// Correlation is an opaque client tag echoed back on every reply to a request.
	Correlation *string `json:"meta"`
	// Streaming requests incremental chunks instead of one final reply.
	Streaming bool `json:"streaming"`
}

func (m *Message) UnmarshalJSON(b []byte) error {
	type wireMessage Message
	w := wireMessage{Kind: KindEcho, Streaming: true}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*m = Message(w)
	return nil
}

// Decode parses a raw frame. A frame that cannot be parsed becomes an error message describing why.
func Decode(b []byte) Message {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return NewError(err)
	}
	return msg
}

func NewError(err error) Message {
	return Message{Kind: KindError, Text: err.Error(), Streaming: true}
}

func NewEmpty(correlation *string) Message {
	return Message{Kind: KindEmpty, Correlation: correlation, Streaming: true}
}
