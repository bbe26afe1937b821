package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestDecode(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		exp   Message
	}{
		{
			name:  "defaults",
			frame: `{}`,
			exp:   Message{Kind: KindEcho, Streaming: true},
		},
		{
			name:  "full shell request",
			frame: `{"type":"sh","message":"echo hi","streaming":false,"meta":"ctx-dropdown"}`,
			exp:   Message{Kind: KindShellRun, Text: "echo hi", Correlation: strPtr("ctx-dropdown")},
		},
		{
			name:  "explicit null meta",
			frame: `{"type":"time","meta":null}`,
			exp:   Message{Kind: KindTime, Streaming: true},
		},
		{
			name:  "ls keeps message text",
			frame: `{"type":"ls","message":"whatever"}`,
			exp:   Message{Kind: KindListFiles, Text: "whatever", Streaming: true},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.exp, Decode([]byte(c.frame)))
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{name: "not json", frame: `hello`},
		{name: "unknown type", frame: `{"type":"rm"}`},
		{name: "wrong field type", frame: `{"streaming":"yes"}`},
		{name: "truncated", frame: `{"type":"sh"`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			msg := Decode([]byte(c.frame))
			assert.Equal(t, KindError, msg.Kind)
			assert.NotEmpty(t, msg.Text)
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msgs := []Message{
		{Kind: KindShellRun, Text: "hi", Streaming: false},
		{Kind: KindEmpty, Correlation: strPtr("apps-dropdown"), Streaming: true},
		{Kind: KindError, Text: "boom", Correlation: strPtr("")},
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, m, Decode(b))
	}
}

func TestMessageEncoding(t *testing.T) {
	b, err := json.Marshal(Message{Kind: KindListFiles, Text: "a\nb"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"a\nb","type":"ls","meta":null,"streaming":false}`, string(b))

	_, err = json.Marshal(Message{Kind: Kind(42)})
	assert.Error(t, err)
}
