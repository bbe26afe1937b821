/*
Package relay implements the per-connection session protocol for running host commands from a browser page over a single WebSocket connection.

Every frame in either direction is one JSON object:

	{"message": string, "type": "error"|"echo"|"time"|"ls"|"sh"|"empty", "meta": string|null, "streaming": bool}

Omitted fields default to type "echo", meta null, and streaming true. The "meta" field is a client-chosen correlation tag that is copied onto every reply belonging to the request.

The session proceeds as follows:

1. The client opens a WebSocket connection and the session registers a cancellation handle.
2. For each inbound frame the session replies according to its type:
  - "time": one reply with the current Unix time in seconds.
  - "ls": one reply with the output of "ls -a".
  - "sh": the embedded wrapper script runs with the message text split into arguments using POSIX shell quoting. With streaming=false there is one reply with the full output. With streaming=true the output arrives as zero or more chunk frames of newline-joined lines, followed by one "empty" frame marking the end. That frame's message is "inactivity timeout" if the command went quiet for too long rather than finishing.
  - anything else is echoed back unchanged. A frame that cannot be decoded is answered with an "error" frame and the connection stays open.
3. Failures to start a command, or malformed quoting, are answered with an "error" frame.
4. The session ends when the client closes the connection or when the session's handle is canceled, in which case the connection is closed with status Going Away.

Requests within a session run concurrently up to a fixed limit. All outbound frames go through one channel drained by a single writer, so frames are never interleaved, and the frames of any one request keep their order.
*/
package relay
