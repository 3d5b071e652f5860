/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package transport carries framed JSON messages between the master
// and its daemons/users, the way the original prototype's SSNetwork
// carried EOC-delimited JSON strings over a raw TCP socket. The wire
// framing itself is not this package's concern to reinvent: a
// websocket connection already frames messages, so it stands in for
// the original's hand-rolled delimiter protocol.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// Envelope pairs an application message's `head` discriminator with
// its raw body. The Conn implementations in this package do not use
// it: they recover the head with the unexported peek type and return
// the raw body, so callers can decode into api/v1's
// Greeting/JobFinish/NewJob types after inspecting the head.
type Envelope struct {
	Head string          `json:"head"`
	Body json.RawMessage `json:"-"`
}

// peek is used only to recover the head field from an already-decoded
// message without forcing callers to double-encode their payload.
type peek struct {
	Head string `json:"head"`
}

// Conn is one logical connection to a peer (a daemon or a user
// frontend, from the master's point of view; the master, from a
// daemon's point of view). Send and Recv both marshal/unmarshal the
// api/v1 message structs directly — callers never see Envelope.
//
// A Conn is used by exactly one goroutine at a time per direction,
// matching spec.md §5's single-threaded scheduling model: the core
// never has two outstanding Recv calls racing over the same peer.
type Conn interface {
	// Send marshals msg (a Greeting, JobFinish or NewJob value) and
	// writes it as one frame.
	Send(msg any) error
	// Recv blocks for the next frame, honoring ctx's deadline/
	// cancellation, and returns its `head` field alongside the raw
	// JSON body so the caller can type-switch on Head before
	// unmarshaling into the concrete message type.
	Recv(ctx context.Context) (head string, body []byte, err error)
	// Close releases the underlying connection. Idempotent.
	Close() error
}

// wsConn adapts a *websocket.Conn to Conn. Each Send/Recv uses a
// single text frame per message, matching the original's "one EOC-
// terminated JSON object per logical message" framing without
// needing a delimiter of our own.
type wsConn struct {
	ws *websocket.Conn
}

// NewConn wraps an established websocket connection (either side of
// the dial/accept) as a Conn.
func NewConn(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Send(msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshaling message: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, body); err != nil {
		return fmt.Errorf("transport: writing frame: %w", err)
	}
	return nil
}

func (c *wsConn) Recv(ctx context.Context) (string, []byte, error) {
	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		_, body, err := c.ws.ReadMessage()
		done <- result{body, err}
	}()

	select {
	case <-ctx.Done():
		c.ws.Close()
		return "", nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", nil, fmt.Errorf("transport: reading frame: %w", r.err)
		}
		var p peek
		if err := json.Unmarshal(r.body, &p); err != nil {
			return "", nil, fmt.Errorf("transport: decoding head: %w", err)
		}
		return p.Head, r.body, nil
	}
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// Dial opens a websocket connection to a master listening at url, for
// a daemon or user frontend connecting out to the master.
func Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", url, err)
	}
	return NewConn(ws), nil
}

// Upgrader wraps websocket.Upgrader for the master's accept path.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
