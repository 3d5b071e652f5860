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

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// pipeConn is an in-process Conn backed by a pair of channels, the
// in-memory stand-in for a websocket connection used by tests that
// exercise the master/daemon protocol without opening a real socket.
type pipeConn struct {
	out chan []byte
	in  chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPipe returns two ends of an in-process connection: frames sent
// on one are received on the other, mirroring two peers of a
// websocket.Conn without any network stack underneath.
func NewPipe() (a, b Conn) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	pa := &pipeConn{out: ab, in: ba, closed: make(chan struct{})}
	pb := &pipeConn{out: ba, in: ab, closed: make(chan struct{})}
	return pa, pb
}

func (p *pipeConn) Send(msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshaling message: %w", err)
	}
	select {
	case <-p.closed:
		return fmt.Errorf("transport: send on closed pipe")
	default:
	}
	select {
	case p.out <- body:
		return nil
	case <-p.closed:
		return fmt.Errorf("transport: send on closed pipe")
	}
}

func (p *pipeConn) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-p.closed:
		return "", nil, fmt.Errorf("transport: recv on closed pipe")
	case body := <-p.in:
		var pk peek
		if err := json.Unmarshal(body, &pk); err != nil {
			return "", nil, fmt.Errorf("transport: decoding head: %w", err)
		}
		return pk.Head, body, nil
	}
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
