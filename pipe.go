package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Pipe is a synchronous in-process Transport, the protocol-level analogue of
// net.Pipe. Messages still round-trip through their JSON encoding, so a piped
// client and server exercise the real wire model.
//
// Closing either end closes both; the peer's Receive returns io.EOF.
type Pipe struct {
	send chan<- []byte
	recv <-chan []byte

	done      chan struct{}
	closeOnce *sync.Once
}

// NewPipe returns two connected transports. What one side sends, the other
// receives.
func NewPipe() (*Pipe, *Pipe) {
	ab := make(chan []byte)
	ba := make(chan []byte)
	done := make(chan struct{})
	once := new(sync.Once)
	a := &Pipe{send: ab, recv: ba, done: done, closeOnce: once}
	b := &Pipe{send: ba, recv: ab, done: done, closeOnce: once}
	return a, b
}

// Send encodes msg and hands it to the peer. It blocks until the peer
// receives it, the pipe closes, or ctx is done.
func (p *Pipe) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	case p.send <- data:
		return nil
	}
}

// Receive blocks until the peer sends a message, the pipe closes (io.EOF), or
// ctx is done.
func (p *Pipe) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, io.EOF
	case data := <-p.recv:
		msg, err := DecodeMessage(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		return msg, nil
	}
}

// Close closes both ends of the pipe. It is safe to call from either side,
// multiple times.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
