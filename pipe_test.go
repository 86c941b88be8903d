package mcp_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/modelctx/mcp"
)

func TestPipeRoundTrip(t *testing.T) {
	a, b := mcp.NewPipe()
	t.Cleanup(func() { a.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The pipe goes through the wire encoding, so a string id must survive
	// the trip as a string.
	req, err := mcp.NewRequest(mcp.NewStringRequestID("abc"), mcp.MethodToolsList, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	go func() {
		if err := a.Send(ctx, req); err != nil {
			t.Errorf("failed to send: %v", err)
		}
	}()

	msg, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("failed to receive: %v", err)
	}
	got, ok := msg.(*mcp.Request)
	if !ok {
		t.Fatalf("got %T, want *mcp.Request", msg)
	}
	if !got.ID.IsString() || got.ID != mcp.NewStringRequestID("abc") {
		t.Errorf("id lost its string discrimination: %+v", got.ID)
	}
}

func TestPipeCloseEndsBothSides(t *testing.T) {
	a, b := mcp.NewPipe()

	if err := a.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("got error %v, want io.EOF", err)
	}
	if _, err := a.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("got error %v, want io.EOF", err)
	}

	req, err := mcp.NewRequest(mcp.NewRequestID(1), mcp.MethodPing, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if err := b.Send(ctx, req); !errors.Is(err, mcp.ErrClosed) {
		t.Fatalf("got error %v, want ErrClosed", err)
	}
}
