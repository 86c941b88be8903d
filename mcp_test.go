package mcp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelctx/mcp"
)

// TestEndToEndSession runs a real client against a real server over a pipe
// and walks the whole protocol surface: handshake, discovery, invocation,
// log streaming and list-change notifications.
func TestEndToEndSession(t *testing.T) {
	handler := &mockHandler{}
	cliTransport, srvTransport := mcp.NewPipe()

	srv := mcp.NewServer(handler, srvTransport)
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Run(context.Background()) }()

	logReceiver := chanLogReceiver{messages: make(chan mcp.LogMessageParams, 1)}
	toolWatcher := chanToolListWatcher{changed: make(chan struct{}, 1)}
	cli := mcp.NewClient(mcp.Info{Name: "e2e-client", Version: "0.1.0"}, cliTransport,
		mcp.WithLogReceiver(logReceiver),
		mcp.WithToolListWatcher(toolWatcher),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	initRes, err := cli.Connect(ctx)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if initRes.ServerInfo.Name != "mock" {
		t.Errorf("got server name %q, want %q", initRes.ServerInfo.Name, "mock")
	}
	if initRes.Capabilities.Tools == nil {
		t.Error("tools capability missing from initialize result")
	}
	if got := srv.ClientInfo().Name; got != "e2e-client" {
		t.Errorf("server recorded client name %q, want %q", got, "e2e-client")
	}

	tools, err := cli.ListTools(ctx, mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "echo" {
		t.Fatalf("got tools %+v, want one tool named echo", tools.Tools)
	}

	callRes, err := cli.CallTool(ctx, mcp.CallToolParams{Name: "echo"})
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if len(callRes.Content) != 1 || callRes.Content[0].Text != "ok" {
		t.Fatalf("got tool result %+v, want single text content ok", callRes.Content)
	}

	if err := cli.SetLogLevel(ctx, mcp.LogLevelWarning); err != nil {
		t.Fatalf("failed to set log level: %v", err)
	}

	if err := srv.SendLogMessage(ctx, mcp.LogLevelError, "e2e", json.RawMessage(`"disk full"`)); err != nil {
		t.Fatalf("failed to send log message: %v", err)
	}
	select {
	case params := <-logReceiver.messages:
		if params.Level != mcp.LogLevelError {
			t.Errorf("got log level %q, want %q", params.Level, mcp.LogLevelError)
		}
		if params.Logger != "e2e" {
			t.Errorf("got logger %q, want %q", params.Logger, "e2e")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for log message")
	}

	if err := srv.NotifyToolsListChanged(ctx); err != nil {
		t.Fatalf("failed to notify tool list change: %v", err)
	}
	select {
	case <-toolWatcher.changed:
	case <-ctx.Done():
		t.Fatal("timed out waiting for tool list change")
	}

	// Closing the client ends the session cleanly on the server side.
	if err := cli.Close(); err != nil {
		t.Fatalf("failed to close client: %v", err)
	}
	select {
	case err := <-srvDone:
		if err != nil {
			t.Fatalf("server exited with error: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for server shutdown")
	}
}
