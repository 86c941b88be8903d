package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelctx/mcp"
)

// fakeServer drives the server side of a pipe by hand, so client behavior
// can be tested against exact wire messages.
type fakeServer struct {
	t         *testing.T
	transport *mcp.Pipe

	requests chan *mcp.Request
	notifs   chan *mcp.Notification
}

func newFakeServer(t *testing.T, transport *mcp.Pipe) *fakeServer {
	t.Helper()
	s := &fakeServer{
		t:         t,
		transport: transport,
		requests:  make(chan *mcp.Request, 10),
		notifs:    make(chan *mcp.Notification, 10),
	}
	go func() {
		for {
			msg, err := transport.Receive(context.Background())
			if err != nil {
				return
			}
			switch m := msg.(type) {
			case *mcp.Request:
				s.requests <- m
			case *mcp.Notification:
				s.notifs <- m
			}
		}
	}()
	return s
}

func (s *fakeServer) nextRequest() *mcp.Request {
	s.t.Helper()
	select {
	case req := <-s.requests:
		return req
	case <-time.After(5 * time.Second):
		s.t.Fatal("timed out waiting for request")
		return nil
	}
}

func (s *fakeServer) nextNotification() *mcp.Notification {
	s.t.Helper()
	select {
	case notif := <-s.notifs:
		return notif
	case <-time.After(5 * time.Second):
		s.t.Fatal("timed out waiting for notification")
		return nil
	}
}

func (s *fakeServer) respond(id mcp.RequestID, result any) {
	s.t.Helper()
	res, err := mcp.NewResponse(id, result)
	if err != nil {
		s.t.Fatalf("failed to build response: %v", err)
	}
	if err := s.transport.Send(context.Background(), res); err != nil {
		s.t.Fatalf("failed to send response: %v", err)
	}
}

func (s *fakeServer) respondError(id mcp.RequestID, rpcErr *mcp.JSONRPCError) {
	s.t.Helper()
	if err := s.transport.Send(context.Background(), mcp.NewErrorResponse(&id, rpcErr)); err != nil {
		s.t.Fatalf("failed to send error response: %v", err)
	}
}

func (s *fakeServer) notify(method string, params any) {
	s.t.Helper()
	notif, err := mcp.NewNotification(method, params)
	if err != nil {
		s.t.Fatalf("failed to build notification: %v", err)
	}
	if err := s.transport.Send(context.Background(), notif); err != nil {
		s.t.Fatalf("failed to send notification: %v", err)
	}
}

// serveHandshake answers the initialize request and consumes the initialized
// notification.
func (s *fakeServer) serveHandshake() {
	s.t.Helper()
	req := s.nextRequest()
	if req.Method != mcp.MethodInitialize {
		s.t.Fatalf("got method %q, want %q", req.Method, mcp.MethodInitialize)
	}
	var params mcp.InitializeParams
	if err := req.UnmarshalParams(&params); err != nil {
		s.t.Fatalf("failed to unmarshal initialize params: %v", err)
	}
	s.respond(req.ID, mcp.InitializeResult{
		ProtocolVersion: params.ProtocolVersion,
		ServerInfo:      mcp.Info{Name: "fake", Version: "0.1.0"},
	})
	notif := s.nextNotification()
	if notif.Method != "notifications/initialized" {
		s.t.Fatalf("got notification %q, want notifications/initialized", notif.Method)
	}
}

func connectedClient(t *testing.T, options ...mcp.ClientOption) (*mcp.Client, *fakeServer) {
	t.Helper()
	cliTransport, srvTransport := mcp.NewPipe()
	t.Cleanup(func() { cliTransport.Close() })

	srv := newFakeServer(t, srvTransport)
	cli := mcp.NewClient(mcp.Info{Name: "test-client", Version: "0.1.0"}, cliTransport, options...)

	done := make(chan error, 1)
	go func() {
		_, err := cli.Connect(context.Background())
		done <- err
	}()
	srv.serveHandshake()
	if err := <-done; err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return cli, srv
}

func TestClientConnect(t *testing.T) {
	cli, _ := connectedClient(t)

	if got := cli.ServerInfo().Name; got != "fake" {
		t.Errorf("got server name %q, want %q", got, "fake")
	}
}

func TestClientConnectRejectsUnsupportedVersion(t *testing.T) {
	cliTransport, srvTransport := mcp.NewPipe()
	t.Cleanup(func() { cliTransport.Close() })

	srv := newFakeServer(t, srvTransport)
	cli := mcp.NewClient(mcp.Info{Name: "test-client", Version: "0.1.0"}, cliTransport)

	done := make(chan error, 1)
	go func() {
		_, err := cli.Connect(context.Background())
		done <- err
	}()

	req := srv.nextRequest()
	srv.respond(req.ID, mcp.InitializeResult{
		ProtocolVersion: "1999-01-01",
		ServerInfo:      mcp.Info{Name: "fake", Version: "0.1.0"},
	})

	if err := <-done; err == nil {
		t.Fatal("expected connect error for unsupported protocol version, got none")
	}
}

func TestClientRequestCorrelation(t *testing.T) {
	cli, srv := connectedClient(t)
	ctx := context.Background()

	type result struct {
		raw json.RawMessage
		err error
	}

	// First request goes out and is held unanswered.
	resA := make(chan result, 1)
	go func() {
		raw, err := cli.Request(ctx, "tools/list", nil)
		resA <- result{raw, err}
	}()
	reqA := srv.nextRequest()

	// Second request overlaps the first.
	resB := make(chan result, 1)
	go func() {
		raw, err := cli.Request(ctx, "prompts/list", nil)
		resB <- result{raw, err}
	}()
	reqB := srv.nextRequest()

	if reqA.ID == reqB.ID {
		t.Fatalf("concurrent requests share id %s", reqA.ID)
	}

	// Answer in reverse arrival order; each waiter must still get its own
	// response.
	srv.respond(reqB.ID, map[string]string{"for": "b"})
	srv.respond(reqA.ID, map[string]string{"for": "a"})

	gotB := <-resB
	if gotB.err != nil {
		t.Fatalf("request B failed: %v", gotB.err)
	}
	gotA := <-resA
	if gotA.err != nil {
		t.Fatalf("request A failed: %v", gotA.err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(gotA.raw, &decoded); err != nil {
		t.Fatalf("failed to unmarshal result A: %v", err)
	}
	if decoded["for"] != "a" {
		t.Errorf("request A got result %v, want for=a", decoded)
	}
	if err := json.Unmarshal(gotB.raw, &decoded); err != nil {
		t.Fatalf("failed to unmarshal result B: %v", err)
	}
	if decoded["for"] != "b" {
		t.Errorf("request B got result %v, want for=b", decoded)
	}
}

func TestClientRequestErrorResponse(t *testing.T) {
	cli, srv := connectedClient(t)

	done := make(chan error, 1)
	go func() {
		_, err := cli.Request(context.Background(), "tools/call", nil)
		done <- err
	}()

	req := srv.nextRequest()
	srv.respondError(req.ID, &mcp.JSONRPCError{
		Code:    mcp.CodeToolError,
		Message: "tool blew up",
	})

	err := <-done
	var rpcErr *mcp.JSONRPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("got error %v, want *mcp.JSONRPCError", err)
	}
	if rpcErr.Code != mcp.CodeToolError {
		t.Errorf("got code %d, want %d", rpcErr.Code, mcp.CodeToolError)
	}
}

func TestClientRequestFailsOnClose(t *testing.T) {
	cli, srv := connectedClient(t)

	done := make(chan error, 1)
	go func() {
		_, err := cli.Request(context.Background(), "tools/list", nil)
		done <- err
	}()

	// Make sure the request is in flight before tearing the session down.
	srv.nextRequest()
	if err := cli.Close(); err != nil {
		t.Fatalf("failed to close client: %v", err)
	}

	if err := <-done; !errors.Is(err, mcp.ErrClosed) {
		t.Fatalf("got error %v, want ErrClosed", err)
	}
}

func TestClientRequestContextCancelled(t *testing.T) {
	cli, srv := connectedClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cli.Request(ctx, "tools/list", nil)
		done <- err
	}()

	srv.nextRequest()
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("got error %v, want context.Canceled", err)
	}
}

type chanToolListWatcher struct {
	changed chan struct{}
}

func (w chanToolListWatcher) OnToolListChanged() {
	w.changed <- struct{}{}
}

type chanLogReceiver struct {
	messages chan mcp.LogMessageParams
}

func (r chanLogReceiver) OnLogMessage(params mcp.LogMessageParams) {
	r.messages <- params
}

func TestClientWatchers(t *testing.T) {
	toolWatcher := chanToolListWatcher{changed: make(chan struct{}, 1)}
	logReceiver := chanLogReceiver{messages: make(chan mcp.LogMessageParams, 1)}

	_, srv := connectedClient(t,
		mcp.WithToolListWatcher(toolWatcher),
		mcp.WithLogReceiver(logReceiver),
	)

	srv.notify("notifications/tools/list_changed", nil)
	select {
	case <-toolWatcher.changed:
	case <-time.After(5 * time.Second):
		t.Fatal("tool list watcher was not notified")
	}

	srv.notify("notifications/message", mcp.LogMessageParams{
		Level: mcp.LogLevelError,
		Data:  json.RawMessage(`"disk full"`),
	})
	select {
	case params := <-logReceiver.messages:
		if params.Level != mcp.LogLevelError {
			t.Errorf("got level %q, want %q", params.Level, mcp.LogLevelError)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("log receiver was not notified")
	}
}

func TestClientTypedWrappers(t *testing.T) {
	cli, srv := connectedClient(t)
	ctx := context.Background()

	type call struct {
		run        func() error
		wantMethod string
		result     any
	}

	calls := []call{
		{
			run: func() error {
				res, err := cli.ListTools(ctx, mcp.ListToolsParams{})
				if err == nil && len(res.Tools) != 1 {
					return errors.New("wrong tool count")
				}
				return err
			},
			wantMethod: "tools/list",
			result:     mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "echo"}}},
		},
		{
			run: func() error {
				_, err := cli.GetPrompt(ctx, mcp.GetPromptParams{Name: "greet"})
				return err
			},
			wantMethod: "prompts/get",
			result:     mcp.GetPromptResult{},
		},
		{
			run:        func() error { return cli.Ping(ctx) },
			wantMethod: "ping",
			result:     struct{}{},
		},
		{
			run:        func() error { return cli.SetLogLevel(ctx, mcp.LogLevelWarning) },
			wantMethod: "logging/setLevel",
			result:     struct{}{},
		},
	}

	for _, c := range calls {
		done := make(chan error, 1)
		go func() { done <- c.run() }()

		req := srv.nextRequest()
		if req.Method != c.wantMethod {
			t.Errorf("got method %q, want %q", req.Method, c.wantMethod)
		}
		srv.respond(req.ID, c.result)
		if err := <-done; err != nil {
			t.Errorf("%s failed: %v", c.wantMethod, err)
		}
	}
}
