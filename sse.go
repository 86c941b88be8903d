package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServer accepts MCP sessions over Server-Sent Events: server-to-client
// messages stream over an SSE connection, client-to-server messages arrive as
// HTTP POSTs. The HandleSSE and HandleMessage handlers are framework-agnostic
// and can be mounted on any mux.
//
// Each connected client surfaces as one Transport on the Sessions channel;
// serve each with its own Server. Shut the whole listener down with Shutdown.
type SSEServer struct {
	messageURL string
	logger     *slog.Logger

	sessions chan Transport

	mu       sync.Mutex
	byID     map[string]*sseSession
	shutdown bool
}

// SSEServerOption is a function that configures an SSEServer.
type SSEServerOption func(*SSEServer)

// WithSSEServerLogger sets the logger for the server.
func WithSSEServerLogger(logger *slog.Logger) SSEServerOption {
	return func(s *SSEServer) {
		s.logger = logger
	}
}

// NewSSEServer creates an SSE listener. messageURL is the base URL clients
// POST their messages to; each client gets it back with its sessionID
// appended.
func NewSSEServer(messageURL string, options ...SSEServerOption) *SSEServer {
	s := &SSEServer{
		messageURL: messageURL,
		logger:     slog.Default(),
		sessions:   make(chan Transport, 5),
		byID:       make(map[string]*sseSession),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Sessions yields one Transport per connected client, in connection order.
func (s *SSEServer) Sessions() <-chan Transport {
	return s.sessions
}

// Shutdown closes every active session and stops accepting new ones.
func (s *SSEServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	open := make([]*sseSession, 0, len(s.byID))
	for _, sess := range s.byID {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		if err := sess.Close(); err != nil {
			return fmt.Errorf("failed to close session %s: %w", sess.id, err)
		}
	}
	return ctx.Err()
}

// HandleSSE returns the http.Handler that upgrades GET requests to SSE
// streams. The first event on each stream is an "endpoint" event carrying the
// URL the client must POST its messages to. The handler blocks for the
// lifetime of the connection.
func (s *SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgraded, err := sse.Upgrade(w, r)
		if err != nil {
			s.logger.Error("failed to upgrade session", slog.String("err", err.Error()))
			http.Error(w, "failed to upgrade session", http.StatusInternalServerError)
			return
		}

		sess := &sseSession{
			id:       uuid.NewString(),
			stream:   upgraded,
			logger:   s.logger,
			incoming: make(chan Message, 5),
			done:     make(chan struct{}),
		}

		endpoint := sse.Message{Type: sse.Type("endpoint")}
		endpoint.AppendData(fmt.Sprintf("%s?sessionID=%s", s.messageURL, sess.id))
		if err := upgraded.Send(&endpoint); err != nil {
			s.logger.Error("failed to write endpoint event", slog.String("err", err.Error()))
			return
		}
		if err := upgraded.Flush(); err != nil {
			s.logger.Error("failed to flush endpoint event", slog.String("err", err.Error()))
			return
		}

		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			return
		}
		s.byID[sess.id] = sess
		s.mu.Unlock()

		s.sessions <- sess

		// Keep the connection open until the session ends or the client
		// disconnects.
		select {
		case <-sess.done:
		case <-r.Context().Done():
			sess.Close()
		}

		s.mu.Lock()
		delete(s.byID, sess.id)
		s.mu.Unlock()
	})
}

// HandleMessage returns the http.Handler for client POSTs. It expects a
// sessionID query parameter and a JSON message body, and routes the decoded
// message to that session's Receive.
func (s *SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		sess, ok := s.byID[sessID]
		s.mu.Unlock()
		if !ok {
			// The session may have closed between the client learning the
			// endpoint and this POST arriving.
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		msg, err := DecodeMessage(body)
		if err != nil {
			s.logger.Warn("failed to decode message", slog.String("err", err.Error()))
			http.Error(w, fmt.Sprintf("failed to decode message: %v", err), http.StatusBadRequest)
			return
		}

		select {
		case sess.incoming <- msg:
			w.WriteHeader(http.StatusAccepted)
		case <-sess.done:
			http.Error(w, "session closed", http.StatusGone)
		case <-r.Context().Done():
		}
	})
}

// sseSession is the server-side Transport for one connected SSE client.
type sseSession struct {
	id     string
	stream *sse.Session
	logger *slog.Logger

	incoming chan Message

	sendMu    sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (s *sseSession) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	ev := sse.Message{Type: sse.Type("message")}
	ev.AppendData(string(data))

	// Serialize writes to the underlying SSE stream.
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if err := s.stream.Send(&ev); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if err := s.stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush message: %w", err)
	}
	return nil
}

func (s *sseSession) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, io.EOF
	case msg := <-s.incoming:
		return msg, nil
	}
}

func (s *sseSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// SSEClient is the client-side SSE Transport. It receives messages on a
// streaming GET connection and sends them as HTTP POSTs to the endpoint URL
// announced by the server.
//
// Create it with NewSSEClient, then call Connect before handing it to a
// Client.
type SSEClient struct {
	httpClient *http.Client
	connectURL string
	messageURL string
	logger     *slog.Logger

	maxPayloadSize int

	incoming chan sseClientRead
	body     io.ReadCloser

	done      chan struct{}
	closeOnce sync.Once
}

type sseClientRead struct {
	msg Message
	err error
}

// SSEClientOption is a function that configures an SSEClient.
type SSEClientOption func(*SSEClient)

// WithSSEClientLogger sets the logger for the client transport.
func WithSSEClientLogger(logger *slog.Logger) SSEClientOption {
	return func(s *SSEClient) {
		s.logger = logger
	}
}

// WithSSEClientMaxPayloadSize caps the size of a single event read from the
// server. Oversized events fail the stream.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(s *SSEClient) {
		s.maxPayloadSize = size
	}
}

// NewSSEClient creates an SSE client transport that connects to connectURL.
// A nil httpClient means http.DefaultClient.
func NewSSEClient(connectURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	s := &SSEClient{
		httpClient: cli,
		connectURL: connectURL,
		logger:     slog.Default(),
		incoming:   make(chan sseClientRead),
		done:       make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Connect opens the SSE stream and waits for the server's endpoint event so
// that Send knows where to POST. It must complete before the transport is
// used.
func (s *SSEClient) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.connectURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	s.body = resp.Body

	ready := make(chan error, 1)
	go s.listen(resp.Body, ready)

	select {
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	case err := <-ready:
		if err != nil {
			s.Close()
			return err
		}
		return nil
	}
}

// Send POSTs msg to the server's message endpoint.
func (s *SSEClient) Send(ctx context.Context, msg Message) error {
	if s.messageURL == "" {
		return errors.New("transport not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.messageURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// Receive blocks until the next message event arrives on the stream. It
// returns io.EOF when the stream ends cleanly or the transport is closed.
func (s *SSEClient) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, io.EOF
	case r := <-s.incoming:
		return r.msg, r.err
	}
}

// Close tears down the SSE stream.
func (s *SSEClient) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.body != nil {
			err = s.body.Close()
		}
	})
	return err
}

func (s *SSEClient) listen(body io.Reader, ready chan<- error) {
	var config *sse.ReadConfig
	if s.maxPayloadSize > 0 {
		config = &sse.ReadConfig{MaxEventSize: s.maxPayloadSize}
	}

	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.deliver(sseClientRead{err: fmt.Errorf("failed to read SSE stream: %w", err)})
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			u, err := url.Parse(ev.Data)
			if err != nil {
				ready <- fmt.Errorf("failed to parse endpoint URL: %w", err)
				return
			}
			if u.String() == "" {
				ready <- errors.New("empty endpoint URL")
				return
			}
			s.messageURL = u.String()
			ready <- nil
		case "message":
			// Messages before the endpoint event would mean the server is
			// broken; drop them rather than corrupt the session.
			if s.messageURL == "" {
				s.logger.Error("received message before endpoint event")
				continue
			}
			msg, err := DecodeMessage([]byte(ev.Data))
			if err != nil {
				if !s.deliver(sseClientRead{err: fmt.Errorf("failed to decode message: %w", err)}) {
					return
				}
				continue
			}
			if !s.deliver(sseClientRead{msg: msg}) {
				return
			}
		default:
			s.logger.Warn("ignoring unhandled event type", slog.String("type", string(ev.Type)))
		}
	}

	s.deliver(sseClientRead{err: io.EOF})
}

func (s *SSEClient) deliver(r sseClientRead) bool {
	select {
	case s.incoming <- r:
		return true
	case <-s.done:
		return false
	}
}
