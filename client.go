package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// ErrClosed reports that the session ended while a request was still
// outstanding: the background receive loop exited before a response with the
// request's id arrived. It is distinct from a protocol-level error, which is
// reported as a *JSONRPCError.
var ErrClosed = errors.New("mcp: session closed")

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client drives one logical MCP session over one Transport. It performs the
// initialize handshake, issues correlated requests and one-way notifications,
// and resolves responses from a background receive loop.
//
// A Client must be created with NewClient and connected with Connect before
// any other method is called. All methods are safe for concurrent use.
type Client struct {
	info         Info
	capabilities ClientCapabilities
	transport    Transport
	logger       *slog.Logger

	toolListWatcher        ToolListWatcher
	resourceListWatcher    ResourceListWatcher
	resourceUpdatedWatcher ResourceUpdatedWatcher
	promptListWatcher      PromptListWatcher
	logReceiver            LogReceiver

	// nextID hands out request ids. Ids start at 1, are never reused, and
	// are shared with the wire only through this counter.
	nextID atomic.Int64

	connected atomic.Bool

	mu      sync.Mutex
	pending map[RequestID]chan *Response
	closed  bool

	serverInfo         Info
	serverCapabilities ServerCapabilities
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(slog.String("component", "client"))
	}
}

// WithClientCapabilities sets the capabilities advertised during the
// initialize handshake.
func WithClientCapabilities(capabilities ClientCapabilities) ClientOption {
	return func(c *Client) {
		c.capabilities = capabilities
	}
}

// WithToolListWatcher sets the tool list watcher for the client.
func WithToolListWatcher(watcher ToolListWatcher) ClientOption {
	return func(c *Client) {
		c.toolListWatcher = watcher
	}
}

// WithResourceListWatcher sets the resource list watcher for the client.
func WithResourceListWatcher(watcher ResourceListWatcher) ClientOption {
	return func(c *Client) {
		c.resourceListWatcher = watcher
	}
}

// WithResourceUpdatedWatcher sets the resource update watcher for the client.
func WithResourceUpdatedWatcher(watcher ResourceUpdatedWatcher) ClientOption {
	return func(c *Client) {
		c.resourceUpdatedWatcher = watcher
	}
}

// WithPromptListWatcher sets the prompt list watcher for the client.
func WithPromptListWatcher(watcher PromptListWatcher) ClientOption {
	return func(c *Client) {
		c.promptListWatcher = watcher
	}
}

// WithLogReceiver sets the receiver for server log messages.
func WithLogReceiver(receiver LogReceiver) ClientOption {
	return func(c *Client) {
		c.logReceiver = receiver
	}
}

// NewClient creates a new MCP client identified by info that communicates
// over the given transport. The client is not connected until Connect is
// called.
func NewClient(info Info, transport Transport, options ...ClientOption) *Client {
	c := &Client{
		info:      info,
		transport: transport,
		logger:    slog.Default(),
		pending:   make(map[RequestID]chan *Response),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Connect performs the initialize handshake: it starts the background receive
// loop, sends the initialize request, records the server's info and
// capabilities, and acknowledges with the initialized notification.
//
// Connect must be called exactly once, before any request or notification.
func (c *Client) Connect(ctx context.Context) (*InitializeResult, error) {
	if !c.connected.CompareAndSwap(false, true) {
		return nil, errors.New("client already connected")
	}

	// The receive loop must be running before the initialize request goes
	// out, or a response arriving immediately would be lost.
	go c.listen()

	raw, err := c.Request(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: protocolVersions[0],
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize request failed: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}
	if !slices.Contains(protocolVersions, result.ProtocolVersion) {
		return nil, fmt.Errorf("unsupported protocol version %q, supported: %v",
			result.ProtocolVersion, protocolVersions)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.mu.Unlock()

	if err := c.Notify(ctx, methodNotificationsInitialized, nil); err != nil {
		return nil, fmt.Errorf("failed to send initialized notification: %w", err)
	}

	return &result, nil
}

// Close closes the underlying transport, which terminates the receive loop
// and fails any outstanding requests with ErrClosed.
func (c *Client) Close() error {
	return c.transport.Close()
}

// ServerInfo returns the server's identification recorded during Connect.
func (c *Client) ServerInfo() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ServerCapabilities returns the capabilities the server advertised during
// Connect.
func (c *Client) ServerCapabilities() ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCapabilities
}

// Request sends a correlated request and blocks until its response arrives.
// On success it returns the raw result; a protocol-level failure is returned
// as a *JSONRPCError. If the session ends before the response arrives the
// call fails with ErrClosed, and cancelling ctx abandons the wait and removes
// the correlation entry.
//
// There is no built-in timeout; callers wanting one should attach a deadline
// to ctx.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := NewRequestID(c.nextID.Add(1))
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	// Register before sending, so a response racing the send still finds its
	// slot. The channel is buffered: the receive loop fulfills it without
	// blocking even if the waiter already gave up.
	ch := make(chan *Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.transport.Send(ctx, req); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case res, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return res.Unwrap()
	}
}

// Notify sends a one-way notification. It never waits for a reply and never
// touches the correlation table. A nil params value is omitted from the wire
// message entirely.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	notif, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	if err := c.transport.Send(ctx, notif); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// Ping probes server liveness. Servers answer it without a completed
// handshake, so it succeeds even when the session never got past initialize.
// Like every other method it must be called after Connect, which starts the
// receive loop.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, MethodPing, nil)
	return err
}

// ListTools retrieves a paginated list of available tools from the server.
func (c *Client) ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error) {
	var result ListToolsResult
	err := c.call(ctx, MethodToolsList, params, &result)
	return result, err
}

// CallTool executes a specific tool and returns its result.
func (c *Client) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	var result CallToolResult
	err := c.call(ctx, MethodToolsCall, params, &result)
	return result, err
}

// ListResources retrieves a paginated list of available resources from the server.
func (c *Client) ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error) {
	var result ListResourcesResult
	err := c.call(ctx, MethodResourcesList, params, &result)
	return result, err
}

// ReadResource retrieves the contents of a specific resource by URI.
func (c *Client) ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error) {
	var result ReadResourceResult
	err := c.call(ctx, MethodResourcesRead, params, &result)
	return result, err
}

// ListResourceTemplates retrieves the resource templates the server exposes.
func (c *Client) ListResourceTemplates(
	ctx context.Context,
	params ListResourceTemplatesParams,
) (ListResourceTemplatesResult, error) {
	var result ListResourceTemplatesResult
	err := c.call(ctx, MethodResourcesTemplatesList, params, &result)
	return result, err
}

// ListPrompts retrieves a paginated list of available prompts from the server.
func (c *Client) ListPrompts(ctx context.Context, params ListPromptsParams) (ListPromptsResult, error) {
	var result ListPromptsResult
	err := c.call(ctx, MethodPromptsList, params, &result)
	return result, err
}

// GetPrompt resolves a specific prompt by name with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error) {
	var result GetPromptResult
	err := c.call(ctx, MethodPromptsGet, params, &result)
	return result, err
}

// SetLogLevel asks the server to adjust the minimum severity of the log
// messages it streams to this client.
func (c *Client) SetLogLevel(ctx context.Context, level LogLevel) error {
	_, err := c.Request(ctx, MethodLoggingSetLevel, SetLogLevelParams{Level: level})
	return err
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	raw, err := c.Request(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return nil
}

func (c *Client) forget(id RequestID) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// listen is the background receive loop. It runs once per client, routes
// responses to their waiters and notifications to the configured watchers,
// and on exit closes every pending channel so outstanding requests fail with
// ErrClosed instead of hanging forever.
func (c *Client) listen() {
	for {
		msg, err := c.transport.Receive(context.Background())
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Error("receive loop terminated", slog.String("err", err.Error()))
			}
			break
		}

		switch m := msg.(type) {
		case *Response:
			c.resolve(m)
		case *Notification:
			c.handleNotification(m)
		case *Request:
			// Servers do not originate correlated requests in this design.
			c.logger.Warn("dropping unexpected request from server", slog.String("method", m.Method))
		}
	}

	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
}

func (c *Client) resolve(res *Response) {
	if res.ID == nil {
		c.logger.Warn("discarding response without id")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*res.ID]
	if ok {
		delete(c.pending, *res.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Not fatal, but a symptom of a bug or of a cancelled-then-answered
		// request.
		c.logger.Warn("discarding response with no matching request", slog.String("id", res.ID.String()))
		return
	}
	ch <- res
}

func (c *Client) handleNotification(notif *Notification) {
	switch notif.Method {
	case methodNotificationsToolsListChanged:
		if c.toolListWatcher != nil {
			c.toolListWatcher.OnToolListChanged()
		}
	case methodNotificationsResourcesListChanged:
		if c.resourceListWatcher != nil {
			c.resourceListWatcher.OnResourceListChanged()
		}
	case methodNotificationsResourcesUpdated:
		if c.resourceUpdatedWatcher == nil {
			return
		}
		var params ResourceUpdatedParams
		if err := notif.UnmarshalParams(&params); err != nil {
			c.logger.Error("failed to unmarshal resource updated params", slog.String("err", err.Error()))
			return
		}
		c.resourceUpdatedWatcher.OnResourceUpdated(params.URI)
	case methodNotificationsPromptsListChanged:
		if c.promptListWatcher != nil {
			c.promptListWatcher.OnPromptListChanged()
		}
	case methodNotificationsMessage:
		if c.logReceiver == nil {
			return
		}
		var params LogMessageParams
		if err := notif.UnmarshalParams(&params); err != nil {
			c.logger.Error("failed to unmarshal log params", slog.String("err", err.Error()))
			return
		}
		c.logReceiver.OnLogMessage(params)
	default:
		c.logger.Debug("ignoring unrecognized notification", slog.String("method", notif.Method))
	}
}
