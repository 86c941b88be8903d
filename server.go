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

	"github.com/google/uuid"
)

// ServerOption is a function that configures a server.
type ServerOption func(*Server)

// Server routes one session's incoming messages to a Handler. It owns the
// initialize handshake state and the method dispatch table; the Handler owns
// everything behind the method surface.
//
// A Server serves exactly one Transport. Run processes messages sequentially:
// each request is fully handled and answered before the next message is read.
type Server struct {
	handler   Handler
	transport Transport
	logger    *slog.Logger
	session   string

	methods map[string]methodFunc

	// Handshake state. Mutated only by the sequential Run loop.
	initialized        bool
	clientInfo         Info
	clientCapabilities ClientCapabilities

	// sendMu serializes outbound writes: the Run loop answers requests while
	// the Notify helpers may be called from handler goroutines.
	sendMu sync.Mutex
}

type methodFunc func(ctx context.Context, req *Request) (any, *JSONRPCError)

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server that dispatches messages from transport to
// handler. Call Run to start serving.
func NewServer(handler Handler, transport Transport, options ...ServerOption) *Server {
	s := &Server{
		handler:   handler,
		transport: transport,
		logger:    slog.Default(),
		session:   uuid.NewString(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With(
		slog.String("component", "server"),
		slog.String("session", s.session),
	)

	s.methods = map[string]methodFunc{
		MethodInitialize:             s.handleInitialize,
		MethodPing:                   s.handlePing,
		MethodToolsList:              s.handleListTools,
		MethodToolsCall:              s.handleCallTool,
		MethodResourcesList:          s.handleListResources,
		MethodResourcesRead:          s.handleReadResource,
		MethodResourcesTemplatesList: s.handleListResourceTemplates,
		MethodPromptsList:            s.handleListPrompts,
		MethodPromptsGet:             s.handleGetPrompt,
		MethodLoggingSetLevel:        s.handleSetLogLevel,
	}
	return s
}

// SessionID returns the server-generated identifier for this session.
func (s *Server) SessionID() string {
	return s.session
}

// Run serves the transport until the peer disconnects. A clean close (io.EOF
// from Receive) returns nil; a transport failure, on receive or send, is
// fatal for the session and is returned.
func (s *Server) Run(ctx context.Context) error {
	for {
		msg, err := s.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("session closed")
				return nil
			}
			return fmt.Errorf("receive failed: %w", err)
		}

		switch m := msg.(type) {
		case *Request:
			res := s.handleRequest(ctx, m)
			if err := s.send(ctx, res); err != nil {
				return fmt.Errorf("failed to send response: %w", err)
			}
		case *Notification:
			s.handleNotification(m)
		case *Response:
			// Servers do not originate correlated requests, so nothing here
			// can be waiting for this.
			s.logger.Warn("discarding unexpected response from client")
		}
	}
}

// ClientInfo returns the client's identification recorded during initialize.
// It is the zero value before the handshake completes.
func (s *Server) ClientInfo() Info {
	return s.clientInfo
}

// ClientCapabilities returns the capabilities the client advertised during
// initialize.
func (s *Server) ClientCapabilities() ClientCapabilities {
	return s.clientCapabilities
}

// handleRequest produces exactly one Response for every request: a success
// or error result from the dispatch table, a not-initialized rejection before
// the handshake, or a method-not-found fallback.
func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	// Only initialize and ping may run before the handshake. The gate comes
	// before the table lookup, so an uninitialized session cannot probe which
	// methods exist; the Handler is never consulted for a rejected
	// pre-handshake request.
	if !s.initialized && req.Method != MethodInitialize && req.Method != MethodPing {
		return NewErrorResponse(&req.ID, &JSONRPCError{
			Code:    CodeNotInitialized,
			Message: fmt.Sprintf("method %s called before initialize", req.Method),
		})
	}

	fn, ok := s.methods[req.Method]
	if !ok {
		return NewErrorResponse(&req.ID, &JSONRPCError{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		})
	}

	result, rpcErr := fn(ctx, req)
	if rpcErr != nil {
		return NewErrorResponse(&req.ID, rpcErr)
	}
	res, err := NewResponse(req.ID, result)
	if err != nil {
		s.logger.Error("failed to marshal result",
			slog.String("method", req.Method), slog.String("err", err.Error()))
		return NewErrorResponse(&req.ID, &JSONRPCError{
			Code:    CodeInternalError,
			Message: "failed to marshal result",
		})
	}
	return res
}

func (s *Server) handleNotification(notif *Notification) {
	switch notif.Method {
	case methodNotificationsInitialized:
		s.logger.Info("client acknowledged initialization")
	case methodNotificationsCancelled:
		var params cancelledParams
		if err := notif.UnmarshalParams(&params); err != nil {
			s.logger.Warn("failed to unmarshal cancelled params", slog.String("err", err.Error()))
			return
		}
		// Logged only. In-flight handler calls are not interrupted; wiring
		// cancellation to a per-request context is a known followup.
		s.logger.Info("client cancelled request",
			slog.String("id", params.RequestID.String()),
			slog.String("reason", params.Reason))
	default:
		// Never an error: notifications have no channel to report one on.
		s.logger.Debug("ignoring unrecognized notification", slog.String("method", notif.Method))
	}
}

func (s *Server) handleInitialize(_ context.Context, req *Request) (any, *JSONRPCError) {
	if s.initialized {
		return nil, &JSONRPCError{
			Code:    CodeInvalidRequest,
			Message: "session already initialized",
		}
	}

	var params InitializeParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, invalidParams(err)
	}
	if !slices.Contains(protocolVersions, params.ProtocolVersion) {
		// The handshake does not advance on a version mismatch, so the client
		// may retry initialize with one of the versions named here.
		return nil, &JSONRPCError{
			Code: CodeNotInitialized,
			Message: fmt.Sprintf("unsupported protocol version %q, supported: %v",
				params.ProtocolVersion, protocolVersions),
		}
	}

	s.clientInfo = params.ClientInfo
	s.clientCapabilities = params.Capabilities
	s.initialized = true
	s.logger.Info("session initialized",
		slog.String("client", params.ClientInfo.Name),
		slog.String("version", params.ClientInfo.Version),
		slog.String("protocol", params.ProtocolVersion))

	return InitializeResult{
		ProtocolVersion: params.ProtocolVersion,
		Capabilities:    s.handler.Capabilities(),
		ServerInfo:      s.handler.ServerInfo(),
		Instructions:    s.handler.Instructions(),
	}, nil
}

func (s *Server) handlePing(_ context.Context, _ *Request) (any, *JSONRPCError) {
	return struct{}{}, nil
}

func (s *Server) handleListTools(ctx context.Context, req *Request) (any, *JSONRPCError) {
	var params ListToolsParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, invalidParams(err)
	}
	result, err := s.handler.ListTools(ctx, params)
	if err != nil {
		return nil, translateError(CodeInternalError, err)
	}
	return result, nil
}

func (s *Server) handleCallTool(ctx context.Context, req *Request) (any, *JSONRPCError) {
	var params CallToolParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, invalidParams(err)
	}
	result, err := s.handler.CallTool(ctx, params)
	if err != nil {
		return nil, translateError(CodeToolError, err)
	}
	return result, nil
}

func (s *Server) handleListResources(ctx context.Context, req *Request) (any, *JSONRPCError) {
	var params ListResourcesParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, invalidParams(err)
	}
	result, err := s.handler.ListResources(ctx, params)
	if err != nil {
		return nil, translateError(CodeInternalError, err)
	}
	return result, nil
}

func (s *Server) handleReadResource(ctx context.Context, req *Request) (any, *JSONRPCError) {
	var params ReadResourceParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, invalidParams(err)
	}
	result, err := s.handler.ReadResource(ctx, params)
	if err != nil {
		return nil, translateError(CodeResourceError, err)
	}
	return result, nil
}

func (s *Server) handleListResourceTemplates(ctx context.Context, req *Request) (any, *JSONRPCError) {
	var params ListResourceTemplatesParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, invalidParams(err)
	}
	result, err := s.handler.ListResourceTemplates(ctx, params)
	if err != nil {
		return nil, translateError(CodeInternalError, err)
	}
	return result, nil
}

func (s *Server) handleListPrompts(ctx context.Context, req *Request) (any, *JSONRPCError) {
	var params ListPromptsParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, invalidParams(err)
	}
	result, err := s.handler.ListPrompts(ctx, params)
	if err != nil {
		return nil, translateError(CodeInternalError, err)
	}
	return result, nil
}

func (s *Server) handleGetPrompt(ctx context.Context, req *Request) (any, *JSONRPCError) {
	var params GetPromptParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, invalidParams(err)
	}
	result, err := s.handler.GetPrompt(ctx, params)
	if err != nil {
		return nil, translateError(CodePromptError, err)
	}
	return result, nil
}

func (s *Server) handleSetLogLevel(ctx context.Context, req *Request) (any, *JSONRPCError) {
	var params SetLogLevelParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, invalidParams(err)
	}
	if err := s.handler.SetLogLevel(ctx, params); err != nil {
		return nil, translateError(CodeInternalError, err)
	}
	return struct{}{}, nil
}

// NotifyToolsListChanged tells the client the tool list changed.
func (s *Server) NotifyToolsListChanged(ctx context.Context) error {
	return s.notify(ctx, methodNotificationsToolsListChanged, nil)
}

// NotifyResourcesListChanged tells the client the resource list changed.
func (s *Server) NotifyResourcesListChanged(ctx context.Context) error {
	return s.notify(ctx, methodNotificationsResourcesListChanged, nil)
}

// NotifyResourceUpdated tells the client the resource at uri changed.
func (s *Server) NotifyResourceUpdated(ctx context.Context, uri string) error {
	return s.notify(ctx, methodNotificationsResourcesUpdated, ResourceUpdatedParams{URI: uri})
}

// NotifyPromptsListChanged tells the client the prompt list changed.
func (s *Server) NotifyPromptsListChanged(ctx context.Context) error {
	return s.notify(ctx, methodNotificationsPromptsListChanged, nil)
}

// SendLogMessage streams a log message to the client. The Handler decides
// which levels are worth sending; the server does no filtering of its own.
func (s *Server) SendLogMessage(ctx context.Context, level LogLevel, logger string, data json.RawMessage) error {
	return s.notify(ctx, methodNotificationsMessage, LogMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}

func (s *Server) notify(ctx context.Context, method string, params any) error {
	notif, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	if err := s.send(ctx, notif); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

func (s *Server) send(ctx context.Context, msg Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.transport.Send(ctx, msg)
}

func invalidParams(err error) *JSONRPCError {
	return &JSONRPCError{
		Code:    CodeInvalidParams,
		Message: fmt.Sprintf("invalid params: %v", err),
	}
}

// translateError maps a handler failure to the error code of its call class.
// A handler returning a *JSONRPCError keeps its code verbatim.
func translateError(code int, err error) *JSONRPCError {
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &JSONRPCError{Code: code, Message: err.Error()}
}
