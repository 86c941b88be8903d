package mcp

import (
	"context"
)

// Transport provides the message delivery layer beneath the protocol. A
// transport delivers whole, already-framed messages in arrival order; framing
// is the transport's job, never the protocol engine's.
//
// Implementations must be safe for one concurrent sender and one concurrent
// receiver.
type Transport interface {
	// Send transmits a single message to the peer.
	Send(ctx context.Context, msg Message) error

	// Receive blocks until the next message arrives. It returns io.EOF when
	// the peer closed the connection cleanly, and any other error for a
	// transport failure. A message is only produced from bytes that decoded
	// successfully; malformed input is reported as an error.
	Receive(ctx context.Context) (Message, error)

	// Close releases the transport's resources. Blocked Receive calls return
	// after Close.
	Close() error
}

// Handler is the capability a concrete server plugs into a Server. The
// Server owns the handshake and the dispatch; the Handler owns the business
// logic behind tools, resources, prompts and log-level changes.
//
// Handler methods may block; the Server fully awaits each call before
// reading the next message from the transport. A Handler may return a
// *JSONRPCError to control the exact error code sent to the client;
// any other error is translated to the code of the failing call class.
type Handler interface {
	// Capabilities reports which optional protocol features this handler
	// implements. It is advertised once, in the initialize result.
	Capabilities() ServerCapabilities

	// ServerInfo identifies the server implementation.
	ServerInfo() Info

	// Instructions returns optional usage instructions for the client's
	// model. Empty means none.
	Instructions() string

	ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error)
	CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error)

	ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error)
	ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error)
	ListResourceTemplates(ctx context.Context, params ListResourceTemplatesParams) (ListResourceTemplatesResult, error)

	ListPrompts(ctx context.Context, params ListPromptsParams) (ListPromptsResult, error)
	GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error)

	SetLogLevel(ctx context.Context, params SetLogLevelParams) error
}

// ToolListWatcher receives notifications when the server's tool list changes.
type ToolListWatcher interface {
	// OnToolListChanged is called when the server notifies that its tool
	// list has changed.
	OnToolListChanged()
}

// ResourceListWatcher receives notifications when the server's resource list changes.
type ResourceListWatcher interface {
	// OnResourceListChanged is called when the server notifies that its
	// resource list has changed.
	OnResourceListChanged()
}

// ResourceUpdatedWatcher receives notifications when a specific resource changes.
type ResourceUpdatedWatcher interface {
	// OnResourceUpdated is called with the URI of the changed resource.
	OnResourceUpdated(uri string)
}

// PromptListWatcher receives notifications when the server's prompt list changes.
type PromptListWatcher interface {
	// OnPromptListChanged is called when the server notifies that its prompt
	// list has changed.
	OnPromptListChanged()
}

// LogReceiver receives log messages streamed from the server.
type LogReceiver interface {
	// OnLogMessage is called when a notifications/message arrives.
	OnLogMessage(params LogMessageParams)
}
