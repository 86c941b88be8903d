package mcp

import (
	"encoding/json"
	"fmt"
)

// JSONRPCError represents an error object in the JSON-RPC 2.0 protocol.
// It implements the error interface so protocol-level failures can be
// matched with errors.As.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	// Must use standard JSON-RPC error codes or custom codes outside the reserved range.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Server-defined error codes, outside the reserved JSON-RPC range.
const (
	// CodeToolError reports that a tool's own logic failed, as opposed to the
	// server itself being broken.
	CodeToolError = -32000
	// CodeResourceError reports a failure while reading a resource.
	CodeResourceError = -32001
	// CodeNotInitialized rejects any method called before a successful
	// initialize handshake. It is also returned for an unsupported protocol
	// version during initialize; clients matching on code values should be
	// aware of the overlap.
	CodeNotInitialized = -32002
	// CodePromptError reports a failure while resolving a prompt.
	CodePromptError = -32003
)

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// MethodInitialize is the handshake method that must precede all others.
	MethodInitialize = "initialize"
	// MethodPing is a trivial liveness echo, permitted even before initialize.
	MethodPing = "ping"

	// MethodToolsList is the method name for retrieving a list of available tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"

	// MethodResourcesList is the method name for listing available resources.
	MethodResourcesList = "resources/list"
	// MethodResourcesRead is the method name for reading the content of a specific resource.
	MethodResourcesRead = "resources/read"
	// MethodResourcesTemplatesList is the method name for listing available resource templates.
	MethodResourcesTemplatesList = "resources/templates/list"

	// MethodPromptsList is the method name for retrieving a list of available prompts.
	MethodPromptsList = "prompts/list"
	// MethodPromptsGet is the method name for retrieving a specific prompt by name.
	MethodPromptsGet = "prompts/get"

	// MethodLoggingSetLevel is the method name for setting the minimum severity
	// level for log messages emitted by the server.
	MethodLoggingSetLevel = "logging/setLevel"

	methodNotificationsInitialized          = "notifications/initialized"
	methodNotificationsCancelled            = "notifications/cancelled"
	methodNotificationsToolsListChanged     = "notifications/tools/list_changed"
	methodNotificationsResourcesListChanged = "notifications/resources/list_changed"
	methodNotificationsResourcesUpdated     = "notifications/resources/updated"
	methodNotificationsPromptsListChanged   = "notifications/prompts/list_changed"
	methodNotificationsMessage              = "notifications/message"
)

// protocolVersions lists the protocol revisions this implementation accepts
// during the initialize handshake, newest first.
var protocolVersions = []string{"2024-11-05"}

// Info contains metadata about a server or client instance.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities advertises which optional protocol features a server
// supports. Absent fields mean the feature is unavailable.
type ServerCapabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
	Logging   *LoggingCapability   `json:"logging,omitempty"`
}

// ClientCapabilities advertises which optional protocol features a client
// supports. It is exchanged once during the initialize handshake.
type ClientCapabilities struct {
	Roots    *RootsCapability    `json:"roots,omitempty"`
	Sampling *SamplingCapability `json:"sampling,omitempty"`
}

// ToolsCapability represents tools-specific capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability represents resources-specific capabilities.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability represents prompts-specific capabilities.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// LoggingCapability represents logging-specific capabilities.
type LoggingCapability struct{}

// RootsCapability represents roots-specific capabilities.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// SamplingCapability represents sampling-specific capabilities.
type SamplingCapability struct{}

// InitializeParams carries the client's half of the initialize handshake.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

// InitializeResult carries the server's half of the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Tool defines a callable tool with its input schema.
// InputSchema defines the expected format of arguments for CallTool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource represents a content resource with associated metadata.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate defines a template for generating resource URIs.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents represents either text or blob resource contents.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"` // For text resources
	Blob     string `json:"blob,omitempty"` // For binary resources
}

// Prompt defines a template for generating prompts with optional arguments.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument defines a single argument that can be passed to a prompt.
// Required indicates whether the argument must be provided when using the prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage represents a message in a resolved prompt.
type PromptMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// Role represents the role in a conversation (user or assistant).
type Role string

// Role values.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Content represents a message content with its type.
type Content struct {
	Type ContentType `json:"type"`

	// For ContentTypeText
	Text string `json:"text,omitempty"`

	// For ContentTypeImage or ContentTypeAudio
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// For ContentTypeResource
	Resource *ResourceContents `json:"resource,omitempty"`
}

// ContentType represents the type of content in messages.
type ContentType string

// ContentType values.
const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeResource ContentType = "resource"
)

// ListToolsParams contains parameters for listing available tools.
type ListToolsParams struct {
	// Cursor is an opaque pagination token from a previous ListTools call.
	// Empty string requests the first page.
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult represents a paginated list of tools returned by ListTools.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	// Name is the unique identifier of the tool to execute.
	Name string `json:"name"`

	// Arguments is a JSON object of argument name-value pairs.
	// Must satisfy the tool's InputSchema.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents the outcome of a tool invocation.
// IsError indicates whether the tool itself failed, with details in Content.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// ListResourcesParams contains parameters for listing available resources.
type ListResourcesParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListResourcesResult represents a paginated list of resources.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ReadResourceParams contains parameters for retrieving a specific resource.
type ReadResourceParams struct {
	// URI is the unique identifier of the resource to retrieve.
	URI string `json:"uri"`
}

// ReadResourceResult represents the result of a read resource request.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ListResourceTemplatesParams contains parameters for listing resource templates.
type ListResourceTemplatesParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListResourceTemplatesResult represents the result of a list resource templates request.
type ListResourceTemplatesResult struct {
	Templates  []ResourceTemplate `json:"resourceTemplates"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

// ListPromptsParams contains parameters for listing available prompts.
type ListPromptsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListPromptsResult represents a paginated list of prompts.
type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// GetPromptParams contains parameters for retrieving a specific prompt.
type GetPromptParams struct {
	// Name is the unique identifier of the prompt to retrieve.
	Name string `json:"name"`

	// Arguments is a map of argument name-value pairs.
	// Must satisfy required arguments defined in the prompt's Arguments field.
	Arguments map[string]string `json:"arguments,omitempty"`
}

// GetPromptResult represents the result of a prompt request.
type GetPromptResult struct {
	Messages    []PromptMessage `json:"messages"`
	Description string          `json:"description,omitempty"`
}

// LogLevel represents the severity level of log messages, ordered from least
// to most severe following the syslog levels the protocol uses.
type LogLevel string

// LogLevel values.
const (
	LogLevelDebug     LogLevel = "debug"
	LogLevelInfo      LogLevel = "info"
	LogLevelNotice    LogLevel = "notice"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelCritical  LogLevel = "critical"
	LogLevelAlert     LogLevel = "alert"
	LogLevelEmergency LogLevel = "emergency"
)

// SetLogLevelParams contains parameters for adjusting the server's log level.
type SetLogLevelParams struct {
	Level LogLevel `json:"level"`
}

// LogMessageParams represents the parameters of a notifications/message
// notification sent from server to client.
type LogMessageParams struct {
	// Level indicates the severity level of the message.
	Level LogLevel `json:"level"`
	// Logger identifies the source/component that generated the message.
	Logger string `json:"logger,omitempty"`
	// Data contains the message content and any structured metadata.
	Data json.RawMessage `json:"data"`
}

// ResourceUpdatedParams represents the parameters of a
// notifications/resources/updated notification.
type ResourceUpdatedParams struct {
	URI string `json:"uri"`
}

type cancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("jsonrpc error, code: %d, message: %s", e.Code, e.Message)
}
