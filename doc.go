// Package mcp implements the Model Context Protocol (MCP), a JSON-RPC 2.0
// based message protocol that lets a client discover and invoke a server's
// tools, resources and prompts over any byte-oriented transport.
//
// The package provides the protocol engine: the wire message model, a Client
// that performs the initialize handshake and correlates requests with
// responses, and a Server that routes incoming messages to a Handler
// implementation. Concrete transports for stdio, in-process pipes,
// Server-Sent Events and WebSocket are included; custom transports only need
// to implement the Transport interface.
package mcp
