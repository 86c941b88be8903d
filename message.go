package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// RequestID uniquely identifies a request-response pair. JSON-RPC allows the
// id to be either a number or a string, and the two never compare equal; the
// discrimination is preserved across encode/decode. The zero value is the
// numeric id 0. RequestID is comparable and can be used as a map key.
type RequestID struct {
	str      string
	num      int64
	isString bool
}

// NewRequestID returns a numeric request id.
func NewRequestID(n int64) RequestID {
	return RequestID{num: n}
}

// NewStringRequestID returns a string request id.
func NewStringRequestID(s string) RequestID {
	return RequestID{str: s, isString: true}
}

// IsString reports whether the id is the string variant.
func (id RequestID) IsString() bool { return id.isString }

// String returns the id's value in a form suitable for logging.
func (id RequestID) String() string {
	if id.isString {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON encodes the id as a bare JSON number or string.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.isString {
		return json.Marshal(id.str)
	}
	return strconv.AppendInt(nil, id.num, 10), nil
}

// UnmarshalJSON decodes a bare JSON number or string, rejecting anything
// else. Numbers must be integral.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty request id")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RequestID{str: s, isString: true}
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("request id must be an integer or a string: %w", err)
	}
	*id = RequestID{num: n}
	return nil
}

// Message is a JSON-RPC 2.0 message: exactly one of *Request, *Notification
// or *Response. Use DecodeMessage to classify raw bytes.
type Message interface {
	isMessage()
}

// Request is a correlated call: it carries both an id and a method, and the
// peer must answer it with exactly one Response bearing the same id.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a one-way message: it carries a method but no id, so no
// reply is possible.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request. ID may be nil for errors that predate id
// assignment. Exactly one of Result and Error is present in a well-formed
// response; MarshalJSON enforces this.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

func (*Request) isMessage()      {}
func (*Notification) isMessage() {}
func (*Response) isMessage()     {}

// NewRequest builds a Request with the JSON-RPC version stamped. A nil params
// value is omitted from the wire message entirely.
func NewRequest(id RequestID, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a Notification with the JSON-RPC version stamped.
// A nil params value is omitted from the wire message entirely, never
// serialized as JSON null.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// NewResponse builds a success Response carrying the marshaled result.
func NewResponse(id RequestID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: &id, Result: raw}, nil
}

// NewErrorResponse builds an error Response. id may be nil when the failing
// request's id could not be determined.
func NewErrorResponse(id *RequestID, rpcErr *JSONRPCError) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Error: rpcErr}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return raw, nil
}

// UnmarshalParams decodes the request params into v. Absent params decode as
// an empty object, so handlers taking zero arguments never fail on a missing
// params field.
func (r *Request) UnmarshalParams(v any) error {
	return unmarshalParams(r.Params, v)
}

// UnmarshalParams decodes the notification params into v. Absent params
// decode as an empty object.
func (n *Notification) UnmarshalParams(v any) error {
	return unmarshalParams(n.Params, v)
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if raw == nil {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}

// Unwrap returns the response's result on success, or its error object on
// failure. A success response with an absent result yields JSON null.
func (r *Response) Unwrap() (json.RawMessage, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	if r.Result == nil {
		return json.RawMessage("null"), nil
	}
	return r.Result, nil
}

type responseWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// MarshalJSON rejects a response carrying both result and error, and encodes
// a success response with an absent result as an explicit JSON null so that
// exactly one of the two members is always present on the wire.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Result != nil && r.Error != nil {
		return nil, errors.New("response must not carry both result and error")
	}
	w := responseWire{JSONRPC: r.JSONRPC, ID: r.ID, Result: r.Result, Error: r.Error}
	if w.Error == nil && w.Result == nil {
		w.Result = json.RawMessage("null")
	}
	return json.Marshal(w)
}

// DecodeMessage classifies raw bytes as a Request, Notification or Response.
//
// Classification is structural: a message with a method field is a Request
// (id present) or Notification (id absent); only a message without a method
// is a Response. The method check deliberately comes first, since a Request
// also carries an id and would otherwise be misread as a Response.
func DecodeMessage(data []byte) (Message, error) {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *JSONRPCError   `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if probe.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("invalid jsonrpc version: %q", probe.JSONRPC)
	}

	hasID := len(probe.ID) > 0 && string(probe.ID) != "null"

	if probe.Method != "" {
		if !hasID {
			return &Notification{JSONRPC: probe.JSONRPC, Method: probe.Method, Params: probe.Params}, nil
		}
		var id RequestID
		if err := id.UnmarshalJSON(probe.ID); err != nil {
			return nil, err
		}
		return &Request{JSONRPC: probe.JSONRPC, ID: id, Method: probe.Method, Params: probe.Params}, nil
	}

	if probe.Result != nil && probe.Error != nil {
		return nil, errors.New("response carries both result and error")
	}
	var id *RequestID
	if hasID {
		id = new(RequestID)
		if err := id.UnmarshalJSON(probe.ID); err != nil {
			return nil, err
		}
	}
	return &Response{JSONRPC: probe.JSONRPC, ID: id, Result: probe.Result, Error: probe.Error}, nil
}
