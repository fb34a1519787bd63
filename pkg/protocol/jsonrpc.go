package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// JSONRPCVersion is the supported JSON-RPC version
	JSONRPCVersion = "2.0"
)

// ErrorCode represents standard JSON-RPC 2.0 error codes
type ErrorCode int

// Standard error codes as per JSON-RPC 2.0 specification
const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
)

// MessageKind identifies the variant of a protocol message.
type MessageKind int

const (
	// KindInvalid marks a message that is none of the three JSON-RPC shapes
	KindInvalid MessageKind = iota
	// KindRequest is a call expecting a response (has id and method)
	KindRequest
	// KindResponse resolves a prior request (has id and result or error)
	KindResponse
	// KindNotification is a one-way message (has method, no id)
	KindNotification
)

// String returns the string representation of a message kind
func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Message is a JSON-RPC 2.0 message: a request, response, or
// notification. The three shapes share one struct so a transport can
// carry any of them; Kind reports which variant a message is.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Kind classifies the message. A message with both an id and a
// result/error is a response even if it also carries a method.
func (m *Message) Kind() MessageKind {
	hasID := m.ID != nil
	hasMethod := m.Method != ""

	switch {
	case hasID && (m.Result != nil || m.Error != nil):
		return KindResponse
	case hasID && hasMethod:
		return KindRequest
	case hasMethod:
		return KindNotification
	default:
		return KindInvalid
	}
}

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id interface{}, method string, params interface{}) (*Message, error) {
	paramsJSON, err := marshalField(params, "params")
	if err != nil {
		return nil, err
	}

	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

// NewResponse creates a new JSON-RPC 2.0 success response
func NewResponse(id interface{}, result interface{}) (*Message, error) {
	resultJSON, err := marshalField(result, "result")
	if err != nil {
		return nil, err
	}
	if resultJSON == nil {
		// A success response must carry a result member.
		resultJSON = json.RawMessage(`{}`)
	}

	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resultJSON,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id interface{}, code ErrorCode, message string, data interface{}) (*Message, error) {
	var dataJSON interface{}
	if data != nil {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal error data: %w", err)
		}
		dataJSON = json.RawMessage(dataBytes)
	}

	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    dataJSON,
		},
	}, nil
}

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Message, error) {
	paramsJSON, err := marshalField(params, "params")
	if err != nil {
		return nil, err
	}

	return &Message{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

func marshalField(v interface{}, name string) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return data, nil
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error returns a string representation of the error object.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %d desc = %s", e.Code, e.Message)
}
