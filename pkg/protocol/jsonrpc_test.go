package protocol

import (
	"encoding/json"
	"testing"
)

func TestMessageKind(t *testing.T) {
	tests := []struct {
		name string
		json string
		want MessageKind
	}{
		{
			name: "request",
			json: `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			want: KindRequest,
		},
		{
			name: "request with params",
			json: `{"jsonrpc":"2.0","id":"abc","method":"tools/call","params":{"name":"x"}}`,
			want: KindRequest,
		},
		{
			name: "success response",
			json: `{"jsonrpc":"2.0","id":1,"result":{}}`,
			want: KindResponse,
		},
		{
			name: "error response",
			json: `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"not found"}}`,
			want: KindResponse,
		},
		{
			name: "response wins over method",
			json: `{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`,
			want: KindResponse,
		},
		{
			name: "notification",
			json: `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			want: KindNotification,
		},
		{
			name: "neither",
			json: `{"jsonrpc":"2.0","id":7}`,
			want: KindInvalid,
		},
		{
			name: "empty object",
			json: `{}`,
			want: KindInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			if err := json.Unmarshal([]byte(tt.json), &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := msg.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(int64(1), MethodListTools, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if req.JSONRPC != JSONRPCVersion {
		t.Errorf("JSONRPC = %q, want %q", req.JSONRPC, JSONRPCVersion)
	}
	if req.Kind() != KindRequest {
		t.Errorf("Kind() = %v, want request", req.Kind())
	}
	if len(req.Params) != 0 {
		t.Errorf("Params = %s, want empty", req.Params)
	}

	req, err = NewRequest(int64(2), MethodCallTool, CallToolParams{Name: "echo"})
	if err != nil {
		t.Fatalf("NewRequest with params: %v", err)
	}
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.Name != "echo" {
		t.Errorf("params.Name = %q, want %q", params.Name, "echo")
	}
}

func TestNewResponseDefaultsResult(t *testing.T) {
	resp, err := NewResponse(int64(1), nil)
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}
	if string(resp.Result) != "{}" {
		t.Errorf("Result = %s, want {}", resp.Result)
	}
	if resp.Kind() != KindResponse {
		t.Errorf("Kind() = %v, want response", resp.Kind())
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp, err := NewErrorResponse(int64(3), MethodNotFound, "no such method", nil)
	if err != nil {
		t.Fatalf("NewErrorResponse: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("Error is nil")
	}
	if resp.Error.Code != MethodNotFound {
		t.Errorf("Code = %d, want %d", resp.Error.Code, MethodNotFound)
	}
	if resp.Kind() != KindResponse {
		t.Errorf("Kind() = %v, want response", resp.Kind())
	}
}

func TestNewNotification(t *testing.T) {
	n, err := NewNotification(MethodInitialized, nil)
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	if n.ID != nil {
		t.Errorf("ID = %v, want nil", n.ID)
	}
	if n.Kind() != KindNotification {
		t.Errorf("Kind() = %v, want notification", n.Kind())
	}
}

func TestRawParamsPassThrough(t *testing.T) {
	raw := json.RawMessage(`{"cursor":"abc"}`)
	req, err := NewRequest(int64(1), MethodListTools, raw)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if string(req.Params) != string(raw) {
		t.Errorf("Params = %s, want %s", req.Params, raw)
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Code: MethodNotFound, Message: "no such method"}
	want := "rpc error: code = -32601 desc = no such method"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}
