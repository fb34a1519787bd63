package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
	"github.com/qibin2020/fastmcp/pkg/logging"
	"github.com/qibin2020/fastmcp/pkg/protocol"
)

func TestStdioChannelFraming(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The near end of the subprocess pipes: we play the server side.
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	ch := newStdioChannel(stdinW, stdoutR, logging.Discard())
	defer ch.Close()

	req, _ := protocol.NewRequest(int64(1), protocol.MethodListTools, nil)
	go func() {
		if err := ch.Send(ctx, req); err != nil {
			t.Errorf("send: %v", err)
		}
	}()

	// One JSON object per line on the wire.
	line, err := bufio.NewReader(stdinR).ReadBytes('\n')
	if err != nil {
		t.Fatalf("reading line: %v", err)
	}
	var onWire protocol.Message
	if err := json.Unmarshal(line, &onWire); err != nil {
		t.Fatalf("wire format: %v", err)
	}
	if onWire.Method != protocol.MethodListTools {
		t.Errorf("method = %q, want tools/list", onWire.Method)
	}

	resp, _ := protocol.NewResponse(onWire.ID, nil)
	data, _ := json.Marshal(resp)
	go func() {
		stdoutW.Write(append(data, '\n'))
	}()

	got, err := ch.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got.Kind() != protocol.KindResponse {
		t.Errorf("Kind() = %v, want response", got.Kind())
	}
}

func TestStdioChannelMalformedLine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	ch := newStdioChannel(stdinW, stdoutR, logging.Discard())
	defer ch.Close()

	go stdoutW.Write([]byte("this is not json\n"))

	_, err := ch.Receive(ctx)
	if err == nil {
		t.Fatal("receive should fail on malformed input")
	}
	if !mcperrors.IsProtocolError(err) {
		t.Errorf("error = %v, want a protocol error", err)
	}
}

func TestStdioChannelEOF(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	ch := newStdioChannel(stdinW, stdoutR, logging.Discard())
	defer ch.Close()

	stdoutW.Close()

	_, err := ch.Receive(ctx)
	if err == nil {
		t.Fatal("receive should fail at EOF")
	}
	if !mcperrors.IsConnectionError(err) {
		t.Errorf("error = %v, want a connection error", err)
	}
}
