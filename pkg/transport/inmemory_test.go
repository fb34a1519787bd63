package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qibin2020/fastmcp/pkg/protocol"
)

func TestMessagePipeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, server := MessagePipe()

	req, _ := protocol.NewRequest(int64(1), protocol.MethodPing, nil)
	go func() {
		if err := client.Send(ctx, req); err != nil {
			t.Errorf("client send: %v", err)
		}
	}()

	got, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("server receive: %v", err)
	}
	if got.Method != protocol.MethodPing {
		t.Errorf("method = %q, want ping", got.Method)
	}

	resp, _ := protocol.NewResponse(got.ID, nil)
	go func() {
		if err := server.Send(ctx, resp); err != nil {
			t.Errorf("server send: %v", err)
		}
	}()

	got, err = client.Receive(ctx)
	if err != nil {
		t.Fatalf("client receive: %v", err)
	}
	if got.Kind() != protocol.KindResponse {
		t.Errorf("Kind() = %v, want response", got.Kind())
	}
}

func TestMessagePipeCloseUnblocksBothEnds(t *testing.T) {
	client, server := MessagePipe()

	errs := make(chan error, 2)
	go func() {
		_, err := client.Receive(context.Background())
		errs <- err
	}()
	go func() {
		_, err := server.Receive(context.Background())
		errs <- err
	}()

	client.Close()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrChannelClosed) {
				t.Errorf("receive after close = %v, want ErrChannelClosed", err)
			}
		case <-time.After(time.Second):
			t.Fatal("receive did not unblock after close")
		}
	}

	msg, _ := protocol.NewNotification(protocol.MethodInitialized, nil)
	if err := server.Send(context.Background(), msg); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("send after close = %v, want ErrChannelClosed", err)
	}
}

func TestMessagePipeContextCancellation(t *testing.T) {
	client, _ := MessagePipe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("receive with cancelled context = %v, want context.Canceled", err)
	}
}

// echoServer responds to every request with an empty result.
type echoServer struct{}

func (echoServer) Serve(ctx context.Context, ch MessageChannel) error {
	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			return err
		}
		if msg.Kind() != protocol.KindRequest {
			continue
		}
		resp, err := protocol.NewResponse(msg.ID, nil)
		if err != nil {
			return err
		}
		if err := ch.Send(ctx, resp); err != nil {
			return err
		}
	}
}

func TestInMemoryTransportServesInProcess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tr := NewInMemoryTransport(echoServer{}, testConfig())
	ch, err := tr.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	req, _ := protocol.NewRequest(int64(7), protocol.MethodPing, nil)
	if err := ch.Send(ctx, req); err != nil {
		t.Fatalf("send: %v", err)
	}
	resp, err := ch.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if resp.Kind() != protocol.KindResponse {
		t.Errorf("Kind() = %v, want response", resp.Kind())
	}

	if err := tr.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	// Idempotent.
	if err := tr.Disconnect(ctx); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestChannelTransportSingleUse(t *testing.T) {
	ctx := context.Background()
	clientEnd, _ := MessagePipe()

	tr := NewChannelTransport(clientEnd)
	if _, err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := tr.Connect(ctx); err == nil {
		t.Error("second connect should fail")
	}
	if err := tr.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if _, err := tr.Connect(ctx); err == nil {
		t.Error("connect after disconnect should fail")
	}
}
