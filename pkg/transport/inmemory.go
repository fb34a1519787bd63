package transport

import (
	"context"
	"sync"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
	"github.com/qibin2020/fastmcp/pkg/logging"
	"github.com/qibin2020/fastmcp/pkg/protocol"
)

// pipeEnd is one side of an in-memory message pipe. Messages sent on
// one end are received on the other; closing either end closes both.
type pipeEnd struct {
	send chan *protocol.Message
	recv chan *protocol.Message

	done      chan struct{}
	closeOnce *sync.Once
}

// MessagePipe creates both ends of a synchronous in-memory pipe.
// The two ends share a close signal, so closing one fails pending
// operations on the other with ErrChannelClosed.
func MessagePipe() (MessageChannel, MessageChannel) {
	a := make(chan *protocol.Message)
	b := make(chan *protocol.Message)
	done := make(chan struct{})
	once := &sync.Once{}

	client := &pipeEnd{send: a, recv: b, done: done, closeOnce: once}
	server := &pipeEnd{send: b, recv: a, done: done, closeOnce: once}
	return client, server
}

func (p *pipeEnd) Send(ctx context.Context, msg *protocol.Message) error {
	select {
	case p.send <- msg:
		return nil
	case <-p.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg := <-p.recv:
		return msg, nil
	case <-p.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// InMemoryTransport connects to an InProcessServer over a message
// pipe. Connect hands the client end to the caller and runs the
// server's Serve loop on the far end in a goroutine.
type InMemoryTransport struct {
	server InProcessServer
	logger logging.Logger

	mu        sync.Mutex
	clientEnd MessageChannel
	cancel    context.CancelFunc
	serveDone chan struct{}
}

// NewInMemoryTransport creates a transport for an in-process server
func NewInMemoryTransport(server InProcessServer, cfg Config) *InMemoryTransport {
	return &InMemoryTransport{
		server: server,
		logger: cfg.logger(),
	}
}

// Connect builds the pipe and starts the server loop
func (t *InMemoryTransport) Connect(ctx context.Context) (MessageChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.clientEnd != nil {
		return nil, mcperrors.ConnectionFailed("inmemory", "", errAlreadyConnected)
	}

	clientEnd, serverEnd := MessagePipe()
	serveCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.clientEnd = clientEnd
	t.cancel = cancel
	t.serveDone = done

	go func() {
		defer close(done)
		if err := t.server.Serve(serveCtx, serverEnd); err != nil {
			t.logger.Debug("in-process server stopped",
				logging.ErrorField(err))
		}
		serverEnd.Close()
	}()

	return clientEnd, nil
}

// Disconnect stops the server loop and closes the pipe
func (t *InMemoryTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	clientEnd, cancel, done := t.clientEnd, t.cancel, t.serveDone
	t.clientEnd, t.cancel, t.serveDone = nil, nil, nil
	t.mu.Unlock()

	if clientEnd == nil {
		return nil
	}

	cancel()
	clientEnd.Close()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
