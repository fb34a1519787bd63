package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
	"github.com/qibin2020/fastmcp/pkg/logging"
	"github.com/qibin2020/fastmcp/pkg/protocol"
)

// Messages on stdio are newline-delimited JSON, one object per line.
// A single line is capped at 10MB to bound memory on a runaway peer.
const maxLineSize = 10 * 1024 * 1024

// StdioTransport launches a server subprocess and speaks the protocol
// over its stdin and stdout. The subprocess inherits stderr so server
// diagnostics stay visible.
type StdioTransport struct {
	command string
	args    []string
	logger  logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	channel *stdioChannel
}

// NewStdioTransport creates a transport that will run command args...
func NewStdioTransport(command string, args []string, cfg Config) *StdioTransport {
	return &StdioTransport{
		command: command,
		args:    args,
		logger:  cfg.logger(),
	}
}

// Connect starts the subprocess and wires its pipes into a channel
func (t *StdioTransport) Connect(ctx context.Context) (MessageChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return nil, mcperrors.ConnectionFailed("stdio", t.command, errAlreadyConnected)
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, mcperrors.ConnectionFailed("stdio", t.command, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, mcperrors.ConnectionFailed("stdio", t.command, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, mcperrors.ConnectionFailed("stdio", t.command, err)
	}

	t.logger.Debug("server subprocess started",
		logging.String("command", t.command),
		logging.Int("pid", cmd.Process.Pid))

	ch := newStdioChannel(stdin, stdout, t.logger)
	t.cmd = cmd
	t.channel = ch
	return ch, nil
}

// Disconnect closes the channel and reaps the subprocess. The process
// is killed if it does not exit on its own once stdin closes.
func (t *StdioTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	cmd, ch := t.cmd, t.channel
	t.cmd, t.channel = nil, nil
	t.mu.Unlock()

	if cmd == nil {
		return nil
	}

	ch.Close()

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	select {
	case <-waited:
	case <-ctx.Done():
		if err := cmd.Process.Kill(); err != nil {
			t.logger.Warn("failed to kill server subprocess",
				logging.Int("pid", cmd.Process.Pid),
				logging.ErrorField(err))
		}
		<-waited
	}
	return nil
}

// stdioChannel frames messages as newline-delimited JSON over a pipe
// pair. A pump goroutine owns the read side so Receive can honor its
// context without abandoning partially read lines.
type stdioChannel struct {
	logger logging.Logger

	writeMu sync.Mutex
	writer  *bufio.Writer
	stdin   io.WriteCloser

	recv chan *protocol.Message

	done      chan struct{}
	closeOnce sync.Once

	// readErr holds the pump's terminal error, set before recv closes.
	errMu   sync.Mutex
	readErr error
}

func newStdioChannel(stdin io.WriteCloser, stdout io.Reader, logger logging.Logger) *stdioChannel {
	ch := &stdioChannel{
		logger: logger,
		writer: bufio.NewWriter(stdin),
		stdin:  stdin,
		recv:   make(chan *protocol.Message, 16),
		done:   make(chan struct{}),
	}
	go ch.readLoop(stdout)
	return ch
}

func (c *stdioChannel) readLoop(stdout io.Reader) {
	defer close(c.recv)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.setReadErr(mcperrors.MalformedMessage(err))
			return
		}

		select {
		case c.recv <- &msg:
		case <-c.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		c.setReadErr(mcperrors.ConnectionLost(err))
		return
	}
	// EOF: the subprocess closed stdout or exited.
	c.setReadErr(mcperrors.ConnectionLost(io.EOF))
}

func (c *stdioChannel) setReadErr(err error) {
	c.errMu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	c.errMu.Unlock()
}

func (c *stdioChannel) terminalErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return ErrChannelClosed
}

func (c *stdioChannel) Send(ctx context.Context, msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(data); err != nil {
		return mcperrors.ConnectionLost(err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return mcperrors.ConnectionLost(err)
	}
	if err := c.writer.Flush(); err != nil {
		return mcperrors.ConnectionLost(err)
	}
	return nil
}

func (c *stdioChannel) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg, ok := <-c.recv:
		if !ok {
			return nil, c.terminalErr()
		}
		return msg, nil
	case <-c.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *stdioChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		// Closing stdin tells well-behaved servers to exit; it also
		// has the side effect of unblocking the pump once the process
		// closes stdout.
		if err := c.stdin.Close(); err != nil {
			c.logger.Debug("closing subprocess stdin", logging.ErrorField(err))
		}
	})
	return nil
}
