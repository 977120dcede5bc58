package ipc

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/protocol"
	"github.com/nestormc/nestor/value"
)

// Conn is a client connection to the control socket. Requests are
// serialised: each Do waits for its answer.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	zlib   bool
}

// DialOption configures Dial.
type DialOption func(*Conn)

// WithZlib compresses requests, which makes the server compress answers.
func WithZlib() DialOption {
	return func(c *Conn) { c.zlib = true }
}

// Dial connects to a control socket.
func Dial(ctx context.Context, address string, opts ...DialOption) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WrapTransient(err, "ipc", "Dial", "connect "+address)
	}
	c := &Conn{conn: nc, reader: bufio.NewReader(nc)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do sends req and reads one answer. The context deadline, if any, bounds
// the exchange.
func (c *Conn) Do(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	if err := protocol.WritePacket(c.conn, req, protocol.EncodeOptions{Zlib: c.zlib}); err != nil {
		return nil, errors.WrapTransient(err, "ipc", "Do", "send "+req.Opcode.String())
	}
	answer, err := protocol.ReadPacket(c.reader)
	if err != nil {
		return nil, errors.WrapTransient(err, "ipc", "Do", "read answer")
	}
	return answer, nil
}

// Get resolves objects at full detail.
func (c *Conn) Get(ctx context.Context, refs ...string) ([]ObjectInfo, error) {
	answer, err := c.Do(ctx, ObjectQuery(protocol.DetailProps, refs...))
	if err != nil {
		return nil, err
	}
	return ParseObjects(answer)
}

// Match runs a match query.
func (c *Conn) Match(ctx context.Context, q MatchQuery) ([]ObjectInfo, error) {
	answer, err := c.Do(ctx, q.Packet())
	if err != nil {
		return nil, err
	}
	return ParseObjects(answer)
}

// Actions lists the actions of processor applicable to ref.
func (c *Conn) Actions(ctx context.Context, processor, ref string) ([]ActionInfo, error) {
	answer, err := c.Do(ctx, ActionQuery(processor, ref))
	if err != nil {
		return nil, err
	}
	return ParseActions(answer)
}

// Execute runs an action. It returns the progress id of asynchronous
// actions and "" for actions that completed.
func (c *Conn) Execute(ctx context.Context, processor, action, ref string, params map[string]value.Value) (string, error) {
	answer, err := c.Do(ctx, ActionExecute(processor, action, ref, params))
	if err != nil {
		return "", err
	}
	return ParseProgress(answer)
}

// Ping sends NOOP.
func (c *Conn) Ping(ctx context.Context) error {
	answer, err := c.Do(ctx, protocol.NewPacket(protocol.OpNoop))
	if err != nil {
		return err
	}
	return answerError(answer)
}

// Close sends DISCONNECT, waits for the acknowledgment and closes the
// connection.
func (c *Conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	answer, err := c.Do(ctx, protocol.NewPacket(protocol.OpDisconnect))
	closeErr := c.conn.Close()
	if err != nil {
		return err
	}
	if answer.Opcode != protocol.OpDisconnectAck {
		return errors.WrapInvalid(errors.ErrInvalidData, "ipc", "Close", "expected DISCONNECT_ACK, got "+answer.Opcode.String())
	}
	return closeErr
}
