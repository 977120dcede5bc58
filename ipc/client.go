package ipc

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/protocol"
)

// Handler serves one request packet. It answers through c; returning an
// ObjectError answers FAILURE with its reason.
type Handler func(ctx context.Context, c *Client, p *protocol.Packet) error

// Client is the server side of one connection.
type Client struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	server *Server
	logger *slog.Logger

	wmu      sync.Mutex
	zlib     bool
	answered bool
}

func newClient(s *Server, conn net.Conn) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		conn:   conn,
		reader: bufio.NewReader(conn),
		server: s,
		logger: s.logger.With("client", id[:8], "remote", conn.RemoteAddr().String()),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Answer sends p. Answers are compressed when the request was.
func (c *Client) Answer(p *protocol.Packet) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.answered = true
	if c.server.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.writeTimeout))
	}
	if err := protocol.WritePacket(c.conn, p, protocol.EncodeOptions{Zlib: c.zlib}); err != nil {
		return errors.WrapTransient(err, "ipc", "Answer", "write "+p.Opcode.String())
	}
	c.server.metrics.RecordPacketSent(p.Opcode.String())
	return nil
}

// AnswerSuccess sends an empty SUCCESS.
func (c *Client) AnswerSuccess() error { return c.Answer(protocol.Success()) }

// AnswerFailure sends FAILURE with reason.
func (c *Client) AnswerFailure(reason string) error {
	code, _, _ := strings.Cut(reason, ":")
	c.server.metrics.RecordFailure("socket", code)
	return c.Answer(protocol.Failure(reason))
}

// AnswerProcessing sends PROCESSING with a progress id.
func (c *Client) AnswerProcessing(id string) error { return c.Answer(protocol.Processing(id)) }

func (c *Client) startRequest(p *protocol.Packet) {
	c.wmu.Lock()
	c.answered = false
	c.zlib = p.Compressed
	c.wmu.Unlock()
}

func (c *Client) hasAnswered() bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.answered
}

// serve reads packets until the peer leaves, a framing error occurs or ctx
// is done.
func (c *Client) serve(ctx context.Context) {
	defer c.conn.Close()
	c.logger.Debug("Client connected")

	for ctx.Err() == nil {
		p, err := protocol.ReadPacket(c.reader)
		if err != nil {
			c.readFailed(ctx, err)
			return
		}
		c.server.metrics.RecordPacketReceived(p.Opcode.String())
		if p.Opcode == protocol.OpDisconnect {
			c.startRequest(p)
			if err := c.Answer(protocol.NewPacket(protocol.OpDisconnectAck)); err != nil {
				c.logger.Debug("Disconnect acknowledgment failed", "error", err)
			}
			c.logger.Debug("Client disconnected")
			return
		}
		if err := c.dispatch(ctx, p); err != nil {
			c.logger.Debug("Closing client after write failure", "error", err)
			return
		}
	}
}

func (c *Client) readFailed(ctx context.Context, err error) {
	switch {
	case err == io.EOF || ctx.Err() != nil:
		c.logger.Debug("Client closed connection")
	case errors.Is(err, protocol.ErrVersionMismatch):
		c.logger.Warn("Dropping client with protocol version mismatch", "error", err)
	case errors.Is(err, protocol.ErrFraming):
		c.logger.Warn("Dropping client after framing error", "error", err)
	default:
		c.logger.Debug("Client read failed", "error", err)
	}
}

// dispatch runs the handler of p and makes sure the request is answered.
// It returns an error only when answering failed.
func (c *Client) dispatch(ctx context.Context, p *protocol.Packet) error {
	c.startRequest(p)
	start := time.Now()
	defer func() {
		c.server.metrics.RecordRequestDuration("socket", p.Opcode.String(), time.Since(start))
	}()

	h, ok := c.server.handler(p.Opcode)
	if !ok {
		return c.AnswerFailure(errors.ReasonOf(errors.ErrInvalidOpcode(uint8(p.Opcode))))
	}

	err := c.runHandler(ctx, h, p)
	if c.hasAnswered() {
		if err != nil {
			c.logger.Debug("Handler failed after answering", "opcode", p.Opcode, "error", err)
		}
		return nil
	}
	if err == nil {
		return c.AnswerFailure(errors.CodeUnknown)
	}
	if oe, ok := errors.AsObjectError(err); ok {
		return c.AnswerFailure(oe.Reason())
	}
	c.logger.Error("Request handler failed", "opcode", p.Opcode, "error", err)
	return c.AnswerFailure(errors.CodeUnknown)
}

// runHandler turns handler panics into errors so one bad request does not
// take the daemon down.
func (c *Client) runHandler(ctx context.Context, h Handler, p *protocol.Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(errors.New("handler panic"), "ipc", "dispatch", p.Opcode.String())
			c.logger.Error("Request handler panicked", "opcode", p.Opcode, "panic", r)
		}
	}()
	return h(ctx, c, p)
}
