package oracle

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardsharp/cardsharp/pkg/logging"
	"github.com/cardsharp/cardsharp/pkg/wire"
)

const defaultTimeout = time.Second * 5

// Client speaks the wire protocol over a single TCP connection. The
// protocol does not multiplex: one connection, one key, strictly serial
// queries.
type Client struct {
	conn    net.Conn
	timeout time.Duration
	logger  *zerolog.Logger
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithLogger(logger *zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func Dial(address string, opts ...ClientOption) (*Client, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	nop := zerolog.Nop()
	client := &Client{
		conn:    conn,
		timeout: defaultTimeout,
		logger:  &nop,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func (c *Client) Query(ctx context.Context, plaintext []byte) (Response, error) {
	if len(plaintext) == 0 {
		return Blank, wire.ErrEmptyPayload
	}
	if len(plaintext) > wire.MaxPayload {
		return Blank, wire.ErrPayloadTooBig
	}
	if err := c.setDeadline(ctx); err != nil {
		return Blank, err
	}
	before := time.Now()
	if err := wire.WriteRequest(c.conn, wire.Request{Type: wire.TypeEncrypt, Payload: plaintext}); err != nil {
		return Blank, err
	}
	nonce, ciphertext, err := wire.ReadEncryptResponse(c.conn, len(plaintext))
	if err != nil {
		return Blank, err
	}
	c.logger.Debug().
		Int("size", len(plaintext)).Dur("elapsed", time.Since(before)).
		Msg("Completed oracle query")
	if c.logger.GetLevel() == zerolog.TraceLevel {
		buf := &bytes.Buffer{}
		logging.Hexdump(buf, ciphertext) // nolint: errcheck
		c.logger.Trace().Msg(buf.String())
	}
	return Response{Nonce: nonce, Ciphertext: ciphertext}, nil
}

func (c *Client) Guess(ctx context.Context, key uint64) (bool, error) {
	if err := c.setDeadline(ctx); err != nil {
		return false, err
	}
	if err := wire.WriteRequest(c.conn, wire.Request{Type: wire.TypeGuess, Payload: wire.EncodeKey(key)}); err != nil {
		return false, err
	}
	return wire.ReadGuessResponse(c.conn)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) setDeadline(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	return c.conn.SetDeadline(deadline)
}
