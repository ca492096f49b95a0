package client

import (
	"io"
	"net"
	"sync"
	"time"

	"listdb/pkg/core"
	"listdb/pkg/protocol"
	"listdb/pkg/storage"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrInvalid  = errors.New("invalid request")
	ErrServer   = errors.New("server error")
	ErrResponse = errors.New("unexpected response")
)

// Client talks to a TCPServer over one connection. Calls are serialised; a call
// that fails on a broken connection is retried once on a fresh one.
type Client struct {
	mu        sync.Mutex
	conn      net.Conn
	addr      string
	timeout   time.Duration
	threshold int
}

func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:      conn,
		addr:      addr,
		timeout:   5 * time.Second,
		threshold: 4096,
	}, nil
}

// NewClient wraps an established connection, e.g. one end of net.Pipe. It does
// not reconnect.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, threshold: 4096}
}

func (c *Client) Row(index int64) (protocol.Record, error) {
	resp, err := c.call(protocol.OpRow, protocol.Int64Key(index), nil)
	if err != nil {
		return nil, err
	}
	return single(resp)
}

func (c *Client) Page(offset, limit int64) ([]protocol.Record, error) {
	resp, err := c.call(protocol.OpPage, protocol.Int64Key(offset, limit), nil)
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *Client) Size() (int64, error) {
	resp, err := c.call(protocol.OpSize, nil, nil)
	if err != nil {
		return 0, err
	}
	return resp.Size, nil
}

func (c *Client) First() (protocol.Record, error) {
	resp, err := c.call(protocol.OpFirst, nil, nil)
	if err != nil {
		return nil, err
	}
	return single(resp)
}

func (c *Client) Last() (protocol.Record, error) {
	resp, err := c.call(protocol.OpLast, nil, nil)
	if err != nil {
		return nil, err
	}
	return single(resp)
}

// Save inserts or replaces the row given as alias -> text.
func (c *Client) Save(r protocol.Record) (int64, error) {
	resp, err := c.call(protocol.OpSave, nil, r)
	if err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

// Delete removes the row whose primary key r carries.
func (c *Client) Delete(r protocol.Record) (int64, error) {
	resp, err := c.call(protocol.OpDelete, nil, r)
	if err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

func (c *Client) Invalidate() error {
	_, err := c.call(protocol.OpInvalidate, nil, nil)
	return err
}

// Scope sets the server list's global criteria from a WHERE expression; an
// empty one clears it.
func (c *Client) Scope(where string) error {
	_, err := c.call(protocol.OpScope, nil, where)
	return err
}

func (c *Client) Stats() (core.Stats, error) {
	var st core.Stats
	resp, err := c.call(protocol.OpStats, nil, nil)
	if err != nil {
		return st, err
	}
	err = msgpack.Unmarshal(resp.Stats, &st)
	return st, errors.Wrap(err, "decode stats")
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func single(resp *protocol.Response) (protocol.Record, error) {
	if len(resp.Records) != 1 {
		return nil, errors.Wrapf(ErrResponse, "%d records", len(resp.Records))
	}
	return resp.Records[0], nil
}

// call sends one request and reads its answer. RespOK yields an empty response.
func (c *Client) call(op byte, key []byte, payload any) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.roundTrip(op, key, payload)
	var ne net.Error
	if err != nil && c.addr != "" && (errors.As(err, &ne) || isBroken(err)) {
		if rerr := c.reconnect(); rerr != nil {
			return nil, rerr
		}
		return c.roundTrip(op, key, payload)
	}
	return resp, err
}

func (c *Client) roundTrip(op byte, key []byte, payload any) (*protocol.Response, error) {
	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := protocol.WriteMessage(c.conn, op, key, payload, c.threshold); err != nil {
		return nil, err
	}
	pkt, err := protocol.Decode(c.conn)
	if err != nil {
		return nil, err
	}
	switch pkt.Code() {
	case protocol.RespOK:
		return &protocol.Response{}, nil
	case protocol.RespVal:
		var resp protocol.Response
		if err := pkt.Unmarshal(&resp); err != nil {
			return nil, err
		}
		return &resp, nil
	case protocol.RespErr:
		return nil, remoteError(pkt)
	}
	return nil, errors.Wrapf(ErrResponse, "op 0x%02x", pkt.Op)
}

func (c *Client) reconnect() error {
	_ = c.conn.Close()
	conn, err := net.DialTimeout("tcp", c.addr, 5*time.Second)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func isBroken(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// remoteError maps a RespErr frame back onto the sentinel errors callers test for.
func remoteError(pkt *protocol.Packet) error {
	msg := string(pkt.Value)
	code := protocol.CodeInternal
	if len(pkt.Key) == 1 {
		code = pkt.Key[0]
	}
	switch code {
	case protocol.CodeOutOfRange:
		return errors.Wrap(core.ErrIndexOutOfRange, msg)
	case protocol.CodeNotFound:
		return errors.Wrap(storage.ErrNotFound, msg)
	case protocol.CodeBackend:
		return errors.Wrap(core.ErrBackend, msg)
	case protocol.CodeInvalid:
		return errors.Wrap(ErrInvalid, msg)
	}
	return errors.Wrap(ErrServer, msg)
}
