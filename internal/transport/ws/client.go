package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridworld.ai/internal/protocol"
)

var ErrClosed = errors.New("ws: connection closed")

// Client is the worker side of the coordinator link. It implements agent.Conn.
type Client struct {
	conn *websocket.Conn

	in      chan protocol.ConvMsg
	done    chan struct{} // closed when the reader exits
	closing chan struct{}
	once    sync.Once

	wmu sync.Mutex

	errMu sync.Mutex
	err   error
}

// Dial connects, performs the HELLO/WELCOME handshake and starts the reader.
func Dial(ctx context.Context, url, agentName string, maxQueue int) (*Client, protocol.WelcomeMsg, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, protocol.WelcomeMsg{}, fmt.Errorf("dial %s: %w", url, err)
	}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       agentName,
		MaxQueue:        maxQueue,
	}
	if err := writeJSON(conn, hello); err != nil {
		_ = conn.Close()
		return nil, protocol.WelcomeMsg{}, fmt.Errorf("send HELLO: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	welcome, err := readWelcome(conn)
	if err != nil {
		_ = conn.Close()
		return nil, protocol.WelcomeMsg{}, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:    conn,
		in:      make(chan protocol.ConvMsg, 16),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go c.readLoop()
	return c, welcome, nil
}

func readWelcome(conn *websocket.Conn) (protocol.WelcomeMsg, error) {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return protocol.WelcomeMsg{}, fmt.Errorf("await WELCOME: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.WelcomeMsg{}, fmt.Errorf("await WELCOME: %w", err)
	}
	if base.Type != protocol.TypeWelcome {
		return protocol.WelcomeMsg{}, fmt.Errorf("await WELCOME: got %s", base.Type)
	}
	var wm protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &wm); err != nil {
		return protocol.WelcomeMsg{}, fmt.Errorf("decode WELCOME: %w", err)
	}
	if wm.ProtocolVersion != protocol.Version {
		return protocol.WelcomeMsg{}, fmt.Errorf("WELCOME protocol_version %q, want %q", wm.ProtocolVersion, protocol.Version)
	}
	return wm, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeConv {
			continue
		}
		var cm protocol.ConvMsg
		if err := json.Unmarshal(msg, &cm); err != nil {
			continue
		}
		select {
		case c.in <- cm:
		case <-c.closing:
			return
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) ReadConv(ctx context.Context) (protocol.ConvMsg, error) {
	select {
	case <-ctx.Done():
		return protocol.ConvMsg{}, ctx.Err()
	case m := <-c.in:
		return m, nil
	case <-c.done:
		// Drain what arrived before the link dropped.
		select {
		case m := <-c.in:
			return m, nil
		default:
		}
		if err := c.Err(); err != nil {
			return protocol.ConvMsg{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return protocol.ConvMsg{}, ErrClosed
	}
}

func (c *Client) WriteConv(msg protocol.ConvMsg) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return writeJSON(c.conn, msg)
}

func (c *Client) Close() error {
	c.once.Do(func() { close(c.closing) })
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}
