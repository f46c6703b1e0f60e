package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const connectKey = "connect"

// Connector hands out the shared push connection.
type Connector interface {
	Init(ctx context.Context) (Conn, error)
}

// Connection owns the process-wide push connection. Concurrent Init calls share
// one in-flight handshake; a failed handshake is not remembered, and a dropped
// connection is dialed again on the next Init.
type Connection struct {
	transport Transport
	group     singleflight.Group

	mu     sync.Mutex
	conn   Conn
	closed bool
}

func NewConnection(transport Transport) *Connection {
	return &Connection{transport: transport}
}

// Init returns the established connection, dialing it if needed. ctx bounds
// only the wait; the handshake itself keeps going for the other callers.
func (c *Connection) Init(ctx context.Context) (Conn, error) {
	if conn, err := c.current(); conn != nil || err != nil {
		return conn, err
	}

	ch := c.group.DoChan(connectKey, func() (any, error) {
		if conn, err := c.current(); conn != nil || err != nil {
			return conn, err
		}

		conn, err := c.transport.Dial(context.WithoutCancel(ctx))
		if err != nil {
			log.Warn().Err(err).Msg("realtime handshake failed")
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			_ = conn.Close()
			return nil, ErrConnectionClosed
		}
		c.conn = conn
		log.Info().Msg("realtime connection established")
		return conn, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		conn, ok := res.Val.(Conn)
		if !ok || conn == nil {
			return nil, ErrConnectionClosed
		}
		return conn, nil
	}
}

func (c *Connection) current() (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	if c.conn == nil {
		return nil, nil
	}
	select {
	case <-c.conn.Done():
		log.Warn().Msg("realtime connection lost")
		c.conn = nil
		return nil, nil
	default:
		return c.conn, nil
	}
}

// Teardown closes the connection. Init fails afterwards.
func (c *Connection) Teardown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
