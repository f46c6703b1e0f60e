package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const natsFlushTimeout = 5 * time.Second

// NATSConfig configures the NATS push transport. Each match publishes on
// matches.<id>.<Event>.
type NATSConfig struct {
	URL           string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS settings.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

type NATSTransport struct {
	cfg NATSConfig
}

func NewNATSTransport(cfg NATSConfig) (*NATSTransport, error) {
	if cfg.URL == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = DefaultNATSConfig().ReconnectWait
	}
	return &NATSTransport{cfg: cfg}, nil
}

func (t *NATSTransport) Dial(ctx context.Context) (Conn, error) {
	done := make(chan struct{})
	var closeOnce sync.Once

	opts := []nats.Option{
		nats.Name("matchdesk"),
		nats.MaxReconnects(t.cfg.MaxReconnects),
		nats.ReconnectWait(t.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			closeOnce.Do(func() { close(done) })
		}),
	}
	if t.cfg.Token != "" {
		opts = append(opts, nats.Token(t.cfg.Token))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(t.cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &natsConn{nc: nc, done: done}, nil
}

type natsConn struct {
	nc   *nats.Conn
	done chan struct{}
}

func (c *natsConn) Done() <-chan struct{} {
	return c.done
}

func (c *natsConn) Close() error {
	c.nc.Close()
	return nil
}

func (c *natsConn) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &natsSubscription{
		channel: channel,
		msgs:    make(chan Message, messageBuffer),
		left:    make(chan struct{}),
	}

	ns, err := c.nc.Subscribe(channel+".*", func(msg *nats.Msg) {
		event := msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]
		sub.deliver(Message{Channel: channel, Event: event, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	if err := c.nc.FlushTimeout(natsFlushTimeout); err != nil {
		_ = ns.Unsubscribe()
		return nil, fmt.Errorf("flush subscribe %s: %w", channel, err)
	}
	sub.sub = ns

	go func() {
		select {
		case <-c.done:
			sub.closeMessages()
		case <-sub.left:
		}
	}()
	return sub, nil
}

type natsSubscription struct {
	channel string
	sub     *nats.Subscription

	mu     sync.Mutex
	msgs   chan Message
	left   chan struct{}
	closed bool
}

func (s *natsSubscription) Channel() string {
	return s.channel
}

func (s *natsSubscription) Messages() <-chan Message {
	return s.msgs
}

func (s *natsSubscription) Leave() error {
	s.closeMessages()
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("unsubscribe %s: %w", s.channel, err)
	}
	return nil
}

func (s *natsSubscription) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.msgs <- msg:
	default:
		log.Warn().Str("channel", s.channel).Str("event", msg.Event).Msg("realtime buffer full, dropping message")
	}
}

func (s *natsSubscription) closeMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.msgs)
		close(s.left)
	}
}
