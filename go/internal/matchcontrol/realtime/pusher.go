package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	pusherProtocol       = "7"
	privateChannelPrefix = "private-"
	messageBuffer        = 256
	handshakeTimeout     = 30 * time.Second
	writeWait            = 10 * time.Second

	pusherConnectionEstablished = "pusher:connection_established"
	pusherSubscribe             = "pusher:subscribe"
	pusherUnsubscribe           = "pusher:unsubscribe"
	pusherPing                  = "pusher:ping"
	pusherPong                  = "pusher:pong"
	pusherError                 = "pusher:error"
	pusherSubscriptionError     = "pusher:subscription_error"
	pusherSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
)

// PusherConfig configures a Reverb (Pusher protocol) connection.
type PusherConfig struct {
	AppKey string
	Host   string
	Port   int
	// Scheme is "https" for wss, anything else for ws
	Scheme string
	// AuthEndpoint authorizes private channels
	AuthEndpoint string
	// CSRFURL, when set, is fetched before authorizing to obtain session cookies
	CSRFURL     string
	BearerToken string
	HTTPClient  *http.Client
}

type PusherTransport struct {
	cfg PusherConfig
}

// NewPusherTransport validates the configuration. Missing credentials return
// ErrMissingCredentials.
func NewPusherTransport(cfg PusherConfig) (*PusherTransport, error) {
	if cfg.AppKey == "" || cfg.Host == "" || cfg.AuthEndpoint == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Port == 0 {
		if cfg.Scheme == "https" {
			cfg.Port = 443
		} else {
			cfg.Port = 80
		}
	}
	return &PusherTransport{cfg: cfg}, nil
}

func (t *PusherTransport) socketURL() string {
	scheme := "ws"
	if t.cfg.Scheme == "https" {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port),
		Path:   "/app/" + t.cfg.AppKey,
		RawQuery: url.Values{
			"protocol": []string{pusherProtocol},
			"client":   []string{"matchdesk"},
			"version":  []string{"1.0"},
		}.Encode(),
	}
	return u.String()
}

type pusherFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// Dial connects, waits for the socket id and starts the read loop.
func (t *PusherTransport) Dial(ctx context.Context) (Conn, error) {
	httpClient, err := t.httpClient()
	if err != nil {
		return nil, err
	}
	if t.cfg.CSRFURL != "" {
		if err := fetchCSRFCookie(ctx, httpClient, t.cfg.CSRFURL); err != nil {
			log.Warn().Err(err).Msg("csrf cookie prefetch failed")
		}
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Jar:              httpClient.Jar,
	}
	ws, resp, err := dialer.DialContext(ctx, t.socketURL(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to websocket (status: %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	} else {
		_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	}
	var frame pusherFrame
	if err := ws.ReadJSON(&frame); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to read connection handshake: %w", err)
	}
	if frame.Event != pusherConnectionEstablished {
		ws.Close()
		return nil, fmt.Errorf("unexpected handshake event %q", frame.Event)
	}
	var established connectionEstablished
	if err := json.Unmarshal(frameData(frame.Data), &established); err != nil || established.SocketID == "" {
		ws.Close()
		return nil, fmt.Errorf("invalid connection handshake: %s", string(frame.Data))
	}
	_ = ws.SetReadDeadline(time.Time{})

	conn := &pusherConn{
		ws:         ws,
		socketID:   established.SocketID,
		cfg:        t.cfg,
		httpClient: httpClient,
		subs:       make(map[string]*pusherSubscription),
		pending:    make(map[string]chan error),
		done:       make(chan struct{}),
	}
	go conn.readLoop()

	log.Debug().Str("socket_id", conn.socketID).Msg("pusher connection established")
	return conn, nil
}

func (t *PusherTransport) httpClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	client := &http.Client{Timeout: handshakeTimeout}
	if t.cfg.HTTPClient != nil {
		copied := *t.cfg.HTTPClient
		client = &copied
	}
	client.Jar = jar
	return client, nil
}

func fetchCSRFCookie(ctx context.Context, client *http.Client, csrfURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, csrfURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("csrf endpoint returned status code: %d", resp.StatusCode)
	}
	return nil
}

// frameData unwraps data sent as a JSON-encoded string.
func frameData(raw json.RawMessage) json.RawMessage {
	var s string
	if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return json.RawMessage(s)
	}
	return raw
}

type pusherConn struct {
	ws         *websocket.Conn
	socketID   string
	cfg        PusherConfig
	httpClient *http.Client

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[string]*pusherSubscription
	pending map[string]chan error

	done      chan struct{}
	closeOnce sync.Once
}

func (c *pusherConn) Done() <-chan struct{} {
	return c.done
}

func (c *pusherConn) Close() error {
	err := c.ws.Close()
	c.shutdown()
	return err
}

func (c *pusherConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		defer c.mu.Unlock()
		for name, sub := range c.subs {
			sub.closeMessages()
			delete(c.subs, name)
		}
		for name, ch := range c.pending {
			ch <- ErrConnectionClosed
			delete(c.pending, name)
		}
	})
}

func (c *pusherConn) send(frame any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(frame)
}

type subscribeData struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
	Channel     string `json:"channel"`
}

type authResponse struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

func (c *pusherConn) authorize(ctx context.Context, channelName string) (authResponse, error) {
	form := url.Values{
		"socket_id":    []string{c.socketID},
		"channel_name": []string{channelName},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return authResponse{}, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
	if token := c.xsrfToken(); token != "" {
		req.Header.Set("X-XSRF-TOKEN", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return authResponse{}, fmt.Errorf("failed to authorize channel: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return authResponse{}, fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return authResponse{}, fmt.Errorf("channel auth returned status code: %d, response: %s", resp.StatusCode, string(body))
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil || auth.Auth == "" {
		return authResponse{}, fmt.Errorf("invalid channel auth response: %s", string(body))
	}
	return auth, nil
}

// xsrfToken returns the XSRF-TOKEN cookie set by the csrf prefetch.
func (c *pusherConn) xsrfToken() string {
	u, err := url.Parse(c.cfg.AuthEndpoint)
	if err != nil || c.httpClient.Jar == nil {
		return ""
	}
	for _, cookie := range c.httpClient.Jar.Cookies(u) {
		if cookie.Name == "XSRF-TOKEN" {
			if v, err := url.QueryUnescape(cookie.Value); err == nil {
				return v
			}
			return cookie.Value
		}
	}
	return ""
}

// Subscribe authorizes and joins the private channel, waiting for the server's
// acknowledgement.
func (c *pusherConn) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	name := privateChannelPrefix + channel

	auth, err := c.authorize(ctx, name)
	if err != nil {
		return nil, err
	}

	ack := make(chan error, 1)
	sub := &pusherSubscription{conn: c, channel: channel, name: name, msgs: make(chan Message, messageBuffer)}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	default:
	}
	c.pending[name] = ack
	c.subs[name] = sub
	c.mu.Unlock()

	data, _ := json.Marshal(subscribeData{Auth: auth.Auth, ChannelData: auth.ChannelData, Channel: name})
	if err := c.send(pusherFrame{Event: pusherSubscribe, Data: data}); err != nil {
		c.drop(name)
		return nil, fmt.Errorf("failed to send subscribe: %w", err)
	}

	select {
	case <-ctx.Done():
		c.drop(name)
		return nil, ctx.Err()
	case err := <-ack:
		if err != nil {
			c.drop(name)
			return nil, err
		}
		return sub, nil
	}
}

func (c *pusherConn) drop(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, name)
	if sub, ok := c.subs[name]; ok {
		sub.closeMessages()
		delete(c.subs, name)
	}
}

func (c *pusherConn) resolve(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.pending[name]; ok {
		ch <- err
		delete(c.pending, name)
	}
}

func (c *pusherConn) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Msg("pusher read failed")
			}
			return
		}

		var frame pusherFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug().Err(err).Msg("dropping malformed pusher frame")
			continue
		}

		switch frame.Event {
		case pusherPing:
			if err := c.send(pusherFrame{Event: pusherPong, Data: json.RawMessage("{}")}); err != nil {
				log.Warn().Err(err).Msg("pusher pong failed")
			}
		case pusherSubscriptionSucceeded:
			c.resolve(frame.Channel, nil)
		case pusherSubscriptionError:
			c.resolve(frame.Channel, fmt.Errorf("subscription to %s rejected: %s", frame.Channel, string(frameData(frame.Data))))
		case pusherError:
			log.Warn().RawJSON("data", frameData(frame.Data)).Msg("pusher error")
		default:
			if strings.HasPrefix(frame.Event, "pusher") {
				continue
			}
			c.deliver(frame)
		}
	}
}

func (c *pusherConn) deliver(frame pusherFrame) {
	c.mu.Lock()
	sub, ok := c.subs[frame.Channel]
	c.mu.Unlock()
	if !ok {
		return
	}
	sub.deliver(Message{
		Channel: sub.channel,
		Event:   frame.Event,
		Data:    frameData(frame.Data),
	})
}

type pusherSubscription struct {
	conn    *pusherConn
	channel string
	name    string

	mu     sync.Mutex
	msgs   chan Message
	closed bool
}

func (s *pusherSubscription) Channel() string {
	return s.channel
}

func (s *pusherSubscription) Messages() <-chan Message {
	return s.msgs
}

func (s *pusherSubscription) Leave() error {
	s.conn.drop(s.name)
	select {
	case <-s.conn.done:
		return nil
	default:
	}
	data, _ := json.Marshal(map[string]string{"channel": s.name})
	return s.conn.send(pusherFrame{Event: pusherUnsubscribe, Data: data})
}

func (s *pusherSubscription) deliver(msg Message) {
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

func (s *pusherSubscription) closeMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.msgs)
	}
}
