package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socrefy/matchdesk/go/internal/matchcontrol/normalize"
	"github.com/socrefy/matchdesk/go/internal/models"
)

const waitFor = time.Second

type fakeTransport struct {
	dials   atomic.Int32
	dialErr error
	gate    chan struct{}
	conn    *fakeConn
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.dials.Add(1)
	if t.gate != nil {
		<-t.gate
	}
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	return t.conn, nil
}

type fakeConn struct {
	mu      sync.Mutex
	log     []string
	subs    map[string]*fakeSub
	gates   map[string]chan struct{}
	entered map[string]chan struct{}
	subErr  error
	done    chan struct{}
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		subs:    make(map[string]*fakeSub),
		gates:   make(map[string]chan struct{}),
		entered: make(map[string]chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) record(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, entry)
}

func (c *fakeConn) entries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

// gate blocks Subscribe on channel until release is closed; entered is closed
// once Subscribe is waiting.
func (c *fakeConn) gate(channel string) (release, entered chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	release, entered = make(chan struct{}), make(chan struct{})
	c.gates[channel] = release
	c.entered[channel] = entered
	return release, entered
}

func (c *fakeConn) sub(channel string) *fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[channel]
}

func (c *fakeConn) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	c.mu.Lock()
	g := c.gates[channel]
	entered := c.entered[channel]
	err := c.subErr
	c.mu.Unlock()
	if g != nil {
		close(entered)
		<-g
	}
	if err != nil {
		return nil, err
	}

	s := &fakeSub{conn: c, channel: channel, msgs: make(chan Message, 8)}
	c.mu.Lock()
	c.subs[channel] = s
	c.mu.Unlock()
	c.record("join " + channel)
	return s, nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

type fakeSub struct {
	conn    *fakeConn
	channel string
	msgs    chan Message
	once    sync.Once
	left    atomic.Bool
}

func (s *fakeSub) Channel() string          { return s.channel }
func (s *fakeSub) Messages() <-chan Message { return s.msgs }

func (s *fakeSub) Leave() error {
	s.once.Do(func() {
		s.left.Store(true)
		s.conn.record("leave " + s.channel)
		close(s.msgs)
	})
	return nil
}

func (s *fakeSub) push(event, data string) {
	s.msgs <- Message{Channel: s.channel, Event: event, Data: json.RawMessage(data)}
}

type recorder struct {
	mu     sync.Mutex
	clocks []models.ClockUpdate
	events [][]models.MatchEvent
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnClock: func(c models.ClockUpdate) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.clocks = append(r.clocks, c)
		},
		OnEvents: func(e []models.MatchEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, e)
		},
	}
}

func (r *recorder) clockCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clocks)
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func waitPhase(t *testing.T, m *Manager, phase Phase, matchID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := m.Status()
		return s.Phase == phase && s.MatchID == matchID
	}, waitFor, 5*time.Millisecond)
}

func TestConnectionSharesOneHandshake(t *testing.T) {
	transport := &fakeTransport{conn: newFakeConn(), gate: make(chan struct{})}
	conn := NewConnection(transport)

	var wg sync.WaitGroup
	results := make(chan Conn, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := conn.Init(context.Background())
			assert.NoError(t, err)
			results <- c
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(transport.gate)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), transport.dials.Load())
	for c := range results {
		assert.Same(t, transport.conn, c)
	}

	_, err := conn.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), transport.dials.Load())
}

func TestConnectionRetriesAfterFailure(t *testing.T) {
	transport := &fakeTransport{dialErr: errors.New("no credentials")}
	conn := NewConnection(transport)

	_, err := conn.Init(context.Background())
	require.Error(t, err)

	transport.dialErr = nil
	transport.conn = newFakeConn()
	c, err := conn.Init(context.Background())
	require.NoError(t, err)
	assert.Same(t, transport.conn, c)
	assert.Equal(t, int32(2), transport.dials.Load())
}

func TestConnectionRedialsAfterDrop(t *testing.T) {
	first := newFakeConn()
	transport := &fakeTransport{conn: first}
	conn := NewConnection(transport)

	_, err := conn.Init(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	transport.conn = newFakeConn()
	c, err := conn.Init(context.Background())
	require.NoError(t, err)
	assert.Same(t, transport.conn, c)
}

func TestConnectionTeardown(t *testing.T) {
	fc := newFakeConn()
	conn := NewConnection(&fakeTransport{conn: fc})
	_, err := conn.Init(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.Teardown())
	assert.True(t, fc.closed)

	_, err = conn.Init(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestManagerRoutesMessages(t *testing.T) {
	fc := newFakeConn()
	rec := &recorder{}
	m := NewManager(NewConnection(&fakeTransport{conn: fc}), rec.handlers(), func() normalize.Teams {
		return normalize.Teams{HomeID: "10"}
	})

	m.Subscribe(context.Background(), "42")
	waitPhase(t, m, PhaseConnected, "42")

	sub := fc.sub("matches.42")
	require.NotNil(t, sub)
	sub.push(".MatchTimeUpdated", `{"current_seconds": 1800, "is_running": false, "duration": 1800}`)
	sub.push(`App\Events\MatchEventCreated`, `[{"id": "e-1", "team_id": "10"}, {"id": "e-2"}]`)
	sub.push("MatchTimeUpdated", `{"is_running": true}`)
	sub.push("SomethingElse", `{}`)

	require.Eventually(t, func() bool { return rec.clockCount() == 1 && rec.eventCount() == 1 }, waitFor, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, models.ClockUpdate{MatchID: "42", CurrentSeconds: 1800, Duration: 1800}, rec.clocks[0])
	require.Len(t, rec.events[0], 2)
	assert.Equal(t, models.SideHome, rec.events[0][0].Team)
}

func TestManagerLeavesBeforeJoining(t *testing.T) {
	fc := newFakeConn()
	m := NewManager(NewConnection(&fakeTransport{conn: fc}), Handlers{}, nil)

	m.Subscribe(context.Background(), "a")
	waitPhase(t, m, PhaseConnected, "a")

	m.Subscribe(context.Background(), "b")
	waitPhase(t, m, PhaseConnected, "b")

	assert.Equal(t, []string{"join matches.a", "leave matches.a", "join matches.b"}, fc.entries())
}

func TestManagerSameMatchIsNoop(t *testing.T) {
	fc := newFakeConn()
	m := NewManager(NewConnection(&fakeTransport{conn: fc}), Handlers{}, nil)

	m.Subscribe(context.Background(), "a")
	waitPhase(t, m, PhaseConnected, "a")
	m.Subscribe(context.Background(), "a")

	assert.Equal(t, []string{"join matches.a"}, fc.entries())
}

func TestManagerDiscardsLateSubscription(t *testing.T) {
	fc := newFakeConn()
	gate, entered := fc.gate("matches.a")
	rec := &recorder{}
	m := NewManager(NewConnection(&fakeTransport{conn: fc}), rec.handlers(), nil)

	m.Subscribe(context.Background(), "a")
	assert.Equal(t, Status{Phase: PhaseConnecting, MatchID: "a"}, m.Status())
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("subscribe was never attempted")
	}

	m.Unsubscribe()
	assert.Equal(t, Status{Phase: PhaseDisconnected}, m.Status())

	close(gate)
	require.Eventually(t, func() bool {
		s := fc.sub("matches.a")
		return s != nil && s.left.Load()
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, Status{Phase: PhaseDisconnected}, m.Status())
}

func TestManagerStopsRoutingAfterUnsubscribe(t *testing.T) {
	fc := newFakeConn()
	rec := &recorder{}
	m := NewManager(NewConnection(&fakeTransport{conn: fc}), rec.handlers(), nil)

	m.Subscribe(context.Background(), "a")
	waitPhase(t, m, PhaseConnected, "a")
	sub := fc.sub("matches.a")

	m.Unsubscribe()
	assert.True(t, sub.left.Load())
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.clockCount())
}

func TestManagerDegradesWhenDialFails(t *testing.T) {
	var statuses []Status
	var mu sync.Mutex
	m := NewManager(NewConnection(&fakeTransport{dialErr: ErrMissingCredentials}), Handlers{
		OnStatus: func(s Status) {
			mu.Lock()
			defer mu.Unlock()
			statuses = append(statuses, s)
		},
	}, nil)

	m.Subscribe(context.Background(), "a")
	waitPhase(t, m, PhaseDisconnected, "a")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{
		{Phase: PhaseConnecting, MatchID: "a"},
		{Phase: PhaseDisconnected, MatchID: "a"},
	}, statuses)
}

func TestManagerWithoutConnectorStaysDisconnected(t *testing.T) {
	m := NewManager(nil, Handlers{}, nil)
	m.Subscribe(context.Background(), "a")
	assert.Equal(t, Status{Phase: PhaseDisconnected}, m.Status())
}

func TestManagerChannelLossDisconnects(t *testing.T) {
	fc := newFakeConn()
	m := NewManager(NewConnection(&fakeTransport{conn: fc}), Handlers{}, nil)

	m.Subscribe(context.Background(), "a")
	waitPhase(t, m, PhaseConnected, "a")

	require.NoError(t, fc.sub("matches.a").Leave())
	waitPhase(t, m, PhaseDisconnected, "a")
}
