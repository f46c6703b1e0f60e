// Package realtime keeps one push subscription per match and routes its clock and
// event messages into the control room.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

const (
	// EventClockUpdated carries {match_id, current_seconds, is_running, duration}.
	EventClockUpdated = "MatchTimeUpdated"
	// EventCreated carries one event, or an array of events.
	EventCreated = "MatchEventCreated"

	channelPrefix = "matches."
)

var (
	ErrConnectionClosed   = errors.New("realtime connection closed")
	ErrMissingCredentials = errors.New("realtime credentials are not configured")
)

// Message is one push message received on a channel.
type Message struct {
	Channel string
	Event   string
	Data    json.RawMessage
}

// Transport establishes connections to a push service.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is an established push connection shared by all subscriptions.
type Conn interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}
	Close() error
}

// Subscription is a joined channel. Messages is closed after Leave or when the
// connection drops.
type Subscription interface {
	Channel() string
	Messages() <-chan Message
	Leave() error
}

// ChannelName names the push channel of a match.
func ChannelName(matchID string) string {
	return channelPrefix + matchID
}

// eventKind strips namespaces from broadcast event names, so
// ".MatchTimeUpdated" and `App\Events\MatchTimeUpdated` both read as
// MatchTimeUpdated.
func eventKind(name string) string {
	if i := strings.LastIndexAny(name, `.\`); i >= 0 {
		return name[i+1:]
	}
	return name
}
