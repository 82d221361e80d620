// Package bus routes published events into the local server's sessions: per
// user, per session, through the channel filters each session subscribed.
package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/strimo-org/strimo/pkg/client"
	"github.com/strimo-org/strimo/sse"
	"github.com/strimo-org/strimo/topic"
)

// Server-owned lifecycle channel and its event names.
const (
	SessionChannel = "$SYS/session"

	SessionCreated      = "created"
	SessionSubscribed   = "subscribed"
	SessionUnsubscribed = "unsubscribed"
)

// SubscribeEvent is the payload of subscribed/unsubscribed control events.
type SubscribeEvent struct {
	SessionID string       `mapstructure:"session_id" json:"session_id"`
	Filter    topic.Filter `mapstructure:"filter" json:"filter"`
}

// Envelope is the JSON shape a session receives on its data line.
type Envelope struct {
	Channel  string `json:"channel"`
	Name     string `json:"name"`
	Data     any    `json:"data"`
	Metadata any    `json:"metadata,omitempty"`
}

// Bus keeps the routing registry: userID -> sessionID -> filters, plus the
// reverse sessionID -> userID index used to tear entries down on close.
type Bus struct {
	server *sse.Server
	logger zerolog.Logger

	mu            sync.RWMutex
	subscriptions map[string]map[string]*subscription
	users         map[string]string
}

func New(server *sse.Server, logger zerolog.Logger) *Bus {
	return &Bus{
		server:        server,
		logger:        logger,
		subscriptions: make(map[string]map[string]*subscription),
		users:         make(map[string]string),
	}
}

// Subscribe installs filter for the user's session. A session that changes
// hands is unbound from its previous user first.
func (b *Bus) Subscribe(userID, sessionID string, filter *topic.Filter) {
	session, ok := b.server.Get(sessionID)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscriptions[userID]; !ok {
		b.subscriptions[userID] = make(map[string]*subscription)
	}

	if prev, bound := b.users[sessionID]; !bound || prev != userID {
		if bound {
			delete(b.subscriptions[prev], sessionID)
			if len(b.subscriptions[prev]) == 0 {
				delete(b.subscriptions, prev)
			}
		}

		b.users[sessionID] = userID
		b.subscriptions[userID][sessionID] = &subscription{
			session: session,
			filters: make(map[string]*topic.Filter),
		}
	}

	b.subscriptions[userID][sessionID].add(filter)
}

// Unsubscribe removes filter; the session's registry entry goes away with
// its last filter so no empty sets linger.
func (b *Bus) Unsubscribe(userID, sessionID string, filter *topic.Filter) {
	if _, ok := b.server.Get(sessionID); !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sessions, ok := b.subscriptions[userID]
	if !ok {
		return
	}

	sub, ok := sessions[sessionID]
	if !ok {
		return
	}

	if sub.remove(filter) == 0 {
		delete(sessions, sessionID)
		delete(b.users, sessionID)
		if len(sessions) == 0 {
			delete(b.subscriptions, userID)
		}
	}
}

// Drop removes every registry entry of a closed session.
func (b *Bus) Drop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	userID, ok := b.users[sessionID]
	if !ok {
		return
	}

	delete(b.users, sessionID)
	delete(b.subscriptions[userID], sessionID)

	if len(b.subscriptions[userID]) == 0 {
		delete(b.subscriptions, userID)
	}
}

// Publish fans event out to the user's sessions whose filters match the
// event's channel.
func (b *Bus) Publish(event *client.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sessions, ok := b.subscriptions[event.UserID]
	if !ok {
		return
	}

	for _, sub := range sessions {
		sub.deliver(event, b.logger)
	}
}

type subscription struct {
	mu      sync.RWMutex
	filters map[string]*topic.Filter
	session *sse.Session
}

func (s *subscription) add(filter *topic.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters[filter.Value] = filter
}

func (s *subscription) remove(filter *topic.Filter) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.filters, filter.Value)
	return len(s.filters)
}

// deliver writes the event once if any installed filter matches its channel.
func (s *subscription) deliver(event *client.Event, logger zerolog.Logger) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, filter := range s.filters {
		if !filter.Match(event.Channel) {
			continue
		}

		var opts []sse.SendOption
		if event.EventID != "" {
			opts = append(opts, sse.WithEventID(event.EventID))
		}

		err := s.session.Send(Envelope{
			Channel:  event.Channel.Value,
			Name:     event.Name,
			Data:     event.Data,
			Metadata: event.Metadata,
		}, opts...)
		if err != nil {
			logger.Warn().Err(err).Str("channel", event.Channel.Value).Msg("deliver event")
		}
		return
	}
}
