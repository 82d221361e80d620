package bus

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strimo-org/strimo/pkg/client"
	"github.com/strimo-org/strimo/sse"
	"github.com/strimo-org/strimo/topic"
)

func newTestBus(t *testing.T) (*Bus, *sse.Server) {
	t.Helper()

	server := sse.NewServer(sse.Options{}, zerolog.Nop())
	t.Cleanup(server.Close)

	return New(server, zerolog.Nop()), server
}

func openSession(t *testing.T, server *sse.Server) (*sse.Session, *httptest.ResponseRecorder) {
	t.Helper()

	rec := httptest.NewRecorder()
	session, err := server.Open(rec, nil)
	require.NoError(t, err)

	return session, rec
}

func event(t *testing.T, userID, channel, name string, data any) *client.Event {
	t.Helper()

	n, err := topic.NewName(channel)
	require.NoError(t, err)

	return &client.Event{UserID: userID, Channel: n, Name: name, Data: data}
}

func mustFilter(t *testing.T, value string) *topic.Filter {
	t.Helper()

	filter, err := topic.NewFilter(value)
	require.NoError(t, err)
	return filter
}

func TestBusPublish(t *testing.T) {
	bus, server := newTestBus(t)

	session, rec := openSession(t, server)
	other, otherRec := openSession(t, server)

	bus.Subscribe("u1", session.ID(), mustFilter(t, "news/#"))
	bus.Subscribe("u2", other.ID(), mustFilter(t, "news/#"))

	bus.Publish(event(t, "u1", "news/tech", "Created", map[string]string{"title": "hello"}))

	assert.Contains(t, rec.Body.String(), `"channel":"news/tech"`)
	assert.Contains(t, rec.Body.String(), `"title":"hello"`)
	assert.Empty(t, otherRec.Body.String())

	t.Run("non-matching channel is not delivered", func(t *testing.T) {
		before := rec.Body.Len()
		bus.Publish(event(t, "u1", "sport/tennis", "Created", nil))
		assert.Equal(t, before, rec.Body.Len())
	})

	t.Run("event id rides into the session ack table", func(t *testing.T) {
		ev := event(t, "u1", "news/tech", "Created", nil)
		ev.EventID = "e42"
		bus.Publish(ev)
		assert.True(t, session.Acknowledged("e42"))
	})
}

func TestBusUnsubscribe(t *testing.T) {
	bus, server := newTestBus(t)
	session, rec := openSession(t, server)

	bus.Subscribe("u1", session.ID(), mustFilter(t, "news/#"))
	bus.Subscribe("u1", session.ID(), mustFilter(t, "sport/+"))

	bus.Unsubscribe("u1", session.ID(), mustFilter(t, "news/#"))

	before := rec.Body.Len()
	bus.Publish(event(t, "u1", "news/tech", "Created", nil))
	assert.Equal(t, before, rec.Body.Len())

	bus.Publish(event(t, "u1", "sport/tennis", "Created", nil))
	assert.Greater(t, rec.Body.Len(), before)

	t.Run("last filter prunes the registry entry", func(t *testing.T) {
		bus.Unsubscribe("u1", session.ID(), mustFilter(t, "sport/+"))

		bus.mu.RLock()
		defer bus.mu.RUnlock()
		assert.NotContains(t, bus.users, session.ID())
		assert.NotContains(t, bus.subscriptions, "u1")
	})
}

func TestBusRebind(t *testing.T) {
	bus, server := newTestBus(t)
	session, _ := openSession(t, server)

	bus.Subscribe("u1", session.ID(), mustFilter(t, "news/#"))
	bus.Subscribe("u2", session.ID(), mustFilter(t, "sport/+"))

	bus.mu.RLock()
	assert.Equal(t, "u2", bus.users[session.ID()])
	assert.NotContains(t, bus.subscriptions, "u1")
	bus.mu.RUnlock()
}

func TestBusDrop(t *testing.T) {
	bus, server := newTestBus(t)
	session, rec := openSession(t, server)

	bus.Subscribe("u1", session.ID(), mustFilter(t, "news/#"))
	bus.Drop(session.ID())

	before := rec.Body.Len()
	bus.Publish(event(t, "u1", "news/tech", "Created", nil))
	assert.Equal(t, before, rec.Body.Len())

	bus.mu.RLock()
	defer bus.mu.RUnlock()
	assert.Empty(t, bus.users)
	assert.Empty(t, bus.subscriptions)
}

func TestFeedHandleControl(t *testing.T) {
	bus, server := newTestBus(t)
	feed := &Feed{bus: bus, logger: zerolog.Nop()}

	session, rec := openSession(t, server)

	control := event(t, "u1", SessionChannel, SessionSubscribed, map[string]any{
		"session_id": session.ID(),
		"filter":     map[string]any{"value": "news/#"},
	})
	feed.handleControl(control)

	bus.Publish(event(t, "u1", "news/tech", "Created", nil))
	assert.Contains(t, rec.Body.String(), `"channel":"news/tech"`)

	t.Run("typed notice only after listening", func(t *testing.T) {
		before := rec.Body.Len()
		feed.handleControl(control)
		assert.Equal(t, before, rec.Body.Len())

		session.Subscribe(SessionSubscribed)
		feed.handleControl(control)
		assert.Contains(t, rec.Body.String(), "event: subscribed\n")
	})

	t.Run("unsubscribed control removes routing", func(t *testing.T) {
		feed.handleControl(event(t, "u1", SessionChannel, SessionUnsubscribed, map[string]any{
			"session_id": session.ID(),
			"filter":     map[string]any{"value": "news/#"},
		}))

		before := rec.Body.Len()
		bus.Publish(event(t, "u1", "news/tech", "Created", nil))
		assert.Equal(t, before, rec.Body.Len())
	})
}
