package sse

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, opts Options) (*Session, *httptest.ResponseRecorder) {
	t.Helper()

	rec := httptest.NewRecorder()
	session, err := NewSession(rec, nil, opts)
	require.NoError(t, err)
	t.Cleanup(session.Close)

	return session, rec
}

func records(rec *httptest.ResponseRecorder) int {
	return strings.Count(rec.Body.String(), "\n\n")
}

func TestSessionConstruction(t *testing.T) {
	t.Run("headers before any record", func(t *testing.T) {
		session, rec := newTestSession(t, Options{ID: "boot", Retry: 3000})

		assert.True(t, rec.Flushed)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
		assert.Equal(t, "3000", rec.Header().Get("Retry"))

		require.True(t, strings.HasPrefix(rec.Body.String(), ": boot\n\n"))

		require.NoError(t, session.Send(map[string]string{"message": "hi"}))
		assert.Equal(t, 2, records(rec))
	})

	t.Run("no retry header by default", func(t *testing.T) {
		_, rec := newTestSession(t, Options{})
		assert.Empty(t, rec.Header().Get("Retry"))
	})

	t.Run("identity", func(t *testing.T) {
		s1, _ := newTestSession(t, Options{})
		s2, _ := newTestSession(t, Options{})
		require.NotEmpty(t, s1.ID())
		require.NotEqual(t, s1.ID(), s2.ID())
	})
}

func TestSendDispatch(t *testing.T) {
	t.Run("untyped always delivered", func(t *testing.T) {
		session, rec := newTestSession(t, Options{})
		require.NoError(t, session.Send(map[string]string{"message": "hi"}))
		assert.Equal(t, 1, records(rec))
	})

	t.Run("typed only when subscribed", func(t *testing.T) {
		session, rec := newTestSession(t, Options{})

		require.NoError(t, session.Send("a", WithEvent("ticker")))
		assert.Equal(t, 0, records(rec))

		session.Subscribe("ticker")
		require.NoError(t, session.Send("b", WithEvent("ticker")))
		assert.Equal(t, 1, records(rec))
		assert.Contains(t, rec.Body.String(), "event: ticker\n")

		session.Unsubscribe("ticker")
		require.NoError(t, session.Send("c", WithEvent("ticker")))
		assert.Equal(t, 1, records(rec))
	})

	t.Run("field order", func(t *testing.T) {
		session, rec := newTestSession(t, Options{})
		session.Subscribe("x")

		require.NoError(t, session.Send(
			map[string]string{"message": "hi"},
			WithEvent("x"),
			WithID("7"),
			WithRetry(1500),
			WithEventID("e9"),
		))

		assert.Equal(t,
			"event: x\nid: 7\ndata: {\"message\":\"hi\"}\nretry: 1500\neventId: e9\n\n",
			rec.Body.String(),
		)
	})

	t.Run("unserializable payload", func(t *testing.T) {
		session, rec := newTestSession(t, Options{})

		err := session.Send(make(chan int))
		require.Error(t, err)
		assert.Empty(t, rec.Body.String())
	})

	t.Run("small buffer still writes whole records", func(t *testing.T) {
		session, rec := newTestSession(t, Options{BufferSize: 1})

		require.NoError(t, session.Send("a"))
		require.NoError(t, session.Send("b"))
		assert.Equal(t, "data: \"a\"\n\ndata: \"b\"\n\n", rec.Body.String())
	})
}

func TestThrottle(t *testing.T) {
	session, rec := newTestSession(t, Options{Throttle: 100 * time.Millisecond})

	require.NoError(t, session.Send("a"))
	require.NoError(t, session.Send("b"))
	assert.Equal(t, 1, records(rec))

	time.Sleep(120 * time.Millisecond)

	require.NoError(t, session.Send("c"))
	assert.Equal(t, 2, records(rec))
}

func TestRateCeiling(t *testing.T) {
	session, rec := newTestSession(t, Options{MaxRequestsPerSecond: 2})
	session.rateWindow = 50 * time.Millisecond

	require.NoError(t, session.Send("a"))
	require.NoError(t, session.Send("b"))
	require.NoError(t, session.Send("c"))
	assert.Equal(t, 2, records(rec))

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, session.Send("d"))
	assert.Equal(t, 3, records(rec))
}

func TestSubscriptionPruning(t *testing.T) {
	session, _ := newTestSession(t, Options{})

	assert.False(t, session.subs.registered(session.ID()))

	session.Subscribe("a")
	session.Subscribe("b")
	assert.True(t, session.subs.registered(session.ID()))

	session.Unsubscribe("a")
	assert.True(t, session.subs.registered(session.ID()))

	session.Unsubscribe("b")
	assert.False(t, session.subs.registered(session.ID()))
}

func TestAcknowledgement(t *testing.T) {
	t.Run("send auto-acks", func(t *testing.T) {
		session, _ := newTestSession(t, Options{})

		require.NoError(t, session.Send("a", WithEventID("e1")))
		assert.True(t, session.Acknowledged("e1"))
	})

	t.Run("acknowledge never creates entries", func(t *testing.T) {
		session, _ := newTestSession(t, Options{})

		session.Acknowledge("ghost")
		assert.False(t, session.Acknowledged("ghost"))
	})

	t.Run("capacity evicts oldest", func(t *testing.T) {
		session, _ := newTestSession(t, Options{AckCapacity: 2})

		require.NoError(t, session.Send("1", WithEventID("a")))
		require.NoError(t, session.Send("2", WithEventID("b")))
		require.NoError(t, session.Send("3", WithEventID("c")))

		assert.False(t, session.Acknowledged("a"))
		assert.True(t, session.Acknowledged("b"))
		assert.True(t, session.Acknowledged("c"))
	})
}

func TestHeartbeat(t *testing.T) {
	var beats int64

	session, rec := newTestSession(t, Options{
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatFunc:     func() { atomic.AddInt64(&beats, 1) },
		Throttle:          time.Hour, // heartbeats are not throttled
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&beats) >= 2
	}, time.Second, 5*time.Millisecond)

	session.Close()
	assert.Contains(t, rec.Body.String(), ": heartbeat\n\n")

	seen := atomic.LoadInt64(&beats)
	body := rec.Body.Len()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, seen, atomic.LoadInt64(&beats))
	assert.Equal(t, body, rec.Body.Len())
}

func TestClose(t *testing.T) {
	t.Run("onClose runs once", func(t *testing.T) {
		var closes int64

		rec := httptest.NewRecorder()
		closed := make(chan struct{})
		session, err := NewSession(rec, closed, Options{
			OnClose: func() { atomic.AddInt64(&closes, 1) },
		})
		require.NoError(t, err)

		close(closed)

		require.Eventually(t, func() bool {
			return atomic.LoadInt64(&closes) == 1
		}, time.Second, 5*time.Millisecond)

		session.Close()
		session.Close()
		assert.Equal(t, int64(1), atomic.LoadInt64(&closes))
	})

	t.Run("writes after close are no-ops", func(t *testing.T) {
		session, rec := newTestSession(t, Options{})
		session.Close()

		require.NoError(t, session.Send("late"))
		session.Comment("late")
		assert.Empty(t, rec.Body.String())
	})

	t.Run("pending rate reset is cancelled", func(t *testing.T) {
		session, _ := newTestSession(t, Options{MaxRequestsPerSecond: 1})

		require.NoError(t, session.Send("a"))
		session.mu.Lock()
		timer := session.rateReset
		session.mu.Unlock()
		require.NotNil(t, timer)

		session.Close()

		session.mu.Lock()
		defer session.mu.Unlock()
		assert.Nil(t, session.rateReset)
	})
}

func TestCommentBypassesPolicy(t *testing.T) {
	session, rec := newTestSession(t, Options{Throttle: time.Hour, MaxRequestsPerSecond: 1})

	require.NoError(t, session.Send("a"))
	session.Comment("still here")
	session.Comment("and again")

	assert.Equal(t, 3, records(rec))
	assert.Contains(t, rec.Body.String(), ": still here\n\n")
}

func TestRecordRoundTrip(t *testing.T) {
	session, rec := newTestSession(t, Options{})

	require.NoError(t, session.Send(map[string]string{"message": "hi"}))

	var data string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, data)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(data), &decoded))
	assert.Equal(t, map[string]string{"message": "hi"}, decoded)
}
