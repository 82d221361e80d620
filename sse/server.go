package sse

import (
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

// Server keeps the sessions of one process: the session registry, the
// subscription map they share, and the HTTP handler that turns an incoming
// request into a stream.
type Server struct {
	opts   Options
	logger zerolog.Logger

	// NewSessionHandler runs after a session is registered, before the
	// handler starts blocking on the connection.
	NewSessionHandler func(id string, session *Session)

	// CloseSessionHandler runs after a session has been closed and removed.
	CloseSessionHandler func(id string, session *Session)

	mu       sync.RWMutex
	sessions map[string]*Session
	subs     *subscriptions
}

// NewServer returns a server whose sessions are constructed with opts.
func NewServer(opts Options, logger zerolog.Logger) *Server {
	return &Server{
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session),
		subs:     newSubscriptions(),
	}
}

// HandleFunc returns the httprouter handler serving one session per request.
// It blocks until the session shuts down.
func (s *Server) HandleFunc() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		session, err := s.Open(w, r.Context().Done())
		if err != nil {
			s.logger.Error().Err(err).Msg("open session")
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		if s.NewSessionHandler != nil {
			s.NewSessionHandler(session.ID(), session)
		}

		<-session.Done()

		if s.CloseSessionHandler != nil {
			s.CloseSessionHandler(session.ID(), session)
		}
	}
}

// Open constructs a session bound to w and registers it.
func (s *Server) Open(w http.ResponseWriter, closed <-chan struct{}) (*Session, error) {
	session, err := newSession(w, closed, s.opts, s.subs, s.remove, s.logger)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[session.id] = session
	total := len(s.sessions)
	s.mu.Unlock()

	s.logger.Debug().Str("session_id", session.id).Int("sessions", total).Msg("session registered")

	return session, nil
}

// remove is the session's evict hook; it reports whether the session was
// still registered.
func (s *Server) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Get returns the session with the given id.
func (s *Server) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Len returns the number of connected sessions.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close shuts down every connected session.
func (s *Server) Close() {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	for _, session := range sessions {
		session.Close()
	}
}
