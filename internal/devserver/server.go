package devserver

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultPingInterval = 30 * time.Second

// session is one connected push-channel client. The write mutex covers
// pings and bundle pushes, which come from different goroutines.
type session struct {
	id   uuid.UUID
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) write(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Server serves the current program bundle over plain GET at /bundle and
// pushes replacements to websocket subscribers at /ws. It accepts loopback
// callers only: the development server is never meant to be reachable off
// the local machine.
type Server struct {
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration

	mu       sync.Mutex
	bundle   string
	sessions map[uuid.UUID]*session
	closed   bool
}

// NewServer returns a server seeded with the initial bundle. logger may be
// nil.
func NewServer(bundle string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:       logger.With("component", "devserver"),
		bundle:       bundle,
		sessions:     make(map[uuid.UUID]*session),
		pingInterval: defaultPingInterval,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: loopbackOrigin}
	return s
}

// SetPingInterval overrides the keep-alive interval. Intended for tests.
func (s *Server) SetPingInterval(d time.Duration) {
	s.pingInterval = d
}

// ServeHTTP routes /bundle and /ws.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !loopbackAddr(r.RemoteAddr) {
		s.logger.Warn("rejecting non-loopback caller", "remoteAddr", r.RemoteAddr)
		http.Error(w, "development server accepts loopback connections only", http.StatusForbidden)
		return
	}
	switch r.URL.Path {
	case "/bundle":
		s.serveBundle(w, r)
	case "/ws":
		s.serveWS(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveBundle(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	bundle := s.bundle
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/javascript")
	_, _ = w.Write([]byte(bundle))
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	sess := &session{id: uuid.New(), conn: conn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.logger.Info("push-channel subscriber connected", "session", sess.id)

	go s.keepAlive(sess)
	go s.drain(sess)
}

// drain consumes subscriber messages (pong replies) until the connection
// drops, then unregisters the session.
func (s *Server) drain(sess *session) {
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		_ = sess.conn.Close()
		s.logger.Info("push-channel subscriber gone", "session", sess.id)
	}()
	for {
		var msg Message
		if err := sess.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != TypePong {
			s.logger.Debug("unexpected subscriber message", "type", msg.Type, "session", sess.id)
		}
	}
}

// keepAlive pings the subscriber until the session disappears.
func (s *Server) keepAlive(sess *session) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		_, live := s.sessions[sess.id]
		s.mu.Unlock()
		if !live {
			return
		}
		if err := sess.write(Message{Type: TypePing}); err != nil {
			return
		}
	}
}

// Push replaces the served bundle and broadcasts it to every subscriber.
func (s *Server) Push(bundle string) {
	s.mu.Lock()
	s.bundle = bundle
	targets := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		targets = append(targets, sess)
	}
	s.mu.Unlock()

	for _, sess := range targets {
		if err := sess.write(Message{Type: TypeBundle, Bundle: bundle}); err != nil {
			s.logger.Warn("failed to push bundle", "session", sess.id, "error", err)
		}
	}
}

// Close disconnects all subscribers. Idempotent.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	targets := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		targets = append(targets, sess)
	}
	s.sessions = make(map[uuid.UUID]*session)
	s.mu.Unlock()
	for _, sess := range targets {
		_ = sess.conn.Close()
	}
}

// loopbackAddr reports whether remoteAddr resolves to a loopback IP.
func loopbackAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// loopbackOrigin accepts requests with no Origin header (non-browser
// clients) or a loopback origin.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
