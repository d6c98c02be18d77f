package proxy

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"searchveil/internal/config"
	"searchveil/shield"
)

const sessionCookieName = "searchveil_session"

// session is the server-side state behind the session cookie. Key is the
// master key for every token handed to this client.
type session struct {
	ID        string
	Key       []byte
	Settings  config.Settings
	ExpiresAt time.Time
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]session
	ttl      time.Duration
	clock    func() time.Time
	defaults config.Settings
	secure   bool
}

func newSessionStore(ttl time.Duration, defaults config.Settings, clock func() time.Time) *sessionStore {
	if clock == nil {
		clock = time.Now
	}
	return &sessionStore{
		sessions: make(map[string]session),
		ttl:      ttl,
		clock:    clock,
		defaults: defaults,
	}
}

// get returns a copy of the session id, refreshing its expiry.
func (s *sessionStore) get(id string) (session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session{}, false
	}
	now := s.clock()
	if now.After(sess.ExpiresAt) {
		delete(s.sessions, id)
		return session{}, false
	}
	sess.ExpiresAt = now.Add(s.ttl)
	s.sessions[id] = sess
	return sess.clone(), true
}

func (s *sessionStore) create() (session, error) {
	key, err := shield.NewKey()
	if err != nil {
		return session{}, err
	}
	sess := session{
		ID:        uuid.NewString(),
		Key:       key,
		Settings:  s.defaults,
		ExpiresAt: s.clock().Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess.clone(), nil
}

// ensure returns the session named by the request cookie or a new one.
// created is true when the caller must set the cookie.
func (s *sessionStore) ensure(r *http.Request) (sess session, created bool, err error) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if id := strings.TrimSpace(c.Value); id != "" {
			if sess, ok := s.get(id); ok {
				return sess, false, nil
			}
		}
	}
	sess, err = s.create()
	return sess, err == nil, err
}

func (s *sessionStore) updateSettings(id string, settings config.Settings) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Settings = settings
	sess.ExpiresAt = s.clock().Add(s.ttl)
	s.sessions[id] = sess
	return true
}

// sweep drops expired sessions and returns how many were removed.
func (s *sessionStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	n := 0
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *sessionStore) cookieFor(sess session) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	}
}

func (sess session) clone() session {
	sess.Key = bytes.Clone(sess.Key)
	return sess
}
