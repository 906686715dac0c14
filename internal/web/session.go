package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"bi-workers/internal/form"
)

const sessionCookieName = "bi_session"

// Toast kinds.
const (
	ToastSuccess = "success"
	ToastError   = "error"
)

type Toast struct {
	Kind    string
	Message string
}

// Toasts is a per-session flash queue; it implements form.Notifier.
type Toasts struct {
	mu    sync.Mutex
	items []Toast
}

func (t *Toasts) Success(msg string) { t.push(ToastSuccess, msg) }
func (t *Toasts) Error(msg string)   { t.push(ToastError, msg) }

func (t *Toasts) push(kind, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, Toast{Kind: kind, Message: msg})
}

// Drain returns and forgets the pending toasts.
func (t *Toasts) Drain() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := t.items
	t.items = nil
	return items
}

// FormValues are the last entered field values, kept so a re-rendered page
// shows what the user typed.
type FormValues struct {
	Goal      string
	Name      string
	ChartType string
}

// Session is one browser's form instance plus its toasts.
type Session struct {
	ID     string
	Form   *form.Controller
	Toasts *Toasts

	mu       sync.Mutex
	values   map[string]FormValues
	lastSeen time.Time
}

func (s *Session) Values(page string) FormValues {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[page]
}

func (s *Session) SetValues(page string, v FormValues) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[page] = v
}

// Reset clears the entered fields of page but leaves results alone.
func (s *Session) Reset(page string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, page)
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Sessions maps the session cookie to a Session.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	newForm  func(sessionID string, notify form.Notifier) *form.Controller
	now      func() time.Time
}

func NewSessions(newForm func(sessionID string, notify form.Notifier) *form.Controller) *Sessions {
	return &Sessions{
		sessions: make(map[string]*Session),
		newForm:  newForm,
		now:      time.Now,
	}
}

// Get returns the caller's session, creating it and setting the cookie when
// the request carries none or an unknown id.
func (s *Sessions) Get(w http.ResponseWriter, r *http.Request) *Session {
	id := ""
	if c, err := r.Cookie(sessionCookieName); err == nil {
		id = c.Value
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		toasts := &Toasts{}
		sess = &Session{
			ID:     id,
			Toasts: toasts,
			values: make(map[string]FormValues),
		}
		sess.Form = s.newForm(id, toasts)
		s.sessions[id] = sess

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	s.mu.Unlock()

	sess.touch(s.now())
	return sess
}

// Sweep drops sessions idle for longer than maxIdle that are not submitting.
// It returns the number removed.
func (s *Sessions) Sweep(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.idleSince().Before(cutoff) && sess.Form.State() == form.StateIdle {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
