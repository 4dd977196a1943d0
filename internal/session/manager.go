// Package session owns the authenticated-user lifecycle: restore on launch,
// sign-in, sign-up and sign-out.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"digigold/internal/api"
	"digigold/internal/store"
)

// State is the session lifecycle state.
type State int

const (
	// StateUnknown holds until the first restore completes. No routing
	// decision may be made while in it.
	StateUnknown State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Manager owns the session record and exposes the current identity to the
// rest of the app. It is injected explicitly into consumers; there is no
// ambient global session.
type Manager struct {
	logger  *slog.Logger
	store   store.Store
	backend *api.Client

	mu      sync.Mutex
	state   State
	current *store.Session
	subs    []func(State)

	readyOnce sync.Once
	ready     chan struct{}
}

// NewManager constructs a session manager in the Unknown state.
func NewManager(st store.Store, backend *api.Client, logger *slog.Logger) *Manager {
	return &Manager{
		logger:  logger.With("component", "session"),
		store:   st,
		backend: backend,
		state:   StateUnknown,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the initial restore has completed, successfully or
// not. Consumers block on it instead of polling the state.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Restore loads the stored session on process start. A missing record means
// unauthenticated; a store failure is logged and also treated as
// unauthenticated so the app still reaches a usable state.
func (m *Manager) Restore(ctx context.Context) error {
	defer m.readyOnce.Do(func() { close(m.ready) })

	sess, err := m.store.LoadSession(ctx)
	if err != nil {
		m.logger.Error("session restore failed", "error", err)
		m.setState(StateUnauthenticated, nil)
		return err
	}
	if sess == nil {
		m.setState(StateUnauthenticated, nil)
		return nil
	}

	m.logger.Info("session restored", "phone", sess.PhoneNumber)
	m.setState(StateAuthenticated, sess)
	return nil
}

// SignIn authenticates against the backend and persists the session. On any
// failure the state remains unauthenticated and the error keeps its kind so
// callers can distinguish bad credentials from transport trouble.
func (m *Manager) SignIn(ctx context.Context, phone, password string) error {
	payload, err := m.backend.Login(ctx, phone, password)
	if err != nil {
		return err
	}

	sess := store.Session{
		PhoneNumber: payload.PhoneNumber,
		AuthToken:   payload.AuthToken,
		Raw:         payload.Raw,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return err
	}

	m.logger.Info("signed in", "phone", sess.PhoneNumber)
	m.setState(StateAuthenticated, &sess)
	return nil
}

// SignUp registers a new account. It does not sign the user in; the caller
// proceeds to SignIn with the new credentials.
func (m *Manager) SignUp(ctx context.Context, in api.RegisterInput) error {
	if err := in.Validate(); err != nil {
		return err
	}

	check, err := m.backend.CheckUser(ctx, in.Email, in.PhoneNumber)
	if err != nil {
		return err
	}
	if check.EmailExists {
		return api.ValidationError("An account with this email already exists")
	}
	if check.PhoneExists {
		return api.ValidationError("An account with this phone number already exists")
	}

	return m.backend.RegisterUser(ctx, in)
}

// SignOut clears the stored session and transitions to unauthenticated. It
// is local-first: no server round trip, and a store failure is logged
// without blocking the transition, so sign-out cannot fail.
func (m *Manager) SignOut(ctx context.Context) {
	if err := m.store.ClearSession(ctx); err != nil {
		m.logger.Error("clearing session record failed", "error", err)
	}
	m.logger.Info("signed out")
	m.setState(StateUnauthenticated, nil)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns a copy of the active session, or nil.
func (m *Manager) Current() *store.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	sess := *m.current
	return &sess
}

// Phone returns the resolved phone-number identity, or "" when signed out.
func (m *Manager) Phone() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.PhoneNumber
}

// Subscribe registers a listener invoked on every state transition.
func (m *Manager) Subscribe(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

func (m *Manager) setState(state State, sess *store.Session) {
	m.mu.Lock()
	m.state = state
	m.current = sess
	subs := make([]func(State), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}
