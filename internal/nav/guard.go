// Package nav keeps the navigation state consistent with the session state:
// unauthenticated users never see protected routes and signed-in users never
// see the auth screens.
package nav

import (
	"log/slog"
	"sync"

	"digigold/internal/session"
)

// Route identifies a navigation target.
type Route string

const (
	RouteSignIn      Route = "/sign-in"
	RouteSignUp      Route = "/sign-up"
	RouteHome        Route = "/"
	RouteMySchemes   Route = "/my-schemes"
	RouteJoinSchemes Route = "/join-schemes"
	RoutePayments    Route = "/payments"
	RouteFeeds       Route = "/feeds"
	RouteSupport     Route = "/support"
)

var authRoutes = map[Route]bool{
	RouteSignIn: true,
	RouteSignUp: true,
}

var protectedRoutes = map[Route]bool{
	RouteHome:        true,
	RouteMySchemes:   true,
	RouteJoinSchemes: true,
	RoutePayments:    true,
	RouteFeeds:       true,
	RouteSupport:     true,
}

// Decide is the pure redirect rule. It returns the target route and whether
// a redirect is needed. While the session state is unknown no redirect ever
// happens; the check is cheap and idempotent, so it runs on every state and
// route change.
func Decide(state session.State, current Route) (Route, bool) {
	switch state {
	case session.StateUnauthenticated:
		if protectedRoutes[current] {
			return RouteSignIn, true
		}
	case session.StateAuthenticated:
		if authRoutes[current] {
			return RouteHome, true
		}
	}
	return current, false
}

// Guard re-evaluates Decide on every session transition and route change and
// invokes the redirect callback with the target.
type Guard struct {
	logger   *slog.Logger
	redirect func(Route)

	mu      sync.Mutex
	current Route
}

// NewGuard wires a guard to the session manager. The redirect callback
// performs the actual navigation.
func NewGuard(sessions *session.Manager, start Route, redirect func(Route), logger *slog.Logger) *Guard {
	g := &Guard{
		logger:   logger.With("component", "nav"),
		redirect: redirect,
		current:  start,
	}
	sessions.Subscribe(func(state session.State) {
		g.evaluate(state)
	})
	return g
}

// SetRoute records a route change and re-evaluates against the given state.
func (g *Guard) SetRoute(state session.State, route Route) {
	g.mu.Lock()
	g.current = route
	g.mu.Unlock()
	g.evaluate(state)
}

// Current returns the route the guard last settled on.
func (g *Guard) Current() Route {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func (g *Guard) evaluate(state session.State) {
	g.mu.Lock()
	target, redirect := Decide(state, g.current)
	if redirect {
		g.current = target
	}
	g.mu.Unlock()

	if redirect {
		g.logger.Debug("redirect", "state", state.String(), "to", string(target))
		if g.redirect != nil {
			g.redirect(target)
		}
	}
}
