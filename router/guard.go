package router

import (
	"context"
	"fmt"
	"log/slog"

	"lds.li/ucoclient/session"
)

var baseLogAttr = slog.String("component", "router")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

// SessionExpiredMessage is shown when a protected navigation finds a session
// whose token can no longer be obtained.
const SessionExpiredMessage = "Tu sesión ha expirado. Por favor inicia sesión nuevamente."

// State is a step of the guard's evaluation of one navigation.
type State int

const (
	StateIdle State = iota
	StateWaitingForSessionInit
	StateCheckingAuth
	StateCheckingRoles
	StateAllowed
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForSessionInit:
		return "waiting-for-session-init"
	case StateCheckingAuth:
		return "checking-auth"
	case StateCheckingRoles:
		return "checking-roles"
	case StateAllowed:
		return "allowed"
	case StateDenied:
		return "denied"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Decision is the outcome of a guard check.
type Decision struct {
	// State is StateAllowed or StateDenied.
	State State
	// Redirect is the path to navigate to instead. Empty on a denial means
	// the navigation is cancelled, for example because the user agent has
	// been sent to the identity provider.
	Redirect string
	// Reason describes a denial.
	Reason string
}

func (d Decision) Allowed() bool { return d.State == StateAllowed }

// Session is the session state the guard consults. *session.Manager
// implements it.
type Session interface {
	Initialized() <-chan struct{}
	IsAuthenticated() bool
	Token() (string, bool)
	FetchAndSetToken(ctx context.Context, opts ...session.FetchOption) (string, error)
	HasAnyRole(names ...string) bool
	Clear(ctx context.Context) error
	Login(ctx context.Context, returnTo string) error
}

var _ Session = (*session.Manager)(nil)

// Notifier shows a message to the user.
type Notifier interface {
	Warning(message string) string
}

// Guard decides whether a navigation may complete.
type Guard struct {
	Session Session
	// Notifier is told when the session expired. Optional.
	Notifier Notifier
	// HomePath is where denied navigations are sent. Defaults to "/".
	HomePath string
	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State)
}

// Check evaluates a navigation to route, reached via fullPath (path plus
// query). It blocks until the session has finished initializing. The error
// is non-nil only when starting a login failed or ctx ended while waiting.
func (g *Guard) Check(ctx context.Context, route Route, fullPath string) (Decision, error) {
	st := StateIdle

	ready := g.Session.Initialized()
	select {
	case <-ready:
	default:
		st = g.move(st, StateWaitingForSessionInit)
		select {
		case <-ready:
		case <-ctx.Done():
			return g.deny(st, "", "navigation abandoned"), ctx.Err()
		}
	}
	st = g.move(st, StateCheckingAuth)

	if !route.RequiresAuth {
		return g.allow(st), nil
	}

	if !g.Session.IsAuthenticated() {
		d := g.deny(st, "", "login required")
		if err := g.Session.Login(ctx, fullPath); err != nil {
			return d, fmt.Errorf("starting login: %w", err)
		}
		return d, nil
	}

	if _, ok := g.Session.Token(); !ok {
		if _, err := g.Session.FetchAndSetToken(ctx); err != nil {
			slog.WarnContext(ctx, "Session token unavailable, clearing session", baseLogAttr, slog.String("route", route.Name), errAttr(err))
			if cerr := g.Session.Clear(ctx); cerr != nil {
				slog.ErrorContext(ctx, "Clearing session failed", baseLogAttr, errAttr(cerr))
			}
			if g.Notifier != nil {
				g.Notifier.Warning(SessionExpiredMessage)
			}
			return g.deny(st, g.home(), "session expired"), nil
		}
	}

	if len(route.Roles) > 0 {
		st = g.move(st, StateCheckingRoles)
		if !g.Session.HasAnyRole(route.Roles...) {
			slog.InfoContext(ctx, "Navigation denied by role", baseLogAttr, slog.String("route", route.Name), slog.Any("roles", route.Roles))
			return g.deny(st, g.home(), "insufficient role"), nil
		}
	}
	return g.allow(st), nil
}

func (g *Guard) move(from, to State) State {
	if g.OnTransition != nil {
		g.OnTransition(from, to)
	}
	return to
}

func (g *Guard) allow(from State) Decision {
	return Decision{State: g.move(from, StateAllowed)}
}

func (g *Guard) deny(from State, redirect, reason string) Decision {
	return Decision{State: g.move(from, StateDenied), Redirect: redirect, Reason: reason}
}

func (g *Guard) home() string {
	if g.HomePath == "" {
		return "/"
	}
	return g.HomePath
}
