package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// maxRedirects bounds how many guard redirects one navigation follows.
const maxRedirects = 3

// Router tracks the current view. Every navigation runs the Guard first. It
// implements apiclient.Navigator.
type Router struct {
	Table *Table
	Guard *Guard

	mu       sync.Mutex
	location string
	seq      uint64
}

// New returns a Router positioned at "/".
func New(table *Table, guard *Guard) *Router {
	return &Router{Table: table, Guard: guard, location: "/"}
}

// Navigate moves to fullPath if the guard allows it, following any redirect
// the guard issues. It returns the decision for fullPath itself. If another
// navigation starts while this one is being checked, this one is abandoned
// and the location is left to the newer one.
func (r *Router) Navigate(ctx context.Context, fullPath string) (Decision, error) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	return r.navigate(ctx, seq, fullPath)
}

func (r *Router) navigate(ctx context.Context, seq uint64, fullPath string) (Decision, error) {
	var first *Decision
	for hop := 0; ; hop++ {
		route, ok := r.Table.Match(fullPath)
		if !ok {
			return Decision{}, fmt.Errorf("%w: %s", ErrRouteNotFound, fullPath)
		}
		d, err := r.Guard.Check(ctx, route, fullPath)
		if first == nil {
			first = &d
		}
		if err != nil {
			return *first, err
		}

		r.mu.Lock()
		if r.seq != seq {
			r.mu.Unlock()
			slog.DebugContext(ctx, "Navigation superseded", baseLogAttr, slog.String("path", fullPath))
			return Decision{State: StateDenied, Reason: "superseded"}, nil
		}
		if d.Allowed() {
			r.location = fullPath
			r.mu.Unlock()
			return *first, nil
		}
		r.mu.Unlock()

		if d.Redirect == "" {
			return *first, nil
		}
		if hop >= maxRedirects {
			return *first, fmt.Errorf("too many redirects navigating to %s", fullPath)
		}
		fullPath = d.Redirect
	}
}

// Location returns the path of the current view.
func (r *Router) Location() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.location
}

// IsPublic reports whether path is a known route that needs no login.
func (r *Router) IsPublic(path string) bool {
	route, ok := r.Table.Match(path)
	return ok && !route.RequiresAuth
}

// Redirect navigates to path, discarding the decision.
func (r *Router) Redirect(ctx context.Context, path string) error {
	_, err := r.Navigate(ctx, path)
	return err
}
