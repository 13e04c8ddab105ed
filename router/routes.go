// Package router resolves navigations against the route table and runs the
// route guard before each one completes.
package router

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Route names of the default table.
const (
	NameHome          = "home"
	NameLogin         = "login"
	NameCallback      = "callback"
	NameDashboard     = "dashboard"
	NameProfile       = "profile"
	NameAdminRegister = "admin.register"
	NameAdminList     = "admin.list"
)

// RoleAdmin is required by the administration views.
const RoleAdmin = "admin"

// ErrRouteNotFound is returned when no route matches a path.
var ErrRouteNotFound = errors.New("route not found")

// Route is a navigable view.
type Route struct {
	Name string
	Path string
	// RequiresAuth marks the route as protected.
	RequiresAuth bool
	// Roles lists roles of which the user needs at least one. Empty means
	// any authenticated user.
	Roles []string
}

// DefaultRoutes is the application's route table.
var DefaultRoutes = []Route{
	{Name: NameHome, Path: "/"},
	{Name: NameLogin, Path: "/login"},
	{Name: NameCallback, Path: "/callback"},
	{Name: NameDashboard, Path: "/dashboard", RequiresAuth: true},
	{Name: NameProfile, Path: "/profile", RequiresAuth: true},
	{Name: NameAdminRegister, Path: "/admin/register", RequiresAuth: true, Roles: []string{RoleAdmin}},
	{Name: NameAdminList, Path: "/admin/list", RequiresAuth: true, Roles: []string{RoleAdmin}},
}

// Table indexes routes by path and name.
type Table struct {
	routes []Route
	byPath map[string]int
	byName map[string]int
}

// NewTable validates routes and indexes them.
func NewTable(routes []Route) (*Table, error) {
	t := &Table{
		routes: routes,
		byPath: make(map[string]int, len(routes)),
		byName: make(map[string]int, len(routes)),
	}
	for i, r := range routes {
		if !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("route %q: path %q must start with /", r.Name, r.Path)
		}
		p := cleanPath(r.Path)
		if _, dup := t.byPath[p]; dup {
			return nil, fmt.Errorf("duplicate route path %q", r.Path)
		}
		t.byPath[p] = i
		if r.Name != "" {
			if _, dup := t.byName[r.Name]; dup {
				return nil, fmt.Errorf("duplicate route name %q", r.Name)
			}
			t.byName[r.Name] = i
		}
	}
	return t, nil
}

// Match returns the route for a path. Query and fragment are ignored.
func (t *Table) Match(fullPath string) (Route, bool) {
	u, err := url.Parse(fullPath)
	if err != nil {
		return Route{}, false
	}
	i, ok := t.byPath[cleanPath(u.Path)]
	if !ok {
		return Route{}, false
	}
	return t.routes[i], true
}

// Named returns the route with the given name.
func (t *Table) Named(name string) (Route, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Route{}, false
	}
	return t.routes[i], true
}

func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
