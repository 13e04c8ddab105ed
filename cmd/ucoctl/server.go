package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"lds.li/ucoclient/catalog"
	"lds.li/ucoclient/form"
	"lds.li/ucoclient/notify"
	"lds.li/ucoclient/router"
	"lds.li/ucoclient/session"
)

var baseLogAttr = slog.String("component", "ucoctl")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

// loginCallback completes a login started through the session.
type loginCallback interface {
	HandleCallback(ctx context.Context, query url.Values) (string, error)
}

type app struct {
	router   *router.Router
	session  *session.Manager
	callback loginCallback
	catalog  *catalog.Service
	notes    *notify.Store
	metrics  http.Handler
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/login", a.handleLogin)
	r.Get("/callback", a.handleCallback)
	r.Get("/logout", a.handleLogout)
	r.Get("/nav/*", a.handleNavigate)

	r.Route("/api", func(r chi.Router) {
		r.Get("/cities", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, a.catalog.Cities(r.Context()))
		})
		r.Get("/id-types", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, a.catalog.IDTypes(r.Context()))
		})
		r.Get("/notifications", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, a.notes.List())
		})
		r.Delete("/notifications/{id}", func(w http.ResponseWriter, r *http.Request) {
			a.notes.Remove(chi.URLParam(r, "id"))
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/me", a.handleMe)
		r.Post("/forms/registration", a.handleRegistration)
	})

	if a.metrics != nil {
		r.Handle("/metrics", a.metrics)
	}
	return r
}

func (a *app) handleLogin(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.Query().Get("returnTo")
	if returnTo == "" {
		returnTo = "/"
	}
	ctx, sink := withRedirectSink(r.Context())
	if err := a.session.Login(ctx, returnTo); err != nil {
		slog.ErrorContext(ctx, "Starting login failed", baseLogAttr, errAttr(err))
		http.Error(w, "Could not start login", http.StatusInternalServerError)
		return
	}
	sink.follow(w, r, "/")
}

func (a *app) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	next, err := a.callback.HandleCallback(ctx, r.URL.Query())
	if err != nil {
		slog.WarnContext(ctx, "Login callback failed", baseLogAttr, errAttr(err))
		a.notes.Error("No se pudo iniciar sesión")
		http.Error(w, "Login failed", http.StatusBadRequest)
		return
	}
	if _, err := a.session.FetchAndSetToken(ctx); err != nil {
		slog.WarnContext(ctx, "Fetching token after login failed", baseLogAttr, errAttr(err))
	}
	http.Redirect(w, r, "/nav"+next, http.StatusFound)
}

func (a *app) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, sink := withRedirectSink(r.Context())
	if err := a.session.Clear(ctx); err != nil {
		slog.WarnContext(ctx, "Logout failed", baseLogAttr, errAttr(err))
	}
	sink.follow(w, r, "/")
}

type navResponse struct {
	Allowed  bool   `json:"allowed"`
	State    string `json:"state"`
	Redirect string `json:"redirect,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Location string `json:"location"`
}

func (a *app) handleNavigate(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	ctx, sink := withRedirectSink(r.Context())
	d, err := a.router.Navigate(ctx, path)
	switch {
	case errors.Is(err, router.ErrRouteNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		slog.ErrorContext(ctx, "Navigation failed", baseLogAttr, slog.String("path", path), errAttr(err))
		http.Error(w, "Navigation failed", http.StatusInternalServerError)
		return
	}
	// The guard sent the user to the identity provider.
	if sink.url != "" {
		http.Redirect(w, r, sink.url, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, navResponse{
		Allowed:  d.Allowed(),
		State:    d.State.String(),
		Redirect: d.Redirect,
		Reason:   d.Reason,
		Location: a.router.Location(),
	})
}

type meResponse struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email,omitempty"`
	Name    string   `json:"name,omitempty"`
	Picture string   `json:"picture,omitempty"`
	Roles   []string `json:"roles"`
}

func (a *app) handleMe(w http.ResponseWriter, r *http.Request) {
	id := a.session.Identity()
	if !a.session.IsAuthenticated() || id == nil {
		http.Error(w, "Not logged in", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Subject: id.Subject,
		Email:   id.Email,
		Name:    id.Name,
		Picture: id.Picture,
		Roles:   a.session.Roles(),
	})
}

type formResponse struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors"`
}

func (a *app) handleRegistration(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	f := registrationForm()
	for k, v := range values {
		f.Set(k, v)
	}
	status := http.StatusOK
	valid := f.ValidateAll()
	if !valid {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, formResponse{Valid: valid, Errors: f.Errors()})
}

// registrationForm is the user registration form of the administration view.
func registrationForm() *form.Form {
	name := func(n string) *form.Field {
		return &form.Field{Name: n, Rules: []form.Rule{
			form.Required(""),
			form.LettersAndSpaces(""),
			form.MinLength(2, ""),
			form.MaxLength(50, ""),
		}}
	}
	return form.New(
		name("firstName"),
		name("lastName"),
		&form.Field{Name: "email", Rules: []form.Rule{form.Required(""), form.Email("")}},
		&form.Field{Name: "phone", Rules: []form.Rule{form.Required(""), form.Phone("")}},
		&form.Field{Name: "idType", Rules: []form.Rule{form.Required("")}},
		&form.Field{Name: "idNumber", Rules: []form.Rule{
			form.Required(""),
			form.Alphanumeric(""),
			form.MinLength(5, ""),
			form.MaxLength(15, ""),
		}},
		&form.Field{Name: "city", Rules: []form.Rule{form.Required("")}},
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Writing response failed", baseLogAttr, errAttr(err))
	}
}

type redirectKey struct{}

// redirectSink collects the URL the identity provider wants the user agent
// sent to while a request is being handled.
type redirectSink struct {
	url string
}

func withRedirectSink(ctx context.Context) (context.Context, *redirectSink) {
	s := &redirectSink{}
	return context.WithValue(ctx, redirectKey{}, s), s
}

// captureRedirect is the identity client's redirect hook.
func captureRedirect(ctx context.Context, u string) error {
	s, ok := ctx.Value(redirectKey{}).(*redirectSink)
	if !ok {
		slog.WarnContext(ctx, "Redirect requested outside a browser request", baseLogAttr, slog.String("url", u))
		return nil
	}
	s.url = u
	return nil
}

func (s *redirectSink) follow(w http.ResponseWriter, r *http.Request, fallback string) {
	target := s.url
	if target == "" {
		target = fallback
	}
	http.Redirect(w, r, target, http.StatusFound)
}
