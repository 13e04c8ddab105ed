package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"lds.li/ucoclient/apiclient"
	"lds.li/ucoclient/catalog"
	"lds.li/ucoclient/claims"
	"lds.li/ucoclient/notify"
	"lds.li/ucoclient/router"
	"lds.li/ucoclient/session"
	"lds.li/ucoclient/session/sessiontest"
)

const authorizeURL = "https://tenant.example.com/authorize"

// redirectingProvider sends logins and logouts through the redirect hook the
// way the identity client does.
type redirectingProvider struct {
	*sessiontest.Provider
}

func (p *redirectingProvider) Login(ctx context.Context, returnTo string) error {
	if err := p.Provider.Login(ctx, returnTo); err != nil {
		return err
	}
	return captureRedirect(ctx, authorizeURL+"?"+url.Values{"return": {returnTo}}.Encode())
}

func (p *redirectingProvider) Logout(ctx context.Context, returnTo string) error {
	if err := p.Provider.Logout(ctx, returnTo); err != nil {
		return err
	}
	return captureRedirect(ctx, "https://tenant.example.com/v2/logout")
}

type fakeCallback struct {
	next string
	err  error
}

func (f *fakeCallback) HandleCallback(context.Context, url.Values) (string, error) {
	return f.next, f.err
}

func newTestApp(t *testing.T, p *sessiontest.Provider, cb loginCallback) (*app, *httptest.Server) {
	t.Helper()
	mgr := session.NewManager(&redirectingProvider{p}, "https://api.example.com/")
	table, err := router.NewTable(router.DefaultRoutes)
	if err != nil {
		t.Fatal(err)
	}
	notes := &notify.Store{}
	t.Cleanup(notes.Clear)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(backend.Close)
	api, err := apiclient.New(backend.URL, 5*time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}

	a := &app{
		router:   router.New(table, &router.Guard{Session: mgr, Notifier: notes}),
		session:  mgr,
		callback: cb,
		catalog:  &catalog.Service{API: api},
		notes:    notes,
	}
	svr := httptest.NewServer(a.routes())
	t.Cleanup(svr.Close)
	return a, svr
}

func noFollow() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func getJSON(t *testing.T, u string, into any) int {
	t.Helper()
	res, err := noFollow().Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if into != nil && res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(into); err != nil {
			t.Fatal(err)
		}
	}
	return res.StatusCode
}

func TestNavigateProtectedRedirectsToLogin(t *testing.T) {
	p := sessiontest.New(false)
	_, svr := newTestApp(t, p, nil)

	res, err := noFollow().Get(svr.URL + "/nav/dashboard?tab=1")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusFound {
		t.Fatalf("status: got %d", res.StatusCode)
	}
	if loc := res.Header.Get("Location"); !strings.HasPrefix(loc, authorizeURL) {
		t.Errorf("location: got %s", loc)
	}
	if diff := cmp.Diff([]string{"/dashboard?tab=1"}, p.Logins()); diff != "" {
		t.Errorf("logins (-want +got):\n%s", diff)
	}
}

func TestNavigateAdminWithClientRole(t *testing.T) {
	p := sessiontest.New(true)
	p.TokenFunc = func(context.Context, session.TokenRequest) (*session.Grant, error) {
		return &session.Grant{AccessToken: "at-1", Identity: &claims.Identity{Subject: "user-1"}}, nil
	}
	_, svr := newTestApp(t, p, nil)

	var got navResponse
	if code := getJSON(t, svr.URL+"/nav/admin/register", &got); code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	want := navResponse{State: "denied", Redirect: "/", Reason: "insufficient role", Location: "/"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("navigation (-want +got):\n%s", diff)
	}

	var me meResponse
	if code := getJSON(t, svr.URL+"/api/me", &me); code != http.StatusOK {
		t.Fatalf("me status: got %d", code)
	}
	if diff := cmp.Diff(meResponse{Subject: "user-1", Roles: []string{"client"}}, me); diff != "" {
		t.Errorf("me (-want +got):\n%s", diff)
	}
}

func TestNavigateUnknownRoute(t *testing.T) {
	_, svr := newTestApp(t, sessiontest.New(false), nil)
	if code := getJSON(t, svr.URL+"/nav/nowhere", nil); code != http.StatusNotFound {
		t.Errorf("status: got %d", code)
	}
}

func TestCallback(t *testing.T) {
	p := sessiontest.New(true)
	p.TokenFunc = func(context.Context, session.TokenRequest) (*session.Grant, error) {
		return &session.Grant{AccessToken: "at-1"}, nil
	}
	a, svr := newTestApp(t, p, &fakeCallback{next: "/profile"})

	res, err := noFollow().Get(svr.URL + "/callback?code=c&state=s")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if loc := res.Header.Get("Location"); loc != "/nav/profile" {
		t.Errorf("location: got %q", loc)
	}
	if tok, ok := a.session.Token(); !ok || tok != "at-1" {
		t.Errorf("token not fetched after login: %q", tok)
	}
}

func TestCallbackFailureNotifies(t *testing.T) {
	a, svr := newTestApp(t, sessiontest.New(false), &fakeCallback{err: errors.New("state did not match")})

	if code := getJSON(t, svr.URL+"/callback?code=c&state=s", nil); code != http.StatusBadRequest {
		t.Errorf("status: got %d", code)
	}
	notes := a.notes.List()
	if len(notes) != 1 || notes[0].Type != notify.TypeError {
		t.Errorf("notifications: %+v", notes)
	}
}

func TestLogout(t *testing.T) {
	p := sessiontest.New(true)
	_, svr := newTestApp(t, p, nil)

	res, err := noFollow().Get(svr.URL + "/logout")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if loc := res.Header.Get("Location"); loc != "https://tenant.example.com/v2/logout" {
		t.Errorf("location: got %q", loc)
	}
	if p.IsAuthenticated() {
		t.Error("still authenticated")
	}
}

func TestCatalogFallbackEndpoints(t *testing.T) {
	_, svr := newTestApp(t, sessiontest.New(false), nil)

	var cities []catalog.City
	if code := getJSON(t, svr.URL+"/api/cities", &cities); code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	if cities == nil || len(cities) != 0 {
		t.Errorf("cities: %#v", cities)
	}

	var types []catalog.IDType
	if code := getJSON(t, svr.URL+"/api/id-types", &types); code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	if diff := cmp.Diff(catalog.DefaultIDTypes, types); diff != "" {
		t.Errorf("id types (-want +got):\n%s", diff)
	}
}

func TestRegistrationForm(t *testing.T) {
	_, svr := newTestApp(t, sessiontest.New(false), nil)

	post := func(body string) (int, formResponse) {
		t.Helper()
		res, err := http.Post(svr.URL+"/api/forms/registration", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		defer res.Body.Close()
		var fr formResponse
		if err := json.NewDecoder(res.Body).Decode(&fr); err != nil {
			t.Fatal(err)
		}
		return res.StatusCode, fr
	}

	code, fr := post(`{"firstName":"Ana María","lastName":"O'Neil","email":"ana@example.com","phone":"300 123 4567","idType":"CC","idNumber":"1020304050","city":"11001"}`)
	if code != http.StatusOK || !fr.Valid {
		t.Errorf("valid form rejected: %d %+v", code, fr)
	}

	code, fr = post(`{"firstName":"Ana2","email":"bad","phone":"123","idType":"CC","idNumber":"1020304050","city":"11001"}`)
	if code != http.StatusUnprocessableEntity || fr.Valid {
		t.Fatalf("invalid form accepted: %d %+v", code, fr)
	}
	want := map[string]string{
		"firstName": "Solo se permiten letras y espacios",
		"lastName":  "Este campo es requerido",
		"email":     "Email inválido",
		"phone":     "Teléfono inválido",
	}
	if diff := cmp.Diff(want, fr.Errors); diff != "" {
		t.Errorf("errors (-want +got):\n%s", diff)
	}
}

func TestOrigin(t *testing.T) {
	if got := origin("http://localhost:8085/callback"); got != "http://localhost:8085" {
		t.Errorf("got %s", got)
	}
	if got, err := listenAddr("http://localhost:8085/callback"); err != nil || got != "localhost:8085" {
		t.Errorf("listenAddr: %s, %v", got, err)
	}
	if _, err := listenAddr("https://app.example.com/callback"); err == nil {
		t.Error("want error for redirect URL without port")
	}
}
