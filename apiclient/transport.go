package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"lds.li/ucoclient/session"
)

// DefaultPublicPath is where the user is sent when the session cannot be
// renewed.
const DefaultPublicPath = "/login"

// SessionExpiredMessage is posted to the Notifier when a refresh fails.
const SessionExpiredMessage = "Tu sesión ha expirado. Por favor inicia sesión nuevamente."

// ErrRefreshAborted is handed to queued requests if the refresh ended without
// producing a token or an error.
var ErrRefreshAborted = errors.New("token refresh aborted")

var baseLogAttr = slog.String("component", "apiclient")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

var tracer = otel.Tracer("lds.li/ucoclient/apiclient")

// TokenManager is the session state the transport reads and renews tokens
// through. *session.Manager implements it.
type TokenManager interface {
	Token() (string, bool)
	IsAuthenticated() bool
	FetchAndSetToken(ctx context.Context, opts ...session.FetchOption) (string, error)
	Clear(ctx context.Context) error
}

var _ TokenManager = (*session.Manager)(nil)

// Navigator is the current view of the application. The transport moves it to
// a public view when the session is lost.
type Navigator interface {
	Location() string
	IsPublic(path string) bool
	Redirect(ctx context.Context, path string) error
}

// Notifier shows a message to the user.
type Notifier interface {
	Warning(message string) string
}

// Transport is an [http.RoundTripper] that attaches the session's bearer
// token to requests. When a response is 401 or 403 it renews the token once,
// shared by every request that fails while the renewal is in flight, and
// retries each request a single time.
type Transport struct {
	// Session supplies and renews tokens. Required.
	Session TokenManager
	// Navigator is redirected to PublicPath when renewal fails. Optional.
	Navigator Navigator
	// Notifier is told when the session expires. Optional.
	Notifier Notifier
	// PublicPath defaults to DefaultPublicPath.
	PublicPath string
	// Metrics is optional.
	Metrics *Metrics

	// Base is the underlying transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	mu         sync.Mutex
	refreshing bool
	pending    []chan refreshResult
}

type refreshResult struct {
	token string
	err   error
}

type retriedKey struct{}

// RoundTrip implements [http.RoundTripper].
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Session == nil {
		return nil, fmt.Errorf("apiclient: Session is nil")
	}
	ctx := req.Context()

	res, err := t.send(req, t.currentToken(ctx))
	if err != nil {
		return nil, err
	}
	if !isAuthFailure(res.StatusCode) || ctx.Value(retriedKey{}) != nil {
		return res, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		slog.DebugContext(ctx, "Cannot replay request body, not retrying", baseLogAttr, slog.String("url", req.URL.String()))
		return res, nil
	}

	// No suspension between checking and setting the flag, so exactly one
	// caller starts the refresh.
	t.mu.Lock()
	if t.refreshing {
		ch := make(chan refreshResult, 1)
		t.pending = append(t.pending, ch)
		t.mu.Unlock()
		t.Metrics.requestQueued()
		discard(res)

		select {
		case r := <-ch:
			if r.err != nil {
				return nil, fmt.Errorf("renewing session: %w", r.err)
			}
			return t.retry(req, r.token)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t.refreshing = true
	t.mu.Unlock()

	// The renewal outlives this caller if its context ends first, so the
	// queued requests still get an outcome.
	done := make(chan refreshResult, 1)
	go func() {
		token, err := t.refresh(ctx)
		if err != nil {
			t.sessionLost(ctx, err)
		}
		done <- refreshResult{token: token, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return res, nil
		}
		discard(res)
		return t.retry(req, r.token)
	case <-ctx.Done():
		discard(res)
		return nil, ctx.Err()
	}
}

// currentToken returns the cached token, fetching one if the session is
// authenticated but nothing is cached yet.
func (t *Transport) currentToken(ctx context.Context) string {
	if tok, ok := t.Session.Token(); ok {
		return tok
	}
	if !t.Session.IsAuthenticated() {
		return ""
	}
	tok, err := t.Session.FetchAndSetToken(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Sending request without token", baseLogAttr, errAttr(err))
		return ""
	}
	return tok
}

// refresh renews the token and releases every queued request with the
// outcome. The flag is cleared on every exit path.
func (t *Transport) refresh(ctx context.Context) (token string, err error) {
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "apiclient.refresh", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	token, err = "", ErrRefreshAborted
	defer func() {
		queued := t.release(token, err)
		span.SetAttributes(attribute.Int("apiclient.queued_requests", queued))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		t.Metrics.refreshDone(err)
	}()

	token, err = t.Session.FetchAndSetToken(ctx, session.ForceRefresh())
	return token, err
}

func (t *Transport) release(token string, err error) int {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.refreshing = false
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- refreshResult{token: token, err: err}
	}
	return len(pending)
}

func (t *Transport) sessionLost(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	slog.WarnContext(ctx, "Session could not be renewed", baseLogAttr, errAttr(cause))

	if err := t.Session.Clear(ctx); err != nil {
		slog.ErrorContext(ctx, "Clearing session failed", baseLogAttr, errAttr(err))
	}
	if t.Notifier != nil {
		t.Notifier.Warning(SessionExpiredMessage)
	}
	if t.Navigator == nil {
		return
	}
	if loc := t.Navigator.Location(); t.Navigator.IsPublic(loc) {
		return
	}
	if err := t.Navigator.Redirect(ctx, t.publicPath()); err != nil {
		slog.ErrorContext(ctx, "Redirect after session loss failed", baseLogAttr, errAttr(err))
	}
}

func (t *Transport) send(req *http.Request, token string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if r.Header.Get("X-Request-Id") == "" {
		r.Header.Set("X-Request-Id", uuid.NewString())
	}
	return t.base().RoundTrip(r)
}

// retry resends req once with token. The retry is marked so a 401 on it is
// returned to the caller as is.
func (t *Transport) retry(req *http.Request, token string) (*http.Response, error) {
	r := req.Clone(context.WithValue(req.Context(), retriedKey{}, true))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		r.Body = body
	}
	t.Metrics.requestRetried()
	return t.send(r, token)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

func (t *Transport) publicPath() string {
	if t.PublicPath == "" {
		return DefaultPublicPath
	}
	return t.PublicPath
}

func (t *Transport) pendingLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func isAuthFailure(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func discard(res *http.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
