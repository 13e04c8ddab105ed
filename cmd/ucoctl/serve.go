package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"lds.li/ucoclient/apiclient"
	"lds.li/ucoclient/catalog"
	"lds.li/ucoclient/config"
	"lds.li/ucoclient/identity"
	"lds.li/ucoclient/internal"
	"lds.li/ucoclient/notify"
	"lds.li/ucoclient/provider"
	"lds.li/ucoclient/router"
	"lds.li/ucoclient/session"
	"lds.li/ucoclient/tokencache"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local client front",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if addr == "" {
				addr, err = listenAddr(cfg.RedirectURL)
				if err != nil {
					return err
				}
			}
			return serve(cmd.Context(), cfg, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to the host of the redirect URL)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The provider keeps this client for token, JWKS and userinfo calls.
	ctx = internal.WithHTTPClient(ctx, &http.Client{Timeout: cfg.APITimeout})
	p, err := provider.DiscoverOIDCProvider(ctx, cfg.Issuer())
	if err != nil {
		return fmt.Errorf("discovering identity provider: %w", err)
	}

	idc := identity.New(p, &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURL,
	}, cfg.Audience, cfg.RolesClaim, captureRedirect)
	// Logins live in memory, so Init only restores one within this process.
	idc.Cache = &tokencache.MemoryCredentialCache{}
	if err := idc.Init(ctx); err != nil {
		slog.WarnContext(ctx, "Restoring cached login failed", baseLogAttr, errAttr(err))
	}

	mgr := session.NewManager(idc, cfg.Audience, session.WithLogoutReturnTo(origin(cfg.RedirectURL)))
	notes := &notify.Store{}

	table, err := router.NewTable(router.DefaultRoutes)
	if err != nil {
		return err
	}
	nav := router.New(table, &router.Guard{Session: mgr, Notifier: notes})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	api, err := apiclient.New(cfg.APIBaseURL, cfg.APITimeout, &apiclient.Transport{
		Session:   mgr,
		Navigator: nav,
		Notifier:  notes,
		Metrics:   apiclient.NewMetrics(reg),
	})
	if err != nil {
		return err
	}

	a := &app{
		router:   nav,
		session:  mgr,
		callback: idc,
		catalog:  &catalog.Service{API: api},
		notes:    notes,
		metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Listening", baseLogAttr, slog.String("addr", addr), slog.String("issuer", p.Issuer()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// origin returns the scheme and host of u.
func origin(u string) string {
	pu, err := url.Parse(u)
	if err != nil || pu.Host == "" {
		return u
	}
	return pu.Scheme + "://" + pu.Host
}

func listenAddr(redirectURL string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("parsing redirect URL: %w", err)
	}
	if u.Port() == "" {
		return "", fmt.Errorf("redirect URL %s has no port, pass --addr", redirectURL)
	}
	return u.Host, nil
}
