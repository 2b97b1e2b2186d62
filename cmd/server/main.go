// Casefiles companion daemon
//
// Features:
// - Enterprise sign-in (device code) and optional guest sign-in
// - Case listing and creation over the document API
// - Folder browsing with breadcrumbs
// - Batched uploads with SSE progress
// - Per-item sharing management
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/casefiles/casefiles/internal/api"
	"github.com/casefiles/casefiles/internal/config"
	"github.com/casefiles/casefiles/internal/directauth"
	"github.com/casefiles/casefiles/internal/enterprise"
	"github.com/casefiles/casefiles/internal/graph"
	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/metrics"
	"github.com/casefiles/casefiles/internal/navigator"
	"github.com/casefiles/casefiles/internal/session"
	"github.com/casefiles/casefiles/internal/store"
	"github.com/casefiles/casefiles/internal/upload"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("casefiles server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("graph", cfg.GraphBaseURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local session state
	st, err := store.Open(cfg.StatePath)
	if err != nil {
		logging.Fatal("state store open failed", zap.String("path", cfg.StatePath), zap.Error(err))
	}
	defer st.Close()

	// Enterprise identity
	ent, err := enterprise.New(ctx, enterprise.Config{
		Authority:             cfg.Authority,
		ClientID:              cfg.ClientID,
		Scopes:                cfg.ScopeList(),
		PostLogoutRedirectURL: "http://" + cfg.ListenAddr + "/",
	}, st)
	if err != nil {
		logging.Fatal("enterprise provider init failed", zap.Error(err))
	}
	defer ent.Close()

	// Direct identity (optional)
	var direct *directauth.Client
	if cfg.GuestEnabled() {
		direct, err = directauth.New(directauth.Config{
			URL:        cfg.IdentityURL,
			AnonKey:    cfg.IdentityAnonKey,
			RedirectTo: "http://" + cfg.ListenAddr + "/",
		}, st)
		if err != nil {
			logging.Fatal("identity client init failed", zap.Error(err))
		}
		defer direct.Close()
		logging.Info("guest sign-in enabled", zap.String("identity", cfg.IdentityURL))
	}

	// Session model
	var directProvider session.DirectProvider
	var directAPI api.DirectAuth
	if direct != nil {
		directProvider = direct
		directAPI = direct
	}
	model := session.New(ent, directProvider, st)
	defer model.Close()
	go func() {
		model.Start(ctx)
		model.Watch(ctx)
	}()

	// Document API and the components built on it
	client := graph.New(graph.Config{
		BaseURL: cfg.GraphBaseURL,
		Timeout: cfg.GraphTimeout,
		Tokens:  ent,
	})
	nav := navigator.New(client, cfg.SortLocale)
	uploads := upload.NewOrchestrator(client)

	srv := api.NewServer(api.Deps{
		Session:       model,
		Enterprise:    ent,
		Direct:        directAPI,
		Cases:         client,
		Navigator:     nav,
		Uploads:       uploads,
		Sharing:       client,
		MaxUploadSize: cfg.MaxUploadSize,
		InviteMessage: cfg.InviteMessage,
	})

	// Start metrics server
	var metricsServer *http.Server
	if cfg.MetricsEnabled() {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	} else {
		logging.Info("metrics server disabled")
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}
