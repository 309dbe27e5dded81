package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux returns the HTTP handler with all routes. ctx bounds the rate limiter cleanup
// goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := loadAuthConfig()
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	corsCfg := loadCORSConfig()

	h := NewHandlers(deps)

	// admin guards control endpoints when admin credentials are configured.
	admin := func(fn http.HandlerFunc) http.Handler { return adminAuth(fn, authCfg) }
	// limited additionally rate limits endpoints that spend OpenAI credit.
	limited := func(fn http.HandlerFunc) http.Handler {
		return adminAuth(rateLimitMiddleware(fn, limiter), authCfg)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)

	mux.HandleFunc("GET /auth/twitch/start", h.HandleTwitchOAuthStart)
	mux.HandleFunc("GET /api/twitch/callback", h.HandleTwitchOAuthCallback)
	mux.HandleFunc("GET /api/auth/check-token", h.HandleCheckToken)
	mux.HandleFunc("POST /api/auth/clear-token", h.HandleClearToken)
	mux.HandleFunc("GET /api/auth/clear-token", h.HandleClearToken)
	mux.HandleFunc("POST /api/auth/session", h.HandleSession)
	mux.HandleFunc("POST /api/auth/logout", h.HandleLogout)

	mux.HandleFunc("GET /api/state", h.HandleState)
	mux.HandleFunc("GET /api/log", h.HandleLog)

	mux.Handle("POST /api/obs/connect", admin(h.HandleOBSConnect))
	mux.Handle("POST /api/obs/disconnect", admin(h.HandleOBSDisconnect))
	mux.HandleFunc("GET /api/obs/sources", h.HandleOBSSources)

	mux.Handle("POST /api/reward", admin(h.HandleRewardSave))
	mux.Handle("POST /api/reward/toggle", admin(h.HandleRewardToggle))
	mux.Handle("POST /api/reward/delete", admin(h.HandleRewardDelete))
	mux.Handle("POST /api/reward/delete/cancel", admin(h.HandleRewardDeleteCancel))

	mux.HandleFunc("GET /api/redemptions", h.HandleRedemptions)
	mux.Handle("POST /api/redemptions/{id}/fulfill", limited(h.HandleFulfill))

	mux.Handle("PUT /api/openai/settings", admin(h.HandleOpenAISettings))
	mux.Handle("POST /api/openai/test-connection", limited(h.HandleOpenAITestConnection))

	mux.HandleFunc("GET /api/image", h.HandleImagePage)
	mux.HandleFunc("GET /api/image/file", h.HandleImageFile)

	return withCORSConfig(withCorrelation(mux), corsCfg)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Fulfilment waits for image generation and download.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// WithoutCancel keeps context values but lets shutdown finish.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err), slog.String("component", "http"))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err), slog.String("component", "http"))
		return err
	}
	return nil
}
