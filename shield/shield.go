// Package shield holds the HTTP middleware in front of the bannerhide
// status API: security headers for a JSON-only surface, HEAD support for
// GET routes and per-request logging with a request ID.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Stack returns the middleware for the status API, outermost first.
func Stack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		RequestLog(logger),
	}
}

// HeadToGet converts HEAD requests to GET so that routes registered with
// r.Get() answer HEAD probes instead of 405. net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// HeaderConfig defines the security headers applied to every response.
type HeaderConfig struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	CacheControl        string
}

// APIHeaders suits a read-only JSON API: nothing may be framed, sniffed or
// cached, and no content is ever loaded.
func APIHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
		CacheControl:        "no-store",
	}
}

// SecurityHeaders sets the non-empty fields of cfg on every response.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for name, v := range map[string]string{
				"Content-Security-Policy": cfg.CSP,
				"X-Frame-Options":         cfg.XFrameOptions,
				"X-Content-Type-Options":  cfg.XContentTypeOptions,
				"Referrer-Policy":         cfg.ReferrerPolicy,
				"Cache-Control":           cfg.CacheControl,
			} {
				if v != "" {
					h.Set(name, v)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetLogger returns the per-request logger, or slog.Default() outside a
// request.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
