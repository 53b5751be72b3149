// Package shield provides the HTTP middleware stack for the smartlink
// service: security headers, JSON body limits, request-ID tagging and
// per-IP rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(nil) {
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

// GetLogger retrieves the per-request logger from the context, falling back
// to slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// DefaultStack returns the standard middleware stack, ordered:
// SecurityHeaders, MaxJSONBody, RequestID, rate limiting. A nil limiter
// skips rate limiting.
func DefaultStack(rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(4 << 20),
		RequestID,
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}
