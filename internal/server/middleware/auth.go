// Package middleware provides HTTP middleware for authentication and request
// logging.
package middleware

import (
	"context"
	"strings"

	"RelayPool/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Auth returns a middleware that validates the caller's API key against the
// current settings. The key is accepted as "Authorization: Bearer {key}" or
// an X-API-Key header. When no key is configured, all requests pass.
func Auth(settings *biz.SettingsUsecase, logger log.Logger) middleware.Middleware {
	helper := log.NewHelper(logger)
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			expected := settings.Basic().ApiKey
			if expected == "" {
				return handler(ctx, req)
			}

			var apiKey string
			if tr, ok := transport.FromServerContext(ctx); ok {
				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					authHeader := httpReq.Header.Get("Authorization")
					if authHeader != "" {
						apiKey = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
					}
					if apiKey == "" {
						apiKey = httpReq.Header.Get("X-API-Key")
					}
				}
			}

			if apiKey != expected {
				helper.Warnw("rejected request with invalid api key", "has_key", apiKey != "")
				return nil, biz.UnauthorizedError("invalid or missing api key")
			}
			return handler(ctx, req)
		}
	}
}
