package middleware

import (
	"context"
	"time"

	pkglog "RelayPool/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// slowRequestThreshold marks requests worth a dedicated warning.
const slowRequestThreshold = 10 * time.Second

// Logging returns a middleware that assigns each request an id and logs
// method, path, status, and duration.
func Logging(logger log.Logger) middleware.Middleware {
	helper := log.NewHelper(logger)
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			start := time.Now()
			requestID := pkglog.GenerateRequestID()
			ctx = pkglog.WithRequestID(ctx, requestID)

			method, path := "unknown", "unknown"
			if tr, ok := transport.FromServerContext(ctx); ok {
				path = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
				}
			}

			reply, err := handler(ctx, req)
			elapsed := time.Since(start)

			status := 200
			if err != nil {
				status = int(errors.FromError(err).Code)
			}

			helper.Infow(
				"request completed",
				"request_id", requestID,
				"method", method,
				"path", path,
				"status", status,
				"duration_ms", elapsed.Milliseconds(),
			)
			if elapsed > slowRequestThreshold {
				helper.Warnw(
					"slow request detected",
					"request_id", requestID,
					"method", method,
					"path", path,
					"duration_ms", elapsed.Milliseconds(),
				)
			}
			return reply, err
		}
	}
}
