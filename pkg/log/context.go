package log

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// requestContextKey is the context key for request-scoped log metadata.
type requestContextKey struct{}

// RequestContext carries request-scoped identifiers through the call chain.
type RequestContext struct {
	RequestID string
}

// GenerateRequestID returns a short random request identifier.
func GenerateRequestID() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf[:])
}

// WithRequestID stores a request id on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestContextKey{}, &RequestContext{RequestID: requestID})
}

// GetRequestID returns the request id from the context, or empty.
func GetRequestID(ctx context.Context) string {
	if rc, ok := ctx.Value(requestContextKey{}).(*RequestContext); ok {
		return rc.RequestID
	}
	return ""
}
