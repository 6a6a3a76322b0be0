package portal

import (
	"context"
	"net/http"
	"strings"
)

// HeaderProvider supplies the auth and device headers the backend expects on every call.
type HeaderProvider interface {
	Headers(ctx context.Context) (http.Header, error)
}

// HeaderFunc adapts a function to HeaderProvider.
type HeaderFunc func(ctx context.Context) (http.Header, error)

func (f HeaderFunc) Headers(ctx context.Context) (http.Header, error) { return f(ctx) }

// StaticHeaders sends fixed app/device identification plus the caller's bearer
// token when one was attached to the context.
type StaticHeaders struct {
	APIKey   string
	AppID    string
	DeviceID string
}

func (s StaticHeaders) Headers(ctx context.Context) (http.Header, error) {
	h := http.Header{}
	if s.APIKey != "" {
		h.Set("X-Api-Key", s.APIKey)
	}
	if s.AppID != "" {
		h.Set("X-App-Id", s.AppID)
	}
	if s.DeviceID != "" {
		h.Set("X-Device-Id", s.DeviceID)
	}
	if token, ok := AccessTokenFromContext(ctx); ok {
		h.Set("Authorization", "Bearer "+token)
	}
	return h, nil
}

type ctxKey string

const accessTokenKey ctxKey = "portal.access_token"

// WithAccessToken stores the patient's bearer token for forwarding.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey, strings.TrimSpace(token))
}

// AccessTokenFromContext extracts the forwarded bearer token if present.
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenKey).(string)
	return token, ok && token != ""
}
