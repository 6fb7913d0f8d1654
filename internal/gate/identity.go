package gate

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Identity is what an upstream auth layer knows about the caller.
type Identity struct {
	TenantID string
	Tier     string
}

type identityKey struct{}

// WithIdentity attaches an authenticated identity to ctx. It takes precedence
// over the X-Tenant-Id and X-Tier headers.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func resolveIdentity(r *http.Request) Identity {
	if id, ok := IdentityFrom(r.Context()); ok {
		return id
	}
	return Identity{
		TenantID: strings.TrimSpace(r.Header.Get("X-Tenant-Id")),
		Tier:     strings.TrimSpace(r.Header.Get("X-Tier")),
	}
}

func clientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
