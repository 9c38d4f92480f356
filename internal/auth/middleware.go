// Package auth gates the warewatch API with per-warehouse bearer keys.
// Requests from loopback may bypass the keyring when the keys file says
// so, which is the default for local development setups.
package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// Mode records how a request was authenticated.
type Mode string

const (
	ModeLocalhost Mode = "localhost"
	ModeAPIKey    Mode = "api_key"
)

// Info is attached to the request context for handlers that need to
// know which warehouse a caller is scoped to.
type Info struct {
	Mode      Mode
	Warehouse string
	Localhost bool
}

type contextKey struct{}

func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(contextKey{}).(Info)
	return v, ok
}

// Middleware resolves the bearer key against the keyring and rejects
// anything it cannot place. A nil ring falls back to the default
// localhost-only policy.
func Middleware(ring *Keyring) func(http.Handler) http.Handler {
	if ring == nil {
		ring = defaultKeyring()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ring.AllowLocalhostWithoutAuth && isLocalRequest(r) {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, Info{Mode: ModeLocalhost, Localhost: true})))
				return
			}
			key := bearerKey(r)
			if key == "" {
				writeUnauthorized(w)
				return
			}
			warehouse, ok := ring.WarehouseForKey(key)
			if !ok {
				writeUnauthorized(w)
				return
			}
			info := Info{Mode: ModeAPIKey, Warehouse: warehouse, Localhost: false}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, info)))
		})
	}
}

// bearerKey extracts the key from an "Authorization: Bearer ..." header,
// or returns empty when the header is missing or malformed.
func bearerKey(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, key, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(key)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

// isLocalRequest trusts X-Forwarded-For first so a reverse proxy in
// front of the server does not make every caller look local.
func isLocalRequest(r *http.Request) bool {
	if ip := forwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
		if parsed := net.ParseIP(ip); parsed != nil {
			return parsed.IsLoopback()
		}
		return strings.EqualFold(ip, "localhost")
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	parsed := net.ParseIP(host)
	return parsed != nil && parsed.IsLoopback()
}

func forwardedFor(v string) string {
	if v == "" {
		return ""
	}
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}
