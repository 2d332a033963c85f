package observability

import (
	"net"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	maxRouteLength   = 180
	maxScopeLength   = 96
	maxAddressLength = 64
)

// logValue strips control characters and caps value at limit runes.
func logValue(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(value))
	if runes := []rune(cleaned); len(runes) > limit {
		cleaned = string(runes[:limit])
	}
	return cleaned
}

// cartScope splits a resolved "guest:<id>" or "user:<uid>" scope. Oversized ids from a
// hand-edited cookie are capped before they reach logs or spans.
func cartScope(scope string) (kind, id string, ok bool) {
	kind, id, ok = strings.Cut(logValue(scope, maxScopeLength), ":")
	if !ok || kind == "" || id == "" {
		return "", "", false
	}
	return kind, id, true
}

func cartScopeFields(scope string) []zap.Field {
	kind, id, ok := cartScope(scope)
	if !ok {
		return nil
	}
	return []zap.Field{
		zap.String("cart_scope", kind+":"+id),
		zap.String("cart_scope_kind", kind),
	}
}

// routePattern prefers the matched chi pattern so cart item routes group under one name.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return logValue(pattern, maxRouteLength)
		}
	}
	if r.URL != nil && r.URL.Path != "" {
		return logValue(r.URL.Path, maxRouteLength)
	}
	return "/"
}

func clientAddress(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return logValue(addr, maxAddressLength)
}
