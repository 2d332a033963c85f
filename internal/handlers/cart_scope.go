package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/auth"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/httpx"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/requestctx"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/services"
)

const defaultGuestCookieName = "ojawa_guest"

// CartSessions opens the live cart session for a scope and hands guest carts over on sign-in.
type CartSessions interface {
	Session(ctx context.Context, scope string) (*services.CartSession, error)
	Promote(ctx context.Context, guestScope, userScope string) (*services.CartSession, error)
}

// GuestCookie configures the cookie that carries an anonymous visitor's guest id.
type GuestCookie struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

type cartSessionContextKey struct{}

// CartScope resolves the identity scope of a request and attaches its cart session.
type CartScope struct {
	sessions CartSessions
	cookie   GuestCookie
	logger   *zap.Logger
	newID    func() string
}

// NewCartScope constructs the resolver. A nil logger discards output.
func NewCartScope(sessions CartSessions, cookie GuestCookie, logger *zap.Logger) *CartScope {
	if strings.TrimSpace(cookie.Name) == "" {
		cookie.Name = defaultGuestCookieName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartScope{
		sessions: sessions,
		cookie:   cookie,
		logger:   logger,
		newID:    func() string { return ulid.Make().String() },
	}
}

// Middleware picks the scope from the signed-in identity or the guest cookie, minting a guest id
// for first-time visitors. A request carrying both promotes the guest cart and clears the cookie.
func (c *CartScope) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if c.sessions == nil {
				httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
				return
			}

			guestID := c.guestID(r)
			var (
				session *services.CartSession
				err     error
			)
			identity, _ := auth.IdentityFromContext(ctx)
			switch {
			case identity != nil && strings.TrimSpace(identity.UID) != "":
				userScope := services.UserScope(identity.UID)
				if guestID != "" {
					session, err = c.sessions.Promote(ctx, services.GuestScope(guestID), userScope)
					c.clearCookie(w)
				} else {
					session, err = c.sessions.Session(ctx, userScope)
				}
			default:
				if guestID == "" {
					guestID = c.newID()
					c.setCookie(w, guestID)
				}
				session, err = c.sessions.Session(ctx, services.GuestScope(guestID))
			}

			if session == nil {
				c.logger.Error("cart session unavailable", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
				return
			}
			if err != nil {
				c.logger.Warn("cart session degraded", zap.String("scope", session.Scope()), zap.Error(err))
			}

			ctx = requestctx.WithScope(ctx, session.Scope())
			ctx = context.WithValue(ctx, cartSessionContextKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (c *CartScope) guestID(r *http.Request) string {
	cookie, err := r.Cookie(c.cookie.Name)
	if err != nil {
		return ""
	}
	value := strings.TrimSpace(cookie.Value)
	if _, err := ulid.ParseStrict(value); err != nil {
		return ""
	}
	return value
}

func (c *CartScope) setCookie(w http.ResponseWriter, guestID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookie.Name,
		Value:    guestID,
		Path:     "/",
		MaxAge:   int(c.cookie.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   c.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *CartScope) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cartSessionFromContext(ctx context.Context) *services.CartSession {
	session, _ := ctx.Value(cartSessionContextKey{}).(*services.CartSession)
	return session
}
