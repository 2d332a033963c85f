package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	guestScopePrefix      = "guest:"
	userScopePrefix       = "user:"
	defaultPublishTimeout = 5 * time.Second
)

// ErrSessionClosed is returned when a session or registry is used after Close.
var ErrSessionClosed = errors.New("cart session: closed")

// NewGuestScope allocates a fresh anonymous identity scope.
func NewGuestScope() string {
	return guestScopePrefix + ulid.Make().String()
}

// GuestScope returns the scope for an existing guest id.
func GuestScope(id string) string {
	return guestScopePrefix + strings.TrimSpace(id)
}

// UserScope returns the scope for an authenticated user id.
func UserScope(uid string) string {
	return userScopePrefix + strings.TrimSpace(uid)
}

// IsGuestScope reports whether scope belongs to an anonymous visitor.
func IsGuestScope(scope string) bool {
	return strings.HasPrefix(strings.TrimSpace(scope), guestScopePrefix)
}

// CartSessionDeps bundles collaborators shared by every session.
type CartSessionDeps struct {
	Persistence    *CartPersistence
	Publisher      CartEventPublisher
	Clock          func() time.Time
	Logger         *zap.Logger
	IDGenerator    func() string
	PublishTimeout time.Duration
}

func (d CartSessionDeps) withDefaults() CartSessionDeps {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.IDGenerator == nil {
		d.IDGenerator = func() string { return ulid.Make().String() }
	}
	if d.PublishTimeout <= 0 {
		d.PublishTimeout = defaultPublishTimeout
	}
	return d
}

// CartSession binds a CartStore to its persisted slot and event stream for one visitor.
type CartSession struct {
	deps  CartSessionDeps
	store *CartStore

	mirror       *CartMirror
	cancelEvents func()
	baseCtx      context.Context
	publishing   sync.WaitGroup

	mu       sync.Mutex
	lastUsed time.Time
	closed   bool
}

// OpenCartSession seeds a store from the persisted slot for scope and starts mirroring changes back.
// The session outlives ctx; call Close to stop it.
func OpenCartSession(ctx context.Context, deps CartSessionDeps, scope string) (*CartSession, error) {
	if deps.Persistence == nil {
		return nil, errors.New("cart session: persistence is required")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, errors.New("cart session: scope is required")
	}
	deps = deps.withDefaults()

	store := NewCartStore(CartStoreDeps{Scope: scope, Clock: deps.Clock, Logger: deps.Logger})
	store.Hydrate(deps.Persistence.Load(ctx, scope))

	baseCtx := context.WithoutCancel(ctx)
	session := &CartSession{
		deps:     deps,
		store:    store,
		baseCtx:  baseCtx,
		lastUsed: deps.Clock(),
	}
	session.mirror = deps.Persistence.Mirror(baseCtx, store)
	session.cancelEvents = store.OnItemAdded(session.forward)
	return session, nil
}

// Store returns the session's cart store and marks the session as used.
func (s *CartSession) Store() *CartStore {
	s.touch()
	return s.store
}

// Scope reports the scope the session currently persists under.
func (s *CartSession) Scope() string {
	return s.store.Scope()
}

// SwitchScope moves the session to scope. When the in-memory cart is empty the cart
// previously stored under scope is restored, so a cart saved before login is recovered.
func (s *CartSession) SwitchScope(ctx context.Context, scope string) (Cart, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return Cart{}, errors.New("cart session: scope is required")
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Cart{}, ErrSessionClosed
	}
	s.touch()

	if s.store.Scope() == scope {
		return s.store.Snapshot(), nil
	}
	if s.store.Snapshot().IsEmpty() {
		if stored := s.deps.Persistence.Load(ctx, scope); !stored.IsEmpty() {
			s.store.Hydrate(stored)
		}
	}
	return s.store.Rescope(scope), nil
}

// LastUsed reports when the session was last accessed.
func (s *CartSession) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Close stops event forwarding, flushes the last snapshot and waits for in-flight publishes.
func (s *CartSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelEvents()
	s.mirror.Stop()
	s.publishing.Wait()
	s.deps.Persistence.Release(s.store.Scope())
}

func (s *CartSession) touch() {
	s.mu.Lock()
	s.lastUsed = s.deps.Clock()
	s.mu.Unlock()
}

func (s *CartSession) forward(event ItemAddedEvent) {
	if s.deps.Publisher == nil {
		return
	}
	event.EventID = s.deps.IDGenerator()

	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.deps.PublishTimeout)
		defer cancel()
		if _, err := s.deps.Publisher.PublishItemAdded(ctx, event); err != nil {
			s.deps.Logger.Warn("cart event publish failed",
				zap.String("eventId", event.EventID),
				zap.String("productId", event.ProductID),
				zap.Error(err),
			)
		}
	}()
}

// CartSessionRegistry keeps at most one live session per scope.
type CartSessionRegistry struct {
	deps    CartSessionDeps
	opening singleflight.Group

	mu       sync.Mutex
	sessions map[string]*CartSession
	closed   bool
}

// NewCartSessionRegistry validates deps and returns an empty registry.
func NewCartSessionRegistry(deps CartSessionDeps) (*CartSessionRegistry, error) {
	if deps.Persistence == nil {
		return nil, errors.New("cart session registry: persistence is required")
	}
	return &CartSessionRegistry{
		deps:     deps.withDefaults(),
		sessions: make(map[string]*CartSession),
	}, nil
}

// Session returns the live session for scope, opening it on first use.
// Slot reads happen outside the registry lock; concurrent first requests for one scope share a single open.
func (r *CartSessionRegistry) Session(ctx context.Context, scope string) (*CartSession, error) {
	scope = strings.TrimSpace(scope)
	if session, err := r.live(scope); session != nil || err != nil {
		return session, err
	}

	opened, err, _ := r.opening.Do(scope, func() (interface{}, error) {
		if session, err := r.live(scope); session != nil || err != nil {
			return session, err
		}
		session, err := OpenCartSession(context.WithoutCancel(ctx), r.deps, scope)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			session.Close()
			return nil, ErrSessionClosed
		}
		if existing, ok := r.sessions[scope]; ok {
			r.mu.Unlock()
			session.Close()
			existing.touch()
			return existing, nil
		}
		r.sessions[scope] = session
		r.mu.Unlock()
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return opened.(*CartSession), nil
}

func (r *CartSessionRegistry) live(scope string) (*CartSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrSessionClosed
	}
	if session, ok := r.sessions[scope]; ok {
		session.touch()
		return session, nil
	}
	return nil, nil
}

// Promote hands a guest's cart over to userScope after sign-in and removes the guest slot.
// A non-empty guest cart replaces the user cart; an empty one leaves the user cart as it was.
func (r *CartSessionRegistry) Promote(ctx context.Context, guestScope, userScope string) (*CartSession, error) {
	guestScope = strings.TrimSpace(guestScope)
	userScope = strings.TrimSpace(userScope)
	if guestScope == userScope || guestScope == "" {
		return r.Session(ctx, userScope)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSessionClosed
	}
	guest, hasGuest := r.sessions[guestScope]
	delete(r.sessions, guestScope)
	r.mu.Unlock()

	var guestCart Cart
	if hasGuest {
		// Close drains the guest mirror so its slot write lands before Discard below.
		guest.Close()
		guestCart = guest.store.Snapshot()
	} else {
		guestCart = r.deps.Persistence.Load(ctx, guestScope)
	}

	user, err := r.Session(ctx, userScope)
	if err != nil {
		return nil, err
	}
	if !guestCart.IsEmpty() {
		user.Store().Replace(guestCart)
		if err := user.mirror.Flush(ctx); err != nil {
			return user, err
		}
	}

	if err := r.deps.Persistence.Discard(ctx, guestScope); err != nil {
		r.deps.Logger.Warn("cart guest slot cleanup failed", zap.String("scope", guestScope), zap.Error(err))
	}
	r.deps.Logger.Info("cart promoted",
		zap.String("from", guestScope),
		zap.String("to", userScope),
		zap.Int("items", len(guestCart.Items)),
	)
	return user, nil
}

// EvictIdle closes sessions unused for longer than idle and returns how many were closed.
func (r *CartSessionRegistry) EvictIdle(idle time.Duration) int {
	cutoff := r.deps.Clock().Add(-idle)
	r.mu.Lock()
	var stale []*CartSession
	for scope, session := range r.sessions {
		if session.LastUsed().Before(cutoff) {
			stale = append(stale, session)
			delete(r.sessions, scope)
		}
	}
	r.mu.Unlock()

	for _, session := range stale {
		session.Close()
	}
	return len(stale)
}

// Len reports the number of live sessions.
func (r *CartSessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close flushes and closes every session. The registry rejects further use.
func (r *CartSessionRegistry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*CartSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*CartSession)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, session := range sessions {
			wg.Add(1)
			go func(s *CartSession) {
				defer wg.Done()
				s.Close()
			}(session)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
