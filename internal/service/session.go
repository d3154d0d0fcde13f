package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/flicky/storefront/internal/model"
)

// AuthNotifier is the part of AuthService a Session listens to.
type AuthNotifier interface {
	OnAuthChange(fn func(*model.User)) func()
	CurrentUser() *model.User
}

// Session binds the cart and order stores to the signed-in identity: they are
// attached on sign-in and detached on sign-out.
//
// Notifications only trigger a sync; the identity itself is always re-read
// from CurrentUser, so notifications that arrive out of order cannot leave
// the stores attached to a user who has signed out.
type Session struct {
	auth   AuthNotifier
	cart   *CartStore
	orders *OrderStore
	log    *slog.Logger

	mu   sync.Mutex
	stop func()

	syncMu   sync.Mutex
	ctx      context.Context
	closed   bool
	pending  bool
	syncing  bool
	attached string // only touched by the goroutine running the sync loop
}

func NewSession(auth AuthNotifier, cart *CartStore, orders *OrderStore, log *slog.Logger) *Session {
	return &Session{auth: auth, cart: cart, orders: orders, log: log}
}

// Start begins following identity changes. ctx carries values for the store
// loads; its cancellation does not end the session, Close does.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	s.syncMu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.closed = false
	s.syncMu.Unlock()

	s.stop = s.auth.OnAuthChange(func(*model.User) { s.sync() })
}

// Close stops following identity changes and detaches both stores.
func (s *Session) Close() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}

	s.syncMu.Lock()
	s.closed = true
	s.syncMu.Unlock()
	s.sync()
}

// sync brings the stores in line with the current identity. A call made while
// another sync is running, including one from inside a store callback, is
// folded into that run and returns immediately.
func (s *Session) sync() {
	s.syncMu.Lock()
	s.pending = true
	if s.syncing {
		s.syncMu.Unlock()
		return
	}
	s.syncing = true
	for s.pending {
		s.pending = false
		ctx, closed := s.ctx, s.closed
		s.syncMu.Unlock()

		var user *model.User
		if !closed {
			user = s.auth.CurrentUser()
		}
		s.follow(ctx, user)

		s.syncMu.Lock()
	}
	s.syncing = false
	s.syncMu.Unlock()
}

func (s *Session) follow(ctx context.Context, user *model.User) {
	if user == nil {
		s.cart.Detach()
		s.orders.Detach()
		s.attached = ""
		return
	}
	if user.ID == s.attached {
		return
	}
	s.attached = user.ID
	if err := s.cart.Attach(ctx, user); err != nil {
		s.log.Error("attach cart", "user_id", user.ID, "error", err)
	}
	if err := s.orders.Attach(ctx, user); err != nil {
		s.log.Error("attach orders", "user_id", user.ID, "error", err)
	}
}
