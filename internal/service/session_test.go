package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

func TestSession_FollowsIdentity(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()
	p := f.product(t, "p1", "10", 5)

	auth := NewAuthService(repository.NewUserRepository(f.store), "test-secret", time.Hour, discardLogger())
	orderRepo := repository.NewOrderRepository(f.store)
	orders := NewOrderStore(orderRepo, nil, discardLogger())
	session := NewSession(auth, f.cart, orders, discardLogger())
	session.Start(ctx)
	defer session.Close()

	assert.Equal(t, CartUninitialized, f.cart.State())

	signedUp, err := auth.SignUp(ctx, "shopper@example.com", "password123", "Shopper")
	require.NoError(t, err)
	assert.Equal(t, CartReady, f.cart.State())
	assert.Equal(t, signedUp.User.ID, f.cart.UserID())

	require.NoError(t, f.cart.AddToCart(ctx, p, 2))
	require.NoError(t, orderRepo.Create(ctx, &model.Order{UserID: signedUp.User.ID, Status: model.OrderStatusPending}))

	auth.SignOut()
	assert.Equal(t, CartUninitialized, f.cart.State())
	assert.Empty(t, f.cart.Items())
	assert.Empty(t, orders.Orders())

	_, err = auth.SignIn(ctx, "shopper@example.com", "password123")
	require.NoError(t, err)
	require.Len(t, f.cart.Items(), 1)
	assert.Equal(t, 2, f.cart.Items()[0].Quantity)
	assert.Len(t, orders.Orders(), 1)
}

func TestSession_CloseDetaches(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()

	auth := NewAuthService(repository.NewUserRepository(f.store), "test-secret", time.Hour, discardLogger())
	orders := NewOrderStore(repository.NewOrderRepository(f.store), nil, discardLogger())
	session := NewSession(auth, f.cart, orders, discardLogger())
	session.Start(ctx)

	_, err := auth.SignUp(ctx, "shopper@example.com", "password123", "Shopper")
	require.NoError(t, err)
	require.Equal(t, CartReady, f.cart.State())

	session.Close()
	assert.Equal(t, CartUninitialized, f.cart.State())

	auth.SignOut()
	_, err = auth.SignIn(ctx, "shopper@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, CartUninitialized, f.cart.State(), "closed session no longer follows identity")
}

// switchableIdentity lets a test deliver notifications in any order it likes.
type switchableIdentity struct {
	current *model.User
	fns     []func(*model.User)
}

func (a *switchableIdentity) CurrentUser() *model.User { return a.current }

func (a *switchableIdentity) OnAuthChange(fn func(*model.User)) func() {
	a.fns = append(a.fns, fn)
	fn(a.current)
	return func() { a.fns = nil }
}

func (a *switchableIdentity) deliver(user *model.User) {
	for _, fn := range a.fns {
		fn(user)
	}
}

func TestSession_StaleSignInAfterSignOutStaysDetached(t *testing.T) {
	f := newCartFixture(t)
	orders := NewOrderStore(repository.NewOrderRepository(f.store), nil, discardLogger())
	auth := &switchableIdentity{}
	session := NewSession(auth, f.cart, orders, discardLogger())
	session.Start(context.Background())
	defer session.Close()

	alice := &model.User{ID: "alice"}
	auth.current = alice
	auth.deliver(alice)
	require.Equal(t, "alice", f.cart.UserID())

	// The sign-out lands first, then the older sign-in notification.
	auth.current = nil
	auth.deliver(nil)
	auth.deliver(alice)

	assert.Equal(t, CartUninitialized, f.cart.State())
	assert.Empty(t, f.cart.UserID())
}

func TestSession_SignOutDuringSignInNotification(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()

	auth := NewAuthService(repository.NewUserRepository(f.store), "test-secret", time.Hour, discardLogger())
	_, err := auth.SignUp(ctx, "shopper@example.com", "password123", "Shopper")
	require.NoError(t, err)
	auth.SignOut()

	orders := NewOrderStore(repository.NewOrderRepository(f.store), nil, discardLogger())
	session := NewSession(auth, f.cart, orders, discardLogger())
	session.Start(ctx)
	defer session.Close()

	// Listener order is not fixed, so repeat to hit both interleavings.
	for i := 0; i < 8; i++ {
		signOut := true
		remove := auth.OnAuthChange(func(u *model.User) {
			if u != nil && signOut {
				signOut = false
				auth.SignOut()
			}
		})

		_, err := auth.SignIn(ctx, "shopper@example.com", "password123")
		require.NoError(t, err)
		remove()

		require.Nil(t, auth.CurrentUser())
		assert.Empty(t, f.cart.UserID(), "run %d", i)
		assert.Equal(t, CartUninitialized, f.cart.State(), "run %d", i)
	}
}

func TestSession_ConcurrentIdentityChangesSettle(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()

	auth := NewAuthService(repository.NewUserRepository(f.store), "test-secret", time.Hour, discardLogger())
	_, err := auth.SignUp(ctx, "shopper@example.com", "password123", "Shopper")
	require.NoError(t, err)

	orders := NewOrderStore(repository.NewOrderRepository(f.store), nil, discardLogger())
	session := NewSession(auth, f.cart, orders, discardLogger())
	session.Start(ctx)
	defer session.Close()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = auth.SignIn(ctx, "shopper@example.com", "password123")
		}()
		go func() {
			defer wg.Done()
			auth.SignOut()
		}()
	}
	wg.Wait()

	if user := auth.CurrentUser(); user != nil {
		assert.Equal(t, user.ID, f.cart.UserID())
		assert.Equal(t, CartReady, f.cart.State())
	} else {
		assert.Empty(t, f.cart.UserID())
		assert.Equal(t, CartUninitialized, f.cart.State())
	}
}
