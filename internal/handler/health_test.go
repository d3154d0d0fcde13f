package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront/internal/docstore"
)

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("down") }

type stubConn struct{ closed bool }

func (c stubConn) IsClosed() bool { return c.closed }

func setupRouter(t *testing.T, store Pinger, conn BrokerConn) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	r := gin.New()
	NewHealthHandler(store, client, conn).Register(r)
	return r, mr
}

func get(r http.Handler, path string) (int, map[string]string) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func TestHealthz(t *testing.T) {
	r, _ := setupRouter(t, downStore{}, stubConn{closed: true})
	code, body := get(r, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestReadyz(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		r, _ := setupRouter(t, docstore.NewMemoryStore(), stubConn{})
		code, body := get(r, "/readyz")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "connected", body["store"])
	})

	t.Run("store down", func(t *testing.T) {
		r, _ := setupRouter(t, downStore{}, stubConn{})
		code, body := get(r, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unavailable", body["store"])
	})

	t.Run("redis down", func(t *testing.T) {
		r, mr := setupRouter(t, docstore.NewMemoryStore(), stubConn{})
		mr.Close()
		code, body := get(r, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unavailable", body["redis"])
	})

	t.Run("broker closed", func(t *testing.T) {
		r, _ := setupRouter(t, docstore.NewMemoryStore(), stubConn{closed: true})
		code, body := get(r, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unavailable", body["rabbitmq"])
	})
}
