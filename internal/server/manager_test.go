package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, handler http.Handler) *Manager {
	t.Helper()
	return NewManager("test", handler, Config{Addr: "127.0.0.1:0", ShutdownTimeout: 5 * time.Second}, zap.NewNop())
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{Addr: ":9090", WriteTimeout: time.Second}.withDefaults()
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, time.Second, cfg.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.ReadHeaderTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, ":8080", Config{}.withDefaults().Addr)
}

func TestManager_Lifecycle(t *testing.T) {
	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	assert.Empty(t, m.ListenAddr())
	assert.False(t, m.Running())

	require.NoError(t, m.Start())
	assert.True(t, m.Running())
	assert.ErrorContains(t, m.Start(), "already started")

	resp, err := http.Get("http://" + m.ListenAddr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.Running())
	assert.Empty(t, m.ListenAddr())
	assert.ErrorContains(t, m.Start(), "closed")
}

func TestManager_DrainRunsAfterListenerClosed(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())
	require.NoError(t, m.Start())
	addr := m.ListenAddr()

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) DrainFunc {
		return func(ctx context.Context) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)

			_, err := http.Get("http://" + addr + "/")
			assert.Error(t, err, "listener must be closed before draining")

			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	m.OnDrain(record("sessions"))
	m.OnDrain(record("groups"))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"sessions", "groups"}, order)
}

func TestManager_DrainWithoutStart(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())
	called := false
	m.OnDrain(func(context.Context) { called = true })

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, called)
}

func TestManager_WaitReturnsOnContextCancel(t *testing.T) {
	m := newTestManager(t, http.NewServeMux())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
	}
	assert.True(t, m.Running(), "Wait leaves shutdown to the caller")
}

func TestManager_ListenFailure(t *testing.T) {
	first := newTestManager(t, http.NewServeMux())
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	second := NewManager("dup", http.NewServeMux(), Config{Addr: first.ListenAddr()}, nil)
	assert.ErrorContains(t, second.Start(), "failed to listen")
	assert.False(t, second.Running())
}
