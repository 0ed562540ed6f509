package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{Address: ":0"})
	assert.Error(t, err)

	cfg := DefaultConfig("localhost:1337", http.NotFoundHandler())
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)

	srv, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "localhost:1337", srv.Addr())
}

func TestRunAndShutdown(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	cfg := DefaultConfig("127.0.0.1:0", handler)
	cfg.Logger = zap.New(core)
	srv, err := New(cfg)
	require.NoError(t, err)

	var hooked []string
	srv.OnShutdown(func(ctx context.Context) error {
		hooked = append(hooked, "teardown")
		return nil
	})
	srv.OnShutdown(func(ctx context.Context) error {
		return errors.New("flush failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	cancel()
	select {
	case err := <-done:
		assert.EqualError(t, err, "flush failed")
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.Equal(t, []string{"teardown"}, hooked)
	assert.Equal(t, 1, logs.FilterMessage("server started").Len())
	assert.Equal(t, 1, logs.FilterMessage("shutdown hook failed").Len())
}

func TestRunListenError(t *testing.T) {
	srv, err := New(DefaultConfig("256.0.0.1:99999", http.NotFoundHandler()))
	require.NoError(t, err)
	assert.Error(t, srv.Run(context.Background()))
}
