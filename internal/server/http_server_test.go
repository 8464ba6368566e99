package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateServer(t *testing.T) {
	handler := http.NewServeMux()
	srv := CreateServer(":9999", handler)

	assert.Equal(t, ":9999", srv.Addr)
	assert.Same(t, handler, srv.Handler)
	assert.Equal(t, 10*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 15*time.Second, srv.WriteTimeout)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)
}

func TestStartAndShutdownServer(t *testing.T) {
	srv := CreateServer("127.0.0.1:0", http.NewServeMux())
	log := discardLogger()

	errc := make(chan error, 1)
	go func() { errc <- StartServer(srv, log) }()

	// Shutdown may race the listener coming up; either way Start returns nil.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ShutdownServer(srv, time.Second, log))

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StartServer did not return after shutdown")
	}
}
