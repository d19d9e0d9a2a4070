package main

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotamux/quotamux/cmd/quotamux/di"
)

// serveTestConfigYAML binds to an ephemeral port so the real server
// started from this container doesn't collide with anything else
// listening on the test host.
const serveTestConfigYAML = `
api_keys:
  - key: "test-key"

rpm_limits:
  gemini-1.5-flash: 60

server:
  listen: "127.0.0.1:0"
  auth:
    bearer_token: "secret"
`

func createServeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(serveTestConfigYAML), 0o600))
	return path
}

func TestDIContainerInitialization(t *testing.T) {
	t.Run("creates container with valid config", func(t *testing.T) {
		configPath := createServeTestConfig(t)

		container, err := di.NewContainer(configPath)
		require.NoError(t, err)
		require.NotNil(t, container)

		cfgSvc := di.MustInvoke[*di.ConfigService](container)
		assert.NotNil(t, cfgSvc.Config)

		serverSvc, err := di.Invoke[*di.ServerService](container)
		require.NoError(t, err)
		assert.NotNil(t, serverSvc)

		assert.NoError(t, container.Shutdown())
	})

	t.Run("invalid config surfaces once a service is resolved", func(t *testing.T) {
		// NewContainer only registers providers; samber/do resolves
		// them lazily, so the load/validate error only surfaces on
		// the first Invoke of ConfigService (directly, or via
		// HealthCheck).
		dir := t.TempDir()
		path := filepath.Join(dir, "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("invalid: yaml: content: ["), 0o600))

		container, err := di.NewContainer(path)
		require.NoError(t, err)
		require.NotNil(t, container)

		assert.Error(t, container.HealthCheck())
	})
}

func TestRunWithGracefulShutdown(t *testing.T) {
	t.Run("shutdown on SIGTERM", func(t *testing.T) {
		configPath := createServeTestConfig(t)

		container, err := di.NewContainer(configPath)
		require.NoError(t, err)

		serverSvc, err := di.Invoke[*di.ServerService](container)
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			errCh <- runWithGracefulShutdown(serverSvc, container, "127.0.0.1:0")
		}()

		// Give the server a moment to start accepting.
		time.Sleep(50 * time.Millisecond)

		p, err := os.FindProcess(os.Getpid())
		require.NoError(t, err)
		require.NoError(t, p.Signal(syscall.SIGTERM))

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestServerIntegration(t *testing.T) {
	t.Run("server starts and accepts connections", func(t *testing.T) {
		configPath := createServeTestConfig(t)

		container, err := di.NewContainer(configPath)
		require.NoError(t, err)
		defer func() { _ = container.Shutdown() }()

		serverSvc, err := di.Invoke[*di.ServerService](container)
		require.NoError(t, err)

		serverErr := make(chan error, 1)
		go func() {
			serverErr <- serverSvc.ListenAndServe()
		}()

		time.Sleep(50 * time.Millisecond)

		require.NoError(t, serverSvc.Shutdown())

		select {
		case err := <-serverErr:
			assert.Error(t, err) // http.ErrServerClosed
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	})
}
