package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vidtube/internal/logging"
	"github.com/dmitrijs2005/vidtube/internal/server/config"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.Storage = config.StorageMemory
	c.EndpointAddrHTTP = "127.0.0.1:0"
	c.EndpointAddrGRPC = "127.0.0.1:0"
	c.UploadDir = filepath.Join(t.TempDir(), "uploads")
	c.PasswordCost = 4
	c.LogLevel = "error"
	return c
}

func TestOpenStore_Memory(t *testing.T) {
	db, m, err := OpenStore(context.Background(), memoryConfig(t))
	require.NoError(t, err)
	assert.Nil(t, db)
	require.NotNil(t, m)
	assert.Same(t, m.Accounts(nil), m.Accounts(nil), "memory backend shares one store")
}

func TestNewAccountService_RejectsBadTokenConfig(t *testing.T) {
	c := memoryConfig(t)
	c.RefreshTokenSecret = c.AccessTokenSecret

	_, m, err := OpenStore(context.Background(), c)
	require.NoError(t, err)
	_, err = NewAccountService(c, nil, m, nil, nil, logging.Nop())
	assert.Error(t, err)
}

func TestNewAccountService_SetPassword(t *testing.T) {
	c := memoryConfig(t)
	_, m, err := OpenStore(context.Background(), c)
	require.NoError(t, err)

	svc, err := NewAccountService(c, nil, m, nil, nil, logging.Nop())
	require.NoError(t, err)

	// operator reset on a missing account is reported, not swallowed
	assert.Error(t, svc.SetPassword(context.Background(), "ghost", "pw"))
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	c := memoryConfig(t)
	app, err := NewApp(context.Background(), c)
	require.NoError(t, err)
	assert.DirExists(t, c.UploadDir)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("app did not stop after context cancellation")
	}
}
