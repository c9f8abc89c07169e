package services

import (
	"context"
	"testing"
	"time"

	"github.com/nomanoma121/minecraft-discord-bot/internal/config"
	"github.com/nomanoma121/minecraft-discord-bot/internal/lifecycle"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/stretchr/testify/require"
)

const owner = "owner-1"

type testEnv struct {
	cfg     *config.Config
	runtime *fakeRuntime
	console *fakeConsole
	events  *recordingEvents
	lock    *lifecycle.Lock
	servers *ServerService
	backups *BackupService
}

func newTestEnv(t *testing.T, tweak ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.JWTSecret = "test"
	cfg.BackupPath = t.TempDir()
	cfg.IconPath = t.TempDir()
	cfg.MinFreeDiskBytes = 0
	cfg.HealthInterval = 5 * time.Millisecond
	cfg.HealthTimeout = 200 * time.Millisecond
	cfg.LockTimeout = 5 * time.Second
	for _, f := range tweak {
		f(cfg)
	}

	env := &testEnv{
		cfg:     cfg,
		runtime: newFakeRuntime(),
		console: newFakeConsole(),
		events:  &recordingEvents{},
		lock:    lifecycle.New(cfg.LockTimeout, ""),
	}
	env.backups = NewBackupService(cfg, env.runtime, env.console, env.lock, NewRetentionPolicy(cfg), nil, env.events, nil)
	env.servers = NewServerService(cfg, env.runtime, env.console, env.lock, env.backups, env.events, nil)
	return env
}

func (e *testEnv) create(t *testing.T, name string) models.Server {
	t.Helper()
	srv, err := e.servers.Create(context.Background(), owner, models.CreateServerRequest{Name: name, Version: "1.21.1"})
	require.NoError(t, err)
	return srv
}

func (e *testEnv) createRunning(t *testing.T, name string) models.Server {
	t.Helper()
	srv := e.create(t, name)
	require.NoError(t, e.servers.Start(context.Background(), srv.ID))
	return srv
}

func ptr[T any](v T) *T { return &v }
