package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/nomanoma121/minecraft-discord-bot/internal/apperr"
	"github.com/nomanoma121/minecraft-discord-bot/internal/config"
	"github.com/nomanoma121/minecraft-discord-bot/internal/labels"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAppliesDefaults(t *testing.T) {
	env := newTestEnv(t)

	srv := env.create(t, "alpha")

	assert.Equal(t, owner, srv.OwnerID)
	assert.Equal(t, 20, srv.MaxPlayers)
	assert.Equal(t, models.DifficultyNormal, srv.Difficulty)
	assert.Equal(t, models.GamemodeSurvival, srv.Gamemode)
	assert.Equal(t, models.ServerTypePaper, srv.Type)
	assert.Equal(t, models.LevelNormal, srv.Level)
	assert.Equal(t, "A Minecraft server", srv.Description)
	assert.True(t, srv.PVP)
	assert.Equal(t, 1, env.runtime.pulls)
	assert.Contains(t, env.runtime.volumes, srv.ID)
	assert.Contains(t, env.events.types(), models.EventServerCreate)
}

func TestCreateStoresRecordInLabels(t *testing.T) {
	env := newTestEnv(t)
	srv := env.create(t, "alpha")

	inst, err := NewDirectory(env.runtime).FindByName(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, srv, inst.Server)
	assert.Equal(t, "created", inst.State)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]models.CreateServerRequest{
		"empty name":       {Name: "", Version: "1.21"},
		"long name":        {Name: strings.Repeat("a", 33), Version: "1.21"},
		"bad characters":   {Name: "alpha;rm -rf", Version: "1.21"},
		"missing version":  {Name: "alpha"},
		"too many players": {Name: "alpha", Version: "1.21", MaxPlayers: 101},
		"bad difficulty":   {Name: "alpha", Version: "1.21", Difficulty: "nightmare"},
		"bad op name":      {Name: "alpha", Version: "1.21", Ops: []string{"x y"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.servers.Create(context.Background(), owner, req)
			assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
		})
	}
	assert.Empty(t, env.runtime.containers)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "alpha")

	_, err := env.servers.Create(context.Background(), "someone-else", models.CreateServerRequest{Name: "alpha", Version: "1.21"})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestConcurrentCreatesWithSameName(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.servers.Create(context.Background(), owner, models.CreateServerRequest{Name: "alpha", Version: "1.21"})
		}()
	}
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if err != nil {
			require.Equal(t, apperr.KindConflict, apperr.KindOf(err))
			conflicts++
		}
	}
	assert.Equal(t, 1, conflicts)
	assert.Len(t, env.runtime.containers, 1)
}

func TestCreateRespectsServerCap(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxServers = 1 })
	env.create(t, "alpha")

	_, err := env.servers.Create(context.Background(), owner, models.CreateServerRequest{Name: "beta", Version: "1.21"})
	assert.Equal(t, apperr.KindCapacityExceeded, apperr.KindOf(err))
}

func TestCreateRemovesVolumeWhenContainerFails(t *testing.T) {
	env := newTestEnv(t)
	env.runtime.createErr = errors.New("daemon says no")

	_, err := env.servers.Create(context.Background(), owner, models.CreateServerRequest{Name: "alpha", Version: "1.21"})
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.Empty(t, env.runtime.volumes)
}

func TestStartWaitsForHealthy(t *testing.T) {
	env := newTestEnv(t)
	srv := env.createRunning(t, "alpha")

	st, err := env.servers.Status(context.Background(), srv.ID)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, "healthy", st.Health)
	assert.NotNil(t, st.StartedAt)
	assert.NotEmpty(t, st.Uptime)
}

func TestStartReportsUnhealthy(t *testing.T) {
	env := newTestEnv(t)
	srv := env.create(t, "alpha")
	env.runtime.health = healthUnhealthy

	err := env.servers.Start(context.Background(), srv.ID)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.ErrorContains(t, err, "unhealthy")
}

func TestStartTimesOut(t *testing.T) {
	env := newTestEnv(t)
	srv := env.create(t, "alpha")
	env.runtime.health = healthStarting

	err := env.servers.Start(context.Background(), srv.ID)
	assert.ErrorContains(t, err, string(HealthTimedOut))
}

func TestStartConflicts(t *testing.T) {
	env := newTestEnv(t)
	alpha := env.createRunning(t, "alpha")
	beta := env.create(t, "beta")

	err := env.servers.Start(context.Background(), alpha.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "already running")

	err = env.servers.Start(context.Background(), beta.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "running cap")
}

func TestStopRequiresRunning(t *testing.T) {
	env := newTestEnv(t)
	srv := env.create(t, "alpha")

	err := env.servers.Stop(context.Background(), srv.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	require.NoError(t, env.servers.Start(context.Background(), srv.ID))
	require.NoError(t, env.servers.Stop(context.Background(), srv.ID))

	st, err := env.servers.Status(context.Background(), srv.ID)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, "exited", st.State)
}

func TestUnknownServer(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(env.servers.Start(context.Background(), "nope")))
	_, err := env.servers.Status(context.Background(), "nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = env.servers.FindByName(context.Background(), "nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestEditRecreatesContainerKeepingVolume(t *testing.T) {
	env := newTestEnv(t)
	srv := env.create(t, "alpha")
	env.runtime.writeFile(srv.ID, "world/level.dat", "seed")

	updated, err := env.servers.Edit(context.Background(), owner, srv.ID, models.EditServerRequest{
		MaxPlayers: ptr(50),
		Difficulty: ptr(models.DifficultyHard),
	})
	require.NoError(t, err)
	assert.Equal(t, 50, updated.MaxPlayers)
	assert.Equal(t, models.DifficultyHard, updated.Difficulty)
	assert.Equal(t, srv.CreatedAt, updated.CreatedAt)

	st, err := env.servers.Status(context.Background(), srv.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, st.Server)
	assert.Len(t, env.runtime.containers, 1)
	assert.Equal(t, "seed", env.runtime.snapshot(srv.ID)["world/level.dat"])
}

func TestEditRules(t *testing.T) {
	env := newTestEnv(t)
	srv := env.create(t, "alpha")

	_, err := env.servers.Edit(context.Background(), owner, srv.ID, models.EditServerRequest{})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err), "empty edit")

	_, err = env.servers.Edit(context.Background(), "intruder", srv.ID, models.EditServerRequest{PVP: ptr(false)})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err), "not owner")

	_, err = env.servers.Edit(context.Background(), owner, srv.ID, models.EditServerRequest{MaxPlayers: ptr(0)})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err), "invalid value")

	require.NoError(t, env.servers.Start(context.Background(), srv.ID))
	_, err = env.servers.Edit(context.Background(), owner, srv.ID, models.EditServerRequest{PVP: ptr(false)})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "running")
}

func TestEditRestoresPreviousContainerOnFailure(t *testing.T) {
	env := newTestEnv(t)
	srv := env.create(t, "alpha")

	env.runtime.createErr = errors.New("boom")
	env.runtime.failCreates = 1
	_, err := env.servers.Edit(context.Background(), owner, srv.ID, models.EditServerRequest{PVP: ptr(false)})
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))

	st, err := env.servers.Status(context.Background(), srv.ID)
	require.NoError(t, err)
	assert.Equal(t, srv, st.Server)
}

func TestEditReportsLostRecord(t *testing.T) {
	env := newTestEnv(t)
	srv := env.create(t, "alpha")

	env.runtime.createErr = errors.New("boom")
	_, err := env.servers.Edit(context.Background(), owner, srv.ID, models.EditServerRequest{PVP: ptr(false)})
	assert.ErrorContains(t, err, "restore previous container")
	assert.Empty(t, env.runtime.containers)
	assert.Contains(t, env.runtime.volumes, srv.ID)
}

func TestDeleteRemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	srv := env.createRunning(t, "alpha")
	_, err := env.backups.CreateBackup(context.Background(), srv.ID)
	require.NoError(t, err)

	err = env.servers.Delete(context.Background(), "intruder", srv.ID)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	require.NoError(t, env.servers.Delete(context.Background(), owner, srv.ID))
	assert.Empty(t, env.runtime.containers)
	assert.NotContains(t, env.runtime.volumes, srv.ID)
	assert.NoDirExists(t, env.backups.store.dir(srv.ID))
	assert.Contains(t, env.events.types(), models.EventServerDelete)
}

func TestListAllSortedWithStatus(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "charlie")
	env.createRunning(t, "alpha")
	env.create(t, "bravo")

	all, err := env.servers.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Server.Name)
	assert.True(t, all[0].Running)
	assert.Equal(t, "bravo", all[1].Server.Name)
	assert.False(t, all[1].Running)
	assert.Equal(t, "charlie", all[2].Server.Name)
}

func TestListSkipsUndecodableContainers(t *testing.T) {
	env := newTestEnv(t)
	srv := env.create(t, "alpha")
	env.create(t, "bravo")

	env.runtime.mu.Lock()
	for _, c := range env.runtime.containers {
		if c.name == srv.ID {
			delete(c.config.Labels, labels.Prefix+"version")
		}
	}
	env.runtime.mu.Unlock()

	all, err := env.servers.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "bravo", all[0].Server.Name)
}

func TestSetIcon(t *testing.T) {
	env := newTestEnv(t)
	srv := env.create(t, "alpha")

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 128, 128))))

	updated, err := env.servers.SetIcon(context.Background(), owner, srv.ID, &buf)
	require.NoError(t, err)
	assert.FileExists(t, updated.IconPath)

	inst, err := NewDirectory(env.runtime).FindByID(context.Background(), srv.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.IconPath, inst.IconPath)

	_, err = env.servers.SetIcon(context.Background(), owner, srv.ID, strings.NewReader("not an image"))
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestContainerSpec(t *testing.T) {
	env := newTestEnv(t)
	srv := models.Server{
		ID: "id-1", Name: "alpha", Version: "1.21.1", MaxPlayers: 5,
		Difficulty: models.DifficultyEasy, Gamemode: models.GamemodeCreative, Type: models.ServerTypePaper,
		Level: models.LevelFlat, Description: "hi", Ops: []string{"steve", "alex"},
		IconPath: "/var/icons/id-1.png",
	}

	cfg, host, err := env.servers.containers.spec(srv)
	require.NoError(t, err)
	assert.Contains(t, cfg.Env, "EULA=TRUE")
	assert.Contains(t, cfg.Env, "MODE=creative")
	assert.Contains(t, cfg.Env, "LEVEL_TYPE=minecraft:flat")
	assert.Contains(t, cfg.Env, "OPS=steve,alex")
	assert.Contains(t, cfg.Env, "ICON=/icons/id-1.png")
	assert.Contains(t, host.Binds, "id-1:/data")
	assert.Contains(t, host.Binds, "/var/icons:/icons:ro")
	assert.Equal(t, "25565", host.PortBindings[GamePort][0].HostPort)
	assert.True(t, labels.IsManaged(cfg.Labels))
}

func TestPlayerManagement(t *testing.T) {
	env := newTestEnv(t)
	srv := env.create(t, "alpha")
	ctx := context.Background()

	err := env.servers.AddOperator(ctx, owner, srv.ID, "steve")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "not running")

	require.NoError(t, env.servers.Start(ctx, srv.ID))

	require.NoError(t, env.servers.AddOperator(ctx, owner, srv.ID, "steve"))
	require.NoError(t, env.servers.RemoveOperator(ctx, owner, srv.ID, "steve"))
	require.NoError(t, env.servers.AddToWhitelist(ctx, owner, srv.ID, "alex"))
	require.NoError(t, env.servers.RemoveFromWhitelist(ctx, owner, srv.ID, "alex"))
	require.NoError(t, env.servers.SetWhitelistEnabled(ctx, owner, srv.ID, true))
	assert.Equal(t, []string{"op steve", "deop steve", "whitelist add alex", "whitelist remove alex", "whitelist on"}, env.console.commands())

	err = env.servers.AddOperator(ctx, "intruder", srv.ID, "steve")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	err = env.servers.AddOperator(ctx, owner, srv.ID, "steve; stop")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	env.console.files[opsFile] = `[{"uuid":"069a79f4-44e9-4726-a5be-fca90e38aaf5","name":"Notch","level":4,"bypassesPlayerLimit":false}]`
	ops, err := env.servers.ListOperators(ctx, srv.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "Notch", ops[0].Name)
	assert.Equal(t, 4, ops[0].Level)

	env.console.files[whitelistFile] = `not json`
	_, err = env.servers.ListWhitelist(ctx, srv.ID)
	assert.Equal(t, apperr.KindDecode, apperr.KindOf(err))
}
