package services

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/nomanoma121/minecraft-discord-bot/internal/apperr"
	"github.com/nomanoma121/minecraft-discord-bot/internal/config"
	"github.com/nomanoma121/minecraft-discord-bot/internal/labels"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	GamePort = "25565/tcp"
	RCONPort = "25575/tcp"

	iconMountPath = "/icons"
)

// containerFactory turns server records into containers. The container labels are the record,
// so whoever removes a server's container must create a new one or the server is gone.
type containerFactory struct {
	cfg     *config.Config
	runtime ContainerRuntime
}

// create creates the container that stores server's record in its labels.
func (f containerFactory) create(ctx context.Context, server models.Server) (string, error) {
	cfg, hostCfg, err := f.spec(server)
	if err != nil {
		return "", err
	}
	return f.runtime.CreateContainer(ctx, cfg, hostCfg, server.ID)
}

// replace creates the container of next after the old one was removed. If that fails it creates a
// container for prev instead and still returns the error, along with the id of the container that
// now exists. An empty id means neither could be created and the record is lost.
func (f containerFactory) replace(ctx context.Context, next, prev models.Server) (string, error) {
	id, err := f.create(ctx, next)
	if err == nil {
		return id, nil
	}
	createErr := apperr.Upstream(err, "create container")
	id, rbErr := f.create(ctx, prev)
	if rbErr != nil {
		log.Error().Err(rbErr).Str("server_id", prev.ID).Msg("Failed to restore previous container, server record is lost")
		return "", errors.Join(createErr, apperr.Upstream(rbErr, "restore previous container"))
	}
	log.Warn().Err(err).Str("server_id", prev.ID).Msg("Container creation failed, previous container restored")
	return id, createErr
}

// resetVolume replaces a stopped server's data volume with an empty one. The container is removed
// and created again around it, so the returned container id is new.
func (f containerFactory) resetVolume(ctx context.Context, inst models.Instance) (string, error) {
	if err := f.runtime.RemoveContainer(ctx, inst.ContainerID); err != nil {
		return "", apperr.Upstream(err, "remove container")
	}

	var volErr error
	if err := f.runtime.RemoveVolume(ctx, inst.ID); err != nil {
		volErr = apperr.Upstream(err, "remove volume")
	} else if err := f.runtime.CreateVolume(ctx, inst.ID, labels.ForVolume(inst.ID)); err != nil {
		volErr = apperr.Upstream(err, "create volume")
	}

	id, err := f.replace(ctx, inst.Server, inst.Server)
	if id == "" {
		return "", errors.Join(volErr, err)
	}
	if err != nil {
		log.Warn().Err(err).Str("server_id", inst.ID).Msg("Recreated container on second attempt")
	}
	return id, volErr
}

func (f containerFactory) spec(server models.Server) (*container.Config, *container.HostConfig, error) {
	env := []string{
		"EULA=TRUE",
		"SERVER_NAME=" + server.Name,
		"MOTD=" + server.Description,
		"VERSION=" + server.Version,
		"TYPE=" + string(server.Type),
		"MODE=" + string(server.Gamemode),
		"DIFFICULTY=" + string(server.Difficulty),
		"MAX_PLAYERS=" + strconv.Itoa(server.MaxPlayers),
		"LEVEL_TYPE=minecraft:" + string(server.Level),
		"PVP=" + strconv.FormatBool(server.PVP),
		"HARDCORE=" + strconv.FormatBool(server.Hardcore),
		"ENABLE_WHITELIST=" + strconv.FormatBool(server.EnableWhitelist),
		"ENABLE_RCON=true",
		"RCON_PASSWORD=" + f.cfg.RCONPassword,
	}
	if len(server.Ops) > 0 {
		env = append(env, "OPS="+strings.Join(server.Ops, ","))
	}
	if len(server.Whitelist) > 0 {
		env = append(env, "WHITELIST="+strings.Join(server.Whitelist, ","))
	}

	binds := []string{server.ID + ":" + DataPath}
	if server.IconPath != "" {
		iconDir, err := filepath.Abs(filepath.Dir(server.IconPath))
		if err != nil {
			return nil, nil, err
		}
		binds = append(binds, iconDir+":"+iconMountPath+":ro")
		env = append(env, "ICON="+iconMountPath+"/"+filepath.Base(server.IconPath), "OVERRIDE_ICON=TRUE")
	}

	cfg := &container.Config{
		Image:  f.cfg.Image,
		Env:    env,
		Labels: labels.Encode(server),
		ExposedPorts: nat.PortSet{
			GamePort: struct{}{},
			RCONPort: struct{}{},
		},
		OpenStdin: true,
	}
	hostCfg := &container.HostConfig{
		Binds: binds,
		PortBindings: nat.PortMap{
			GamePort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(f.cfg.GamePort)}},
			RCONPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(f.cfg.RCONPort)}},
		},
	}
	return cfg, hostCfg, nil
}
