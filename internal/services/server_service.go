package services

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nomanoma121/minecraft-discord-bot/internal/apperr"
	"github.com/nomanoma121/minecraft-discord-bot/internal/config"
	"github.com/nomanoma121/minecraft-discord-bot/internal/icons"
	"github.com/nomanoma121/minecraft-discord-bot/internal/labels"
	"github.com/nomanoma121/minecraft-discord-bot/internal/lifecycle"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxPlayers  = 20
	defaultDescription = "A Minecraft server"
	statusConcurrency  = 8
)

var (
	serverNamePattern = regexp.MustCompile(`^[A-Za-z0-9 _.-]{1,32}$`)
	versionPattern    = regexp.MustCompile(`^[A-Za-z0-9._-]{1,32}$`)
	playerNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)
)

// ServerServiceProvider defines the interface for server lifecycle services.
type ServerServiceProvider interface {
	Create(ctx context.Context, ownerID string, req models.CreateServerRequest) (models.Server, error)
	Edit(ctx context.Context, callerID, id string, req models.EditServerRequest) (models.Server, error)
	Delete(ctx context.Context, callerID, id string) error
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (models.ServerStatus, error)
	FindByName(ctx context.Context, name string) (models.ServerStatus, error)
	ListAll(ctx context.Context) ([]models.ServerStatus, error)
	ListRunning(ctx context.Context) ([]models.Instance, error)
	SetIcon(ctx context.Context, callerID, id string, img io.Reader) (models.Server, error)

	ListOperators(ctx context.Context, id string) ([]models.Operator, error)
	AddOperator(ctx context.Context, callerID, id, player string) error
	RemoveOperator(ctx context.Context, callerID, id, player string) error
	ListWhitelist(ctx context.Context, id string) ([]models.WhitelistEntry, error)
	AddToWhitelist(ctx context.Context, callerID, id, player string) error
	RemoveFromWhitelist(ctx context.Context, callerID, id, player string) error
	SetWhitelistEnabled(ctx context.Context, callerID, id string, enabled bool) error
}

// ServerService creates, edits, starts, stops and deletes server instances. Every mutation runs
// under the lifecycle lock; reads do not.
type ServerService struct {
	cfg        *config.Config
	runtime    ContainerRuntime
	console    Console
	lock       *lifecycle.Lock
	dir        *Directory
	containers containerFactory
	health     *HealthPoller
	backups    *BackupService
	events     EventServiceProvider
	hub        Broadcaster
	now        func() time.Time
}

// NewServerService creates a new ServerService. hub may be nil.
func NewServerService(cfg *config.Config, runtime ContainerRuntime, console Console, lock *lifecycle.Lock, backups *BackupService, events EventServiceProvider, hub Broadcaster) *ServerService {
	return &ServerService{
		cfg:        cfg,
		runtime:    runtime,
		console:    console,
		lock:       lock,
		dir:        NewDirectory(runtime),
		containers: containerFactory{cfg: cfg, runtime: runtime},
		health:     NewHealthPoller(runtime, cfg.HealthInterval, cfg.HealthTimeout),
		backups:    backups,
		events:     events,
		hub:        hub,
		now:        time.Now,
	}
}

// Create validates the request, fills defaults and creates the volume and container of a new
// server owned by ownerID.
func (s *ServerService) Create(ctx context.Context, ownerID string, req models.CreateServerRequest) (models.Server, error) {
	server, err := s.newServer(ownerID, req)
	if err != nil {
		return models.Server{}, err
	}

	err = s.lock.Do(ctx, func(ctx context.Context) error {
		existing, err := s.dir.ListManaged(ctx)
		if err != nil {
			return err
		}
		if len(existing) >= s.cfg.MaxServers {
			return apperr.CapacityExceeded("the maximum of %d servers has been reached", s.cfg.MaxServers)
		}
		for _, inst := range existing {
			if inst.Name == server.Name {
				return apperr.Conflict("the server name %q is already taken", server.Name)
			}
		}

		if err := s.runtime.EnsureImage(ctx, s.cfg.Image); err != nil {
			return apperr.Upstream(err, "ensure image %s", s.cfg.Image)
		}
		if err := s.runtime.CreateVolume(ctx, server.ID, labels.ForVolume(server.ID)); err != nil {
			return apperr.Upstream(err, "create volume")
		}
		if _, err := s.containers.create(ctx, server); err != nil {
			if rmErr := s.runtime.RemoveVolume(ctx, server.ID); rmErr != nil {
				log.Error().Err(rmErr).Str("server_id", server.ID).Msg("Failed to remove volume of failed create")
			}
			return apperr.Upstream(err, "create container")
		}
		return nil
	})
	if err != nil {
		return models.Server{}, err
	}

	log.Info().Str("server_id", server.ID).Str("name", server.Name).Str("owner_id", ownerID).Msg("Server created")
	emit(s.events, models.EventServerCreate, models.SeverityInfo, fmt.Sprintf("Server '%s' was created.", server.Name), server.ID)
	s.publish(ctx, server.ID)
	return server, nil
}

func (s *ServerService) newServer(ownerID string, req models.CreateServerRequest) (models.Server, error) {
	if ownerID == "" {
		return models.Server{}, apperr.Unauthorized("a caller identity is required")
	}
	now := s.now().UTC()
	server := models.Server{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		Name:            strings.TrimSpace(req.Name),
		Version:         req.Version,
		MaxPlayers:      req.MaxPlayers,
		Difficulty:      req.Difficulty,
		Gamemode:        req.Gamemode,
		Type:            req.Type,
		Description:     req.Description,
		Level:           req.Level,
		PVP:             true,
		Hardcore:        req.Hardcore,
		EnableWhitelist: req.EnableWhitelist,
		Ops:             req.Ops,
		Whitelist:       req.Whitelist,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.PVP != nil {
		server.PVP = *req.PVP
	}
	if server.MaxPlayers == 0 {
		server.MaxPlayers = defaultMaxPlayers
	}
	if server.Difficulty == "" {
		server.Difficulty = models.DifficultyNormal
	}
	if server.Gamemode == "" {
		server.Gamemode = models.GamemodeSurvival
	}
	if server.Type == "" {
		server.Type = models.ServerTypePaper
	}
	if server.Level == "" {
		server.Level = models.LevelNormal
	}
	if server.Description == "" {
		server.Description = defaultDescription
	}

	if !serverNamePattern.MatchString(server.Name) {
		return models.Server{}, apperr.Invalid("server name must be 1-32 characters of letters, digits, spaces, '_', '.' or '-'")
	}
	if err := validateServer(server); err != nil {
		return models.Server{}, err
	}
	return server, nil
}

func validateServer(s models.Server) error {
	switch {
	case !versionPattern.MatchString(s.Version):
		return apperr.Invalid("a valid version is required, e.g. 1.21.1 or LATEST")
	case s.MaxPlayers < 1 || s.MaxPlayers > 100:
		return apperr.Invalid("max players must be between 1 and 100")
	case !s.Difficulty.Valid():
		return apperr.Invalid("unknown difficulty %q", s.Difficulty)
	case !s.Gamemode.Valid():
		return apperr.Invalid("unknown gamemode %q", s.Gamemode)
	case !s.Type.Valid():
		return apperr.Invalid("unknown server type %q", s.Type)
	case !s.Level.Valid():
		return apperr.Invalid("unknown level type %q", s.Level)
	case len(s.Description) > 256:
		return apperr.Invalid("description must be at most 256 characters")
	}
	for _, p := range append(append([]string{}, s.Ops...), s.Whitelist...) {
		if !playerNamePattern.MatchString(p) {
			return apperr.Invalid("invalid player name %q", p)
		}
	}
	return nil
}

// Edit replaces a stopped server's container with one carrying the updated record. The data
// volume is kept.
func (s *ServerService) Edit(ctx context.Context, callerID, id string, req models.EditServerRequest) (models.Server, error) {
	if req.Empty() {
		return models.Server{}, apperr.Invalid("at least one field must be changed")
	}

	var updated models.Server
	err := s.lock.Do(ctx, func(ctx context.Context) error {
		inst, err := s.ownedStopped(ctx, callerID, id, "edit")
		if err != nil {
			return err
		}
		updated, err = s.applyEdit(ctx, inst, req)
		return err
	})
	if err != nil {
		return models.Server{}, err
	}

	emit(s.events, models.EventServerEdit, models.SeverityInfo, fmt.Sprintf("Server '%s' was edited.", updated.Name), updated.ID)
	s.publish(ctx, updated.ID)
	return updated, nil
}

// applyEdit recreates inst's container with req applied. If the new container cannot be
// created, the previous one is recreated so the record is not lost. The caller holds the lock.
func (s *ServerService) applyEdit(ctx context.Context, inst models.Instance, req models.EditServerRequest) (models.Server, error) {
	updated := inst.Server
	applyEditRequest(&updated, req)
	if err := validateServer(updated); err != nil {
		return models.Server{}, err
	}
	updated.UpdatedAt = s.now().UTC()

	if err := s.runtime.RemoveContainer(ctx, inst.ContainerID); err != nil {
		return models.Server{}, apperr.Upstream(err, "remove container")
	}
	if _, err := s.containers.replace(ctx, updated, inst.Server); err != nil {
		return models.Server{}, err
	}
	return updated, nil
}

func applyEditRequest(s *models.Server, req models.EditServerRequest) {
	if req.Version != nil {
		s.Version = *req.Version
	}
	if req.MaxPlayers != nil {
		s.MaxPlayers = *req.MaxPlayers
	}
	if req.Difficulty != nil {
		s.Difficulty = *req.Difficulty
	}
	if req.Gamemode != nil {
		s.Gamemode = *req.Gamemode
	}
	if req.Description != nil {
		s.Description = *req.Description
	}
	if req.Level != nil {
		s.Level = *req.Level
	}
	if req.PVP != nil {
		s.PVP = *req.PVP
	}
	if req.Hardcore != nil {
		s.Hardcore = *req.Hardcore
	}
	if req.EnableWhitelist != nil {
		s.EnableWhitelist = *req.EnableWhitelist
	}
	if req.Ops != nil {
		s.Ops = *req.Ops
	}
	if req.Whitelist != nil {
		s.Whitelist = *req.Whitelist
	}
	if req.IconPath != nil {
		s.IconPath = *req.IconPath
	}
}

// Delete stops and removes a server's container, volume, backups and icon.
func (s *ServerService) Delete(ctx context.Context, callerID, id string) error {
	var name string
	err := s.lock.Do(ctx, func(ctx context.Context) error {
		inst, err := s.dir.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if inst.OwnerID != callerID {
			return apperr.Unauthorized("only the owner of '%s' can delete it", inst.Name)
		}
		name = inst.Name

		if inst.Running() {
			if err := s.runtime.StopContainer(ctx, inst.ContainerID, s.cfg.StopTimeout); err != nil {
				return apperr.Upstream(err, "stop container")
			}
		}
		if err := s.runtime.RemoveContainer(ctx, inst.ContainerID); err != nil {
			return apperr.Upstream(err, "remove container")
		}
		// The record is gone with the container; remaining cleanup only logs.
		if err := s.runtime.RemoveVolume(ctx, id); err != nil {
			log.Error().Err(err).Str("server_id", id).Msg("Failed to remove server volume")
		}
		if s.backups != nil {
			if err := s.backups.removeAll(ctx, id); err != nil {
				log.Error().Err(err).Str("server_id", id).Msg("Failed to remove server backups")
			}
		}
		if err := icons.Remove(s.cfg.IconPath, id); err != nil {
			log.Warn().Err(err).Str("server_id", id).Msg("Failed to remove server icon")
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("server_id", id).Str("name", name).Msg("Server deleted")
	emit(s.events, models.EventServerDelete, models.SeverityWarn, fmt.Sprintf("Server '%s' was permanently deleted.", name), "")
	if s.hub != nil {
		s.hub.Publish(ActionServerDeleted, id, map[string]string{"id": id})
	}
	return nil
}

// Start starts a stopped server and waits for it to report healthy.
func (s *ServerService) Start(ctx context.Context, id string) error {
	var name string
	err := s.lock.Do(ctx, func(ctx context.Context) error {
		inst, err := s.dir.FindByID(ctx, id)
		if err != nil {
			return err
		}
		name = inst.Name
		if inst.Running() {
			return apperr.Conflict("server %q is already running", inst.Name)
		}
		running, err := s.dir.ListRunning(ctx)
		if err != nil {
			return err
		}
		if len(running) >= s.cfg.MaxRunningServers {
			return apperr.Conflict("only %d server(s) may run at once; stop %q first", s.cfg.MaxRunningServers, running[0].Name)
		}

		log.Info().Str("server_id", id).Str("container_id", inst.ContainerID).Msg("Starting container")
		if err := s.runtime.StartContainer(ctx, inst.ContainerID); err != nil {
			return apperr.Upstream(err, "start container")
		}
		s.publish(ctx, id)

		state, err := s.health.Wait(ctx, inst.ContainerID)
		if err != nil {
			return err
		}
		if state != HealthHealthy {
			return apperr.New(apperr.KindUpstream, "server %q did not become healthy: %s", inst.Name, state)
		}
		return nil
	})
	if err != nil {
		if name != "" {
			emit(s.events, models.EventServerStart, models.SeverityError, fmt.Sprintf("Server '%s' failed to start: %v", name, err), id)
			s.publish(ctx, id)
		}
		return err
	}

	emit(s.events, models.EventServerStart, models.SeverityInfo, fmt.Sprintf("Server '%s' has started.", name), id)
	s.publish(ctx, id)
	return nil
}

// Stop gracefully stops a running server.
func (s *ServerService) Stop(ctx context.Context, id string) error {
	var name string
	err := s.lock.Do(ctx, func(ctx context.Context) error {
		inst, err := s.dir.FindByID(ctx, id)
		if err != nil {
			return err
		}
		name = inst.Name
		if !inst.Running() {
			return apperr.Conflict("server %q is not running", inst.Name)
		}
		log.Info().Str("server_id", id).Str("container_id", inst.ContainerID).Msg("Stopping container")
		if err := s.runtime.StopContainer(ctx, inst.ContainerID, s.cfg.StopTimeout); err != nil {
			return apperr.Upstream(err, "stop container")
		}
		return nil
	})
	if err != nil {
		return err
	}

	emit(s.events, models.EventServerStop, models.SeverityInfo, fmt.Sprintf("Server '%s' was stopped.", name), id)
	s.publish(ctx, id)
	return nil
}

// Status returns a server's record together with its container state.
func (s *ServerService) Status(ctx context.Context, id string) (models.ServerStatus, error) {
	inst, err := s.dir.FindByID(ctx, id)
	if err != nil {
		return models.ServerStatus{}, err
	}
	return s.statusOf(ctx, inst)
}

// FindByName returns the status of the server with the given name.
func (s *ServerService) FindByName(ctx context.Context, name string) (models.ServerStatus, error) {
	inst, err := s.dir.FindByName(ctx, name)
	if err != nil {
		return models.ServerStatus{}, err
	}
	return s.statusOf(ctx, inst)
}

// ListAll returns the status of every managed server, sorted by name.
func (s *ServerService) ListAll(ctx context.Context) ([]models.ServerStatus, error) {
	instances, err := s.dir.ListManaged(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]models.ServerStatus, len(instances))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)
	for i, inst := range instances {
		g.Go(func() error {
			st, err := s.statusOf(gctx, inst)
			if err != nil {
				return err
			}
			statuses[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Server.Name < statuses[j].Server.Name })
	return statuses, nil
}

// ListRunning returns the running managed instances.
func (s *ServerService) ListRunning(ctx context.Context) ([]models.Instance, error) {
	return s.dir.ListRunning(ctx)
}

func (s *ServerService) statusOf(ctx context.Context, inst models.Instance) (models.ServerStatus, error) {
	info, err := s.runtime.InspectContainer(ctx, inst.ContainerID)
	if err != nil {
		return models.ServerStatus{}, apperr.Upstream(err, "inspect container of %q", inst.Name)
	}

	st := models.ServerStatus{Server: inst.Server, State: inst.State}
	if info.ContainerJSONBase == nil || info.State == nil {
		return st, nil
	}
	st.State = string(info.State.Status)
	st.Running = info.State.Running
	if info.State.Health != nil {
		st.Health = string(info.State.Health.Status)
	}
	if t, ok := parseDockerTime(info.State.StartedAt); ok {
		st.StartedAt = &t
		if st.Running {
			st.Uptime = s.now().Sub(t).Truncate(time.Second).String()
		}
	}
	if t, ok := parseDockerTime(info.State.FinishedAt); ok && !st.Running {
		st.FinishedAt = &t
	}
	return st, nil
}

// parseDockerTime parses an inspect timestamp; Docker reports unset times as the zero time.
func parseDockerTime(v string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil || t.IsZero() || t.Year() <= 1 {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// SetIcon normalizes an uploaded image to a 64x64 PNG, stores it and recreates the stopped
// server's container to use it.
func (s *ServerService) SetIcon(ctx context.Context, callerID, id string, img io.Reader) (models.Server, error) {
	data, err := icons.Normalize(img)
	if err != nil {
		return models.Server{}, apperr.Wrap(apperr.KindInvalid, err, "unsupported icon image")
	}

	var updated models.Server
	err = s.lock.Do(ctx, func(ctx context.Context) error {
		inst, err := s.ownedStopped(ctx, callerID, id, "change the icon of")
		if err != nil {
			return err
		}
		path, err := icons.Store(s.cfg.IconPath, id, data)
		if err != nil {
			return apperr.Upstream(err, "store icon")
		}
		updated, err = s.applyEdit(ctx, inst, models.EditServerRequest{IconPath: &path})
		return err
	})
	if err != nil {
		return models.Server{}, err
	}

	emit(s.events, models.EventServerEdit, models.SeverityInfo, fmt.Sprintf("Server '%s' has a new icon.", updated.Name), updated.ID)
	s.publish(ctx, updated.ID)
	return updated, nil
}

// ownedStopped finds a server that callerID owns and that is not running.
func (s *ServerService) ownedStopped(ctx context.Context, callerID, id, action string) (models.Instance, error) {
	inst, err := s.dir.FindByID(ctx, id)
	if err != nil {
		return models.Instance{}, err
	}
	if inst.OwnerID != callerID {
		return models.Instance{}, apperr.Unauthorized("only the owner of '%s' can %s it", inst.Name, action)
	}
	if inst.Running() {
		return models.Instance{}, apperr.Conflict("server %q must be stopped to %s it", inst.Name, action)
	}
	return inst, nil
}

// publish pushes the server's current status to websocket clients.
func (s *ServerService) publish(ctx context.Context, id string) {
	if s.hub == nil {
		return
	}
	st, err := s.Status(context.WithoutCancel(ctx), id)
	if err != nil {
		log.Debug().Err(err).Str("server_id", id).Msg("Skipping server update broadcast")
		return
	}
	s.hub.Publish(ActionServerUpdate, id, st)
}
