package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/nomanoma121/minecraft-discord-bot/internal/apperr"
	"github.com/nomanoma121/minecraft-discord-bot/internal/config"
	"github.com/nomanoma121/minecraft-discord-bot/internal/lifecycle"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/nomanoma121/minecraft-discord-bot/internal/timestamp"
	"github.com/rs/zerolog/log"
)

// LatestBackup selects the newest backup where a timestamp is expected.
const LatestBackup = "latest"

// DataPath is the game data directory inside a server container, backed by its volume.
const DataPath = "/data"

const (
	saveOnTimeout = 30 * time.Second
	mirrorTimeout = 10 * time.Minute
)

// BackupServiceProvider defines the interface for backup services.
type BackupServiceProvider interface {
	CreateBackup(ctx context.Context, serverID string) (models.Backup, error)
	RestoreBackup(ctx context.Context, callerID, serverID, stamp string) (models.Backup, error)
	DeleteBackup(ctx context.Context, callerID, serverID, stamp string) error
	ListBackups(ctx context.Context, serverID string) ([]models.Backup, error)
}

// BackupService archives and restores server data volumes.
type BackupService struct {
	runtime    ContainerRuntime
	console    Console
	lock       *lifecycle.Lock
	dir        *Directory
	containers containerFactory
	store      backupStore
	retention  *RetentionPolicy
	mirror     BackupMirror
	events     EventServiceProvider
	hub        Broadcaster
	now        func() time.Time
}

// NewBackupService creates a new BackupService. mirror and hub may be nil.
func NewBackupService(cfg *config.Config, runtime ContainerRuntime, console Console, lock *lifecycle.Lock, retention *RetentionPolicy, mirror BackupMirror, events EventServiceProvider, hub Broadcaster) *BackupService {
	if err := os.MkdirAll(cfg.BackupPath, 0o755); err != nil {
		log.Error().Err(err).Str("backup_path", cfg.BackupPath).Msg("Failed to create base backup directory")
	}
	return &BackupService{
		runtime:    runtime,
		console:    console,
		lock:       lock,
		dir:        NewDirectory(runtime),
		containers: containerFactory{cfg: cfg, runtime: runtime},
		store:      backupStore{root: cfg.BackupPath},
		retention:  retention,
		mirror:     mirror,
		events:     events,
		hub:        hub,
		now:        time.Now,
	}
}

// WithSafeSave runs action with world saving paused and flushed to disk. save-on always runs
// afterwards, on a context of its own; if it fails the error is logged and joined into the
// result.
func (s *BackupService) WithSafeSave(ctx context.Context, containerID string, action func(ctx context.Context) error) (err error) {
	defer func() {
		onCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveOnTimeout)
		defer cancel()
		if _, onErr := s.console.Run(onCtx, containerID, "save-on"); onErr != nil {
			log.Error().Err(onErr).Str("container_id", containerID).Msg("Failed to re-enable autosave, world saving is OFF")
			err = errors.Join(err, apperr.Upstream(onErr, "re-enable autosave"))
		}
	}()

	if _, err := s.console.Run(ctx, containerID, "save-off"); err != nil {
		return apperr.Upstream(err, "disable autosave")
	}
	if _, err := s.console.Run(ctx, containerID, "save-all", "flush"); err != nil {
		return apperr.Upstream(err, "flush world to disk")
	}
	return action(ctx)
}

// CreateBackup archives a running server's data volume.
func (s *BackupService) CreateBackup(ctx context.Context, serverID string) (models.Backup, error) {
	var backup models.Backup
	err := s.lock.Do(ctx, func(ctx context.Context) error {
		inst, err := s.dir.FindByID(ctx, serverID)
		if err != nil {
			return err
		}
		if !inst.Running() {
			return apperr.Conflict("server %q must be running to back up", inst.Name)
		}

		evicted, err := s.retention.Check(serverID)
		for _, old := range evicted {
			s.removeMirrored(ctx, serverID, old.Timestamp)
			emit(s.events, models.EventBackupEvict, models.SeverityInfo,
				fmt.Sprintf("Backup %s of server '%s' was removed to make room.", old.Timestamp, inst.Name), serverID)
		}
		if err != nil {
			return err
		}

		if err := os.MkdirAll(s.store.dir(serverID), 0o755); err != nil {
			return apperr.Upstream(err, "create backup directory")
		}
		stamp := s.nextStamp(serverID)

		log.Info().Str("server_id", serverID).Str("timestamp", stamp).Msg("Creating backup")
		err = s.WithSafeSave(ctx, inst.ContainerID, func(ctx context.Context) error {
			return s.writeArchive(ctx, inst.ContainerID, serverID, stamp)
		})
		if err != nil {
			return err
		}

		info, err := os.Stat(s.store.path(serverID, stamp))
		if err != nil {
			return apperr.Upstream(err, "stat backup")
		}
		created, _ := timestamp.Decode(stamp)
		backup = models.Backup{
			ServerID:  serverID,
			Timestamp: stamp,
			CreatedAt: created,
			Size:      info.Size(),
			Path:      s.store.path(serverID, stamp),
		}
		backup.SizeHuman = humanize.IBytes(uint64(backup.Size))

		emit(s.events, models.EventBackupCreate, models.SeverityInfo,
			fmt.Sprintf("Backup %s created for server '%s' (%s).", stamp, inst.Name, backup.SizeHuman), serverID)

		// Still under the lock: a delete or eviction must not remove the file mid-upload.
		s.uploadMirror(ctx, backup)
		return nil
	})
	if err != nil {
		return models.Backup{}, err
	}

	s.publish(serverID)
	return backup, nil
}

// nextStamp returns an unused timestamp for a new backup.
func (s *BackupService) nextStamp(serverID string) string {
	t := timestamp.Truncate(s.now())
	for {
		stamp := timestamp.Encode(t)
		if _, err := os.Stat(s.store.path(serverID, stamp)); errors.Is(err, os.ErrNotExist) {
			return stamp
		}
		t = t.Add(time.Millisecond)
	}
}

// writeArchive streams the container's data directory through gzip into a temporary file and
// renames it into place only once it is complete and synced.
func (s *BackupService) writeArchive(ctx context.Context, containerID, serverID, stamp string) (err error) {
	tmp, err := os.CreateTemp(s.store.dir(serverID), stamp+backupExt+".*.partial")
	if err != nil {
		return apperr.Upstream(err, "create temporary backup file")
	}
	defer func() {
		if err != nil {
			tmp.Close()
			if rmErr := os.Remove(tmp.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Warn().Err(rmErr).Str("path", tmp.Name()).Msg("Failed to remove partial backup")
			}
		}
	}()

	rc, err := s.runtime.ExportPath(ctx, containerID, DataPath)
	if err != nil {
		return apperr.Upstream(err, "export %s from container", DataPath)
	}
	defer rc.Close()

	gz := gzip.NewWriter(tmp)
	if _, err = io.Copy(gz, rc); err != nil {
		return apperr.Upstream(err, "stream backup archive")
	}
	if err = gz.Close(); err != nil {
		return apperr.Upstream(err, "finish backup archive")
	}
	if err = tmp.Sync(); err != nil {
		return apperr.Upstream(err, "sync backup file")
	}
	if err = tmp.Close(); err != nil {
		return apperr.Upstream(err, "close backup file")
	}
	if err = os.Rename(tmp.Name(), s.store.path(serverID, stamp)); err != nil {
		return apperr.Upstream(err, "finalize backup file")
	}
	return nil
}

// RestoreBackup replaces a stopped server's data volume with the contents of a backup. The volume
// is recreated empty first, so files written after the backup do not survive.
func (s *BackupService) RestoreBackup(ctx context.Context, callerID, serverID, stamp string) (models.Backup, error) {
	var backup models.Backup
	err := s.lock.Do(ctx, func(ctx context.Context) error {
		inst, err := s.dir.FindByID(ctx, serverID)
		if err != nil {
			return err
		}
		if inst.OwnerID != callerID {
			return apperr.Unauthorized("only the owner of '%s' can restore its backups", inst.Name)
		}
		if inst.Running() {
			return apperr.Conflict("server %q must be stopped before restoring a backup", inst.Name)
		}

		b, found, err := s.store.find(serverID, stamp)
		if err != nil {
			return apperr.Upstream(err, "list backups")
		}
		if !found {
			return apperr.NotFound("backup %s of server %q not found", stamp, inst.Name)
		}

		f, err := os.Open(b.Path)
		if err != nil {
			return apperr.Upstream(err, "open backup")
		}
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return apperr.Upstream(err, "read backup %s", b.Timestamp)
		}
		defer gz.Close()

		log.Info().Str("server_id", serverID).Str("timestamp", b.Timestamp).Msg("Restoring backup")
		containerID, err := s.containers.resetVolume(ctx, inst)
		if err != nil {
			return err
		}
		if err := s.runtime.ImportArchive(ctx, containerID, "/", gz); err != nil {
			return apperr.Upstream(err, "import backup into container")
		}

		backup = b
		emit(s.events, models.EventBackupRestore, models.SeverityWarn,
			fmt.Sprintf("Server '%s' was restored from backup %s.", inst.Name, b.Timestamp), serverID)
		return nil
	})
	if err != nil {
		return models.Backup{}, err
	}
	return backup, nil
}

// DeleteBackup removes one backup of a server owned by callerID.
func (s *BackupService) DeleteBackup(ctx context.Context, callerID, serverID, stamp string) error {
	err := s.lock.Do(ctx, func(ctx context.Context) error {
		inst, err := s.dir.FindByID(ctx, serverID)
		if err != nil {
			return err
		}
		if inst.OwnerID != callerID {
			return apperr.Unauthorized("only the owner of '%s' can delete its backups", inst.Name)
		}

		b, found, err := s.store.find(serverID, stamp)
		if err != nil {
			return apperr.Upstream(err, "list backups")
		}
		if !found {
			return apperr.NotFound("backup %s of server %q not found", stamp, inst.Name)
		}
		if err := os.Remove(b.Path); err != nil {
			return apperr.Upstream(err, "remove backup")
		}
		s.removeMirrored(ctx, serverID, b.Timestamp)

		emit(s.events, models.EventBackupDelete, models.SeverityInfo,
			fmt.Sprintf("Backup %s of server '%s' was deleted.", b.Timestamp, inst.Name), serverID)
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(serverID)
	return nil
}

// ListBackups returns a server's backups, newest first.
func (s *BackupService) ListBackups(ctx context.Context, serverID string) ([]models.Backup, error) {
	if _, err := s.dir.FindByID(ctx, serverID); err != nil {
		return nil, err
	}
	backups, err := s.store.list(serverID)
	if err != nil {
		return nil, apperr.Upstream(err, "list backups")
	}
	if backups == nil {
		backups = []models.Backup{}
	}
	return backups, nil
}

// removeAll deletes every backup of a server, locally and in the mirror. The caller holds the lock.
func (s *BackupService) removeAll(ctx context.Context, serverID string) error {
	if err := os.RemoveAll(s.store.dir(serverID)); err != nil {
		return apperr.Upstream(err, "remove backups")
	}
	if s.mirror != nil {
		if err := s.mirror.RemovePrefix(ctx, serverID+"/"); err != nil {
			log.Warn().Err(err).Str("server_id", serverID).Msg("Failed to remove mirrored backups")
		}
	}
	return nil
}

func (s *BackupService) uploadMirror(ctx context.Context, b models.Backup) {
	if s.mirror == nil {
		return
	}
	upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()
	if err := s.mirror.Upload(upCtx, objectKey(b.ServerID, b.Timestamp), b.Path); err != nil {
		log.Warn().Err(err).Str("server_id", b.ServerID).Str("timestamp", b.Timestamp).Msg("Failed to mirror backup")
		return
	}
	log.Info().Str("server_id", b.ServerID).Str("timestamp", b.Timestamp).Msg("Backup mirrored")
}

func (s *BackupService) removeMirrored(ctx context.Context, serverID, stamp string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Remove(ctx, objectKey(serverID, stamp)); err != nil {
		log.Warn().Err(err).Str("server_id", serverID).Str("timestamp", stamp).Msg("Failed to remove mirrored backup")
	}
}

func (s *BackupService) publish(serverID string) {
	if s.hub == nil {
		return
	}
	backups, err := s.store.list(serverID)
	if err != nil {
		return
	}
	s.hub.Publish(ActionBackupUpdate, serverID, backups)
}
