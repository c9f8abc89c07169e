package services

import (
	"context"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/nomanoma121/minecraft-discord-bot/internal/docker"
)

// ContainerRuntime is the subset of the Docker Engine the services drive. *docker.Client
// implements it.
type ContainerRuntime interface {
	EnsureImage(ctx context.Context, ref string) error
	CreateVolume(ctx context.Context, name string, labels map[string]string) error
	RemoveVolume(ctx context.Context, name string) error
	CreateContainer(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, name string) (string, error)
	RemoveContainer(ctx context.Context, id string) error
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	InspectContainer(ctx context.Context, id string) (container.InspectResponse, error)
	ListContainers(ctx context.Context, f filters.Args) ([]container.Summary, error)
	Exec(ctx context.Context, id string, cmd []string) (docker.ExecResult, error)
	ExportPath(ctx context.Context, id, path string) (io.ReadCloser, error)
	ImportArchive(ctx context.Context, id, dstPath string, r io.Reader) error
	GetContainerStats(ctx context.Context, id string) (*container.StatsResponse, error)
}

// Console sends administrative commands to a running server. See package console.
type Console interface {
	Run(ctx context.Context, containerID string, args ...string) (string, error)
	ReadFile(ctx context.Context, containerID, path string) ([]byte, error)
}

// Broadcaster pushes live updates to connected clients. *websocket.Hub implements it.
type Broadcaster interface {
	Publish(action, serverID string, payload any)
}

// BackupMirror copies finished backups off-host. It is optional; failures are logged only.
type BackupMirror interface {
	Upload(ctx context.Context, key, path string) error
	Remove(ctx context.Context, key string) error
	RemovePrefix(ctx context.Context, prefix string) error
}

// Websocket actions published by the services.
const (
	ActionServerUpdate  = "server_update"
	ActionServerDeleted = "server_deleted"
	ActionBackupUpdate  = "backup_update"
	ActionEvent         = "event"
	ActionServerStats   = "server_stats"
	ActionHostStats     = "host_stats"
)
