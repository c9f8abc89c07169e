package services

import (
	"context"

	"github.com/docker/docker/api/types/container"
	"github.com/nomanoma121/minecraft-discord-bot/internal/apperr"
	"github.com/nomanoma121/minecraft-discord-bot/internal/labels"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/rs/zerolog/log"
)

// Directory answers read-only questions about managed instances by listing labelled containers.
// It takes no lock.
type Directory struct {
	runtime ContainerRuntime
}

func NewDirectory(runtime ContainerRuntime) *Directory {
	return &Directory{runtime: runtime}
}

// ListManaged returns every managed instance. Containers whose labels fail to decode are logged
// and skipped.
func (d *Directory) ListManaged(ctx context.Context) ([]models.Instance, error) {
	return d.list(ctx, labels.Criteria{Managed: true})
}

// ListRunning returns managed instances whose container is running.
func (d *Directory) ListRunning(ctx context.Context) ([]models.Instance, error) {
	return d.list(ctx, labels.Criteria{Managed: true, Running: true})
}

// FindByName returns the instance with the given name, or a NotFound error.
func (d *Directory) FindByName(ctx context.Context, name string) (models.Instance, error) {
	found, err := d.list(ctx, labels.Criteria{Managed: true, Name: name})
	if err != nil {
		return models.Instance{}, err
	}
	if len(found) == 0 {
		return models.Instance{}, apperr.NotFound("server %q not found", name)
	}
	return found[0], nil
}

// FindByID returns the instance with the given id, or a NotFound error.
func (d *Directory) FindByID(ctx context.Context, id string) (models.Instance, error) {
	found, err := d.list(ctx, labels.Criteria{Managed: true, ID: id})
	if err != nil {
		return models.Instance{}, err
	}
	if len(found) == 0 {
		return models.Instance{}, apperr.NotFound("server %s not found", id)
	}
	return found[0], nil
}

func (d *Directory) list(ctx context.Context, c labels.Criteria) ([]models.Instance, error) {
	containers, err := d.runtime.ListContainers(ctx, labels.BuildFilter(c))
	if err != nil {
		return nil, apperr.Upstream(err, "list containers")
	}

	instances := make([]models.Instance, 0, len(containers))
	for _, ctr := range containers {
		inst, err := instanceFromSummary(ctr)
		if err != nil {
			log.Warn().Err(err).Str("container_id", ctr.ID).Msg("Skipping container with unreadable labels")
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func instanceFromSummary(ctr container.Summary) (models.Instance, error) {
	server, err := labels.Decode(ctr.Labels)
	if err != nil {
		return models.Instance{}, err
	}
	return models.Instance{
		Server:      server,
		ContainerID: ctr.ID,
		State:       string(ctr.State),
	}, nil
}
