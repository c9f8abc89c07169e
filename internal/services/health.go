package services

import (
	"context"
	"time"

	"github.com/nomanoma121/minecraft-discord-bot/internal/apperr"
	"github.com/rs/zerolog/log"
)

// HealthState is the outcome of waiting for a started container.
type HealthState string

const (
	HealthStarting  HealthState = "starting"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthTimedOut  HealthState = "timedOut"
)

// HealthPoller waits for a container's health check to settle.
type HealthPoller struct {
	runtime  ContainerRuntime
	interval time.Duration
	timeout  time.Duration
}

func NewHealthPoller(runtime ContainerRuntime, interval, timeout time.Duration) *HealthPoller {
	return &HealthPoller{runtime: runtime, interval: interval, timeout: timeout}
}

// Wait inspects the container every interval until it reports healthy or unhealthy, stops
// running (unhealthy), or the timeout passes (timedOut). An inspect failure ends the wait with
// an Upstream error.
func (p *HealthPoller) Wait(ctx context.Context, containerID string) (HealthState, error) {
	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		state, err := p.check(ctx, containerID)
		if err != nil || state != HealthStarting {
			return state, err
		}

		select {
		case <-ctx.Done():
			return HealthStarting, ctx.Err()
		case <-deadline.C:
			log.Warn().Str("container_id", containerID).Dur("timeout", p.timeout).Msg("Health check timed out")
			return HealthTimedOut, nil
		case <-ticker.C:
		}
	}
}

func (p *HealthPoller) check(ctx context.Context, containerID string) (HealthState, error) {
	info, err := p.runtime.InspectContainer(ctx, containerID)
	if err != nil {
		return HealthStarting, apperr.Upstream(err, "inspect container %s", containerID)
	}
	if info.State == nil || !info.State.Running {
		return HealthUnhealthy, nil
	}
	if info.State.Health == nil {
		// The image defines no health check; running is as good as it gets.
		return HealthHealthy, nil
	}

	switch HealthState(info.State.Health.Status) {
	case HealthHealthy:
		return HealthHealthy, nil
	case HealthUnhealthy:
		return HealthUnhealthy, nil
	default:
		return HealthStarting, nil
	}
}

// CurrentHealth is a single non-blocking read of the container's health, used by status views.
func (p *HealthPoller) CurrentHealth(ctx context.Context, containerID string) string {
	info, err := p.runtime.InspectContainer(ctx, containerID)
	if err != nil || info.State == nil || info.State.Health == nil {
		return ""
	}
	return string(info.State.Health.Status)
}
