package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/nomanoma121/minecraft-discord-bot/internal/docker"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/nomanoma121/minecraft-discord-bot/internal/services"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	highCPUThreshold = 90.0
	alertCooldown    = 15 * time.Minute
	statsTimeout     = 10 * time.Second
)

// StatsSource returns a one-shot resource sample of a container.
type StatsSource interface {
	GetContainerStats(ctx context.Context, id string) (*container.StatsResponse, error)
}

// StatUpdater periodically samples resource usage of running servers and the host and broadcasts
// it to websocket clients.
type StatUpdater struct {
	interval time.Duration
	stats    StatsSource
	servers  RunningLister
	eventSvc services.EventServiceProvider
	hub      services.Broadcaster
	hostMem  func() (*mem.VirtualMemoryStat, error)
	now      func() time.Time

	mu           sync.Mutex
	highCPUAlert map[string]time.Time

	done chan struct{}
}

// NewStatUpdater creates a new StatUpdater.
func NewStatUpdater(interval time.Duration, stats StatsSource, servers RunningLister, eventSvc services.EventServiceProvider, hub services.Broadcaster) *StatUpdater {
	return &StatUpdater{
		interval:     interval,
		stats:        stats,
		servers:      servers,
		eventSvc:     eventSvc,
		hub:          hub,
		hostMem:      mem.VirtualMemory,
		now:          time.Now,
		highCPUAlert: make(map[string]time.Time),
		done:         make(chan struct{}),
	}
}

// Run starts the periodic updates. It returns after Stop.
func (su *StatUpdater) Run() {
	log.Info().Dur("interval", su.interval).Msg("Starting background stat updater")
	ticker := time.NewTicker(su.interval)
	defer ticker.Stop()

	su.UpdateAll(context.Background())
	for {
		select {
		case <-su.done:
			log.Info().Msg("Stopping background stat updater")
			return
		case <-ticker.C:
			su.UpdateAll(context.Background())
		}
	}
}

// Stop halts the periodic updates.
func (su *StatUpdater) Stop() {
	close(su.done)
}

// UpdateAll samples every running server and the host once.
func (su *StatUpdater) UpdateAll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	running, err := su.servers.ListRunning(ctx)
	if err != nil {
		log.Error().Err(err).Msg("StatUpdater: Failed to list running servers")
		return
	}

	var wg sync.WaitGroup
	for _, inst := range running {
		wg.Add(1)
		go func() {
			defer wg.Done()
			su.updateSingleServer(ctx, inst)
		}()
	}
	wg.Wait()

	su.updateHost()
}

func (su *StatUpdater) updateSingleServer(ctx context.Context, inst models.Instance) {
	stats, err := su.stats.GetContainerStats(ctx, inst.ContainerID)
	if err != nil {
		if docker.IsNotFound(err) {
			log.Debug().Str("server_id", inst.ID).Msg("StatUpdater: Container disappeared before sampling")
			return
		}
		// Containers that are starting or stopping often fail here; try again next tick.
		log.Warn().Err(err).Str("server_id", inst.ID).Msg("StatUpdater: Non-fatal error getting stats")
		return
	}

	sample := models.ServerStats{
		ServerID: inst.ID,
		Name:     inst.Name,
		Resources: models.ResourceUsage{
			CPU: docker.CalculateCPUPercent(stats),
			RAM: docker.CalculateRAMPercent(stats),
		},
	}
	su.checkAndAlertForHighCPU(sample)
	if su.hub != nil {
		su.hub.Publish(services.ActionServerStats, inst.ID, sample)
	}
}

func (su *StatUpdater) updateHost() {
	vm, err := su.hostMem()
	if err != nil {
		log.Warn().Err(err).Msg("StatUpdater: Failed to read host memory")
		return
	}
	if su.hub != nil {
		su.hub.Publish(services.ActionHostStats, "", models.HostStats{
			MemoryUsedPercent: vm.UsedPercent,
			MemoryTotal:       vm.Total,
		})
	}
}

// checkAndAlertForHighCPU records a warning event when a server runs hot, at most once per
// cooldown.
func (su *StatUpdater) checkAndAlertForHighCPU(sample models.ServerStats) {
	if sample.Resources.CPU <= highCPUThreshold {
		return
	}

	su.mu.Lock()
	last, ok := su.highCPUAlert[sample.ServerID]
	if ok && su.now().Sub(last) < alertCooldown {
		su.mu.Unlock()
		return
	}
	su.highCPUAlert[sample.ServerID] = su.now()
	su.mu.Unlock()

	msg := fmt.Sprintf("High CPU usage (%.1f%%) detected on server '%s'.", sample.Resources.CPU, sample.Name)
	if err := su.eventSvc.CreateEvent(models.EventCPUAlert, models.SeverityWarn, msg, &sample.ServerID); err != nil {
		log.Warn().Err(err).Msg("StatUpdater: Failed to record CPU alert")
	}
}
