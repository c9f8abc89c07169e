package monitoring

import (
	"context"
	"fmt"

	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/nomanoma121/minecraft-discord-bot/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// RunningLister lists the instances whose containers are running.
type RunningLister interface {
	ListRunning(ctx context.Context) ([]models.Instance, error)
}

// Scheduler backs up every running server on a cron schedule.
type Scheduler struct {
	spec      string
	servers   RunningLister
	backupSvc services.BackupServiceProvider
	eventSvc  services.EventServiceProvider
	cron      *cron.Cron
}

// NewScheduler creates a new scheduler for the standard 5-field cron expression spec. An empty
// spec disables automatic backups.
func NewScheduler(spec string, servers RunningLister, backupSvc services.BackupServiceProvider, eventSvc services.EventServiceProvider) *Scheduler {
	return &Scheduler{
		spec:      spec,
		servers:   servers,
		backupSvc: backupSvc,
		eventSvc:  eventSvc,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
	}
}

// Start registers the backup job and starts the cron runner in its own goroutine.
func (s *Scheduler) Start() error {
	if s.spec == "" {
		log.Info().Msg("Automatic backups disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, func() { s.BackupRunning(context.Background()) }); err != nil {
		return fmt.Errorf("invalid auto-backup schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	log.Info().Str("schedule", s.spec).Msg("Starting automatic backup scheduler")
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("Stopped automatic backup scheduler")
}

// BackupRunning backs up each running server in turn. A failure is recorded as an event and does
// not stop the others.
func (s *Scheduler) BackupRunning(ctx context.Context) {
	running, err := s.servers.ListRunning(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduler: Failed to list running servers")
		return
	}

	for _, inst := range running {
		b, err := s.backupSvc.CreateBackup(ctx, inst.ID)
		if err != nil {
			log.Error().Err(err).Str("server_id", inst.ID).Msg("Scheduler: Automatic backup failed")
			msg := fmt.Sprintf("Automatic backup of '%s' failed: %v", inst.Name, err)
			if evErr := s.eventSvc.CreateEvent(models.EventScheduleFailed, models.SeverityError, msg, &inst.ID); evErr != nil {
				log.Warn().Err(evErr).Msg("Scheduler: Failed to record event")
			}
			continue
		}
		log.Info().Str("server_id", inst.ID).Str("timestamp", b.Timestamp).Msg("Scheduler: Automatic backup created")
	}
}
