package services

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/nomanoma121/minecraft-discord-bot/internal/apperr"
	"github.com/nomanoma121/minecraft-discord-bot/internal/config"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"
)

// RetentionPolicy decides whether one more backup may be written.
type RetentionPolicy struct {
	store        backupStore
	maxPerServer int
	maxTotal     int
	overflow     string
	minFree      uint64

	// freeBytes reports free space on the filesystem holding path.
	freeBytes func(path string) (uint64, error)
}

func NewRetentionPolicy(cfg *config.Config) *RetentionPolicy {
	return &RetentionPolicy{
		store:        backupStore{root: cfg.BackupPath},
		maxPerServer: cfg.MaxBackupsPerServer,
		maxTotal:     cfg.MaxTotalBackups,
		overflow:     cfg.BackupOverflow,
		minFree:      cfg.MinFreeDiskBytes,
		freeBytes:    diskFree,
	}
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Check is called under the lifecycle lock before a backup of serverID. With the refuse policy
// it fails with CapacityExceeded when either ceiling is reached. With the evict policy it deletes
// the server's oldest backups until both counts are below their ceilings and returns what it
// removed; if that is not enough it refuses.
func (p *RetentionPolicy) Check(serverID string) ([]models.Backup, error) {
	if err := p.checkDisk(); err != nil {
		return nil, err
	}

	own, err := p.store.list(serverID)
	if err != nil {
		return nil, apperr.Upstream(err, "list backups")
	}
	total, err := p.store.countAll()
	if err != nil {
		return nil, apperr.Upstream(err, "count backups")
	}

	if !p.full(len(own), total) {
		return nil, nil
	}
	if p.overflow != config.OverflowEvict {
		return nil, p.refusal(len(own), total)
	}

	var evicted []models.Backup
	// own is newest first; evict from the tail.
	for p.full(len(own), total) && len(own) > 0 {
		oldest := own[len(own)-1]
		if err := os.Remove(oldest.Path); err != nil {
			return evicted, apperr.Upstream(err, "evict backup %s", oldest.Timestamp)
		}
		log.Info().Str("server_id", serverID).Str("timestamp", oldest.Timestamp).Msg("Evicted old backup")
		evicted = append(evicted, oldest)
		own = own[:len(own)-1]
		total--
	}
	if p.full(len(own), total) {
		return evicted, p.refusal(len(own), total)
	}
	return evicted, nil
}

func (p *RetentionPolicy) full(perServer, total int) bool {
	return perServer >= p.maxPerServer || total >= p.maxTotal
}

func (p *RetentionPolicy) refusal(perServer, total int) error {
	return apperr.CapacityExceeded(
		"backup limit reached: %d/%d for this server, %d/%d in total",
		perServer, p.maxPerServer, total, p.maxTotal,
	)
}

func (p *RetentionPolicy) checkDisk() error {
	if p.minFree == 0 {
		return nil
	}
	if err := os.MkdirAll(p.store.root, 0o755); err != nil {
		return apperr.Upstream(err, "create backup directory")
	}
	free, err := p.freeBytes(p.store.root)
	if err != nil {
		return apperr.Upstream(err, "read free disk space")
	}
	if free < p.minFree {
		return apperr.CapacityExceeded(
			"not enough free disk space for a backup: %s free, %s required",
			humanize.IBytes(free), humanize.IBytes(p.minFree),
		)
	}
	return nil
}
