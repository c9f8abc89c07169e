package services

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/nomanoma121/minecraft-discord-bot/internal/timestamp"
)

const backupExt = ".tar.gz"

// backupStore is the on-disk layout of backups: <root>/<serverID>/<stamp>.tar.gz. The directory
// listing is the index.
type backupStore struct {
	root string
}

func (s backupStore) dir(serverID string) string {
	return filepath.Join(s.root, serverID)
}

func (s backupStore) path(serverID, stamp string) string {
	return filepath.Join(s.dir(serverID), stamp+backupExt)
}

// objectKey is the mirror key of a backup.
func objectKey(serverID, stamp string) string {
	return serverID + "/" + stamp + backupExt
}

// list returns a server's backups, newest first. Files whose names do not decode are ignored, as
// are in-progress partial files.
func (s backupStore) list(serverID string) ([]models.Backup, error) {
	entries, err := os.ReadDir(s.dir(serverID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var backups []models.Backup
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stamp, ok := strings.CutSuffix(e.Name(), backupExt)
		if !ok {
			continue
		}
		created, ok := timestamp.Decode(stamp)
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		backups = append(backups, models.Backup{
			ServerID:  serverID,
			Timestamp: stamp,
			CreatedAt: created,
			Size:      info.Size(),
			SizeHuman: humanize.IBytes(uint64(info.Size())),
			Path:      filepath.Join(s.dir(serverID), e.Name()),
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Timestamp > backups[j].Timestamp })
	return backups, nil
}

// countAll counts backups across every server directory.
func (s backupStore) countAll() (int, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		backups, err := s.list(e.Name())
		if err != nil {
			return 0, err
		}
		total += len(backups)
	}
	return total, nil
}

// find returns the backup named by stamp; "latest" selects the newest one.
func (s backupStore) find(serverID, stamp string) (models.Backup, bool, error) {
	backups, err := s.list(serverID)
	if err != nil {
		return models.Backup{}, false, err
	}
	if stamp == LatestBackup {
		if len(backups) == 0 {
			return models.Backup{}, false, nil
		}
		return backups[0], true, nil
	}
	for _, b := range backups {
		if b.Timestamp == stamp {
			return b, true, nil
		}
	}
	return models.Backup{}, false, nil
}
