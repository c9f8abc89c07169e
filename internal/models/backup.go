package models

import "time"

// Backup represents one archive of a server's data volume. Timestamp is the backup's identifier
// and the stem of its file name.
type Backup struct {
	ServerID  string    `json:"serverId"`
	Timestamp string    `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"sizeHuman"`
	Path      string    `json:"-"` // Internal use, not exposed to client
}
