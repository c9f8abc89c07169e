package models

import "time"

// Event types recorded in the audit trail.
const (
	EventServerCreate   = "server.create"
	EventServerEdit     = "server.edit"
	EventServerDelete   = "server.delete"
	EventServerStart    = "server.start"
	EventServerStop     = "server.stop"
	EventBackupCreate   = "backup.create"
	EventBackupRestore  = "backup.restore"
	EventBackupDelete   = "backup.delete"
	EventBackupEvict    = "backup.evict"
	EventPlayerOp       = "player.op"
	EventPlayerDeop     = "player.deop"
	EventWhitelist      = "player.whitelist"
	EventScheduleFailed = "schedule.backup.fail"
	EventCPUAlert       = "system.alert.cpu"
)

// Event severities.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// Event is an audit entry for an action taken on the system.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	ServerID  *string   `json:"serverId,omitempty"` // Nullable for system-wide events
	CreatedAt time.Time `json:"createdAt"`
}
