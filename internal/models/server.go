package models

import "time"

// Difficulty is the in-game difficulty setting.
type Difficulty string

const (
	DifficultyPeaceful Difficulty = "peaceful"
	DifficultyEasy     Difficulty = "easy"
	DifficultyNormal   Difficulty = "normal"
	DifficultyHard     Difficulty = "hard"
)

// Gamemode is the default game mode for joining players.
type Gamemode string

const (
	GamemodeSurvival  Gamemode = "survival"
	GamemodeCreative  Gamemode = "creative"
	GamemodeAdventure Gamemode = "adventure"
	GamemodeSpectator Gamemode = "spectator"
)

// ServerType is the server engine variant understood by the itzg/minecraft-server image.
type ServerType string

const (
	ServerTypePaper   ServerType = "PAPER"
	ServerTypeVanilla ServerType = "VANILLA"
	ServerTypeFabric  ServerType = "FABRIC"
	ServerTypeForge   ServerType = "FORGE"
	ServerTypePurpur  ServerType = "PURPUR"
	ServerTypeSpigot  ServerType = "SPIGOT"
)

// Level is the world generation mode.
type Level string

const (
	LevelNormal      Level = "normal"
	LevelFlat        Level = "flat"
	LevelLargeBiomes Level = "large_biomes"
	LevelAmplified   Level = "amplified"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyPeaceful, DifficultyEasy, DifficultyNormal, DifficultyHard:
		return true
	}
	return false
}

func (g Gamemode) Valid() bool {
	switch g {
	case GamemodeSurvival, GamemodeCreative, GamemodeAdventure, GamemodeSpectator:
		return true
	}
	return false
}

func (t ServerType) Valid() bool {
	switch t {
	case ServerTypePaper, ServerTypeVanilla, ServerTypeFabric, ServerTypeForge, ServerTypePurpur, ServerTypeSpigot:
		return true
	}
	return false
}

func (l Level) Valid() bool {
	switch l {
	case LevelNormal, LevelFlat, LevelLargeBiomes, LevelAmplified:
		return true
	}
	return false
}

// Server represents a single Minecraft server instance. It is stored only as labels on the
// instance's container.
type Server struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"ownerId"`
	Name            string     `json:"name"`
	Version         string     `json:"version"`
	MaxPlayers      int        `json:"maxPlayers"`
	Difficulty      Difficulty `json:"difficulty"`
	Gamemode        Gamemode   `json:"gamemode"`
	Type            ServerType `json:"type"`
	Description     string     `json:"description"`
	Level           Level      `json:"level"`
	PVP             bool       `json:"pvp"`
	Hardcore        bool       `json:"hardcore"`
	EnableWhitelist bool       `json:"enableWhitelist"`
	IconPath        string     `json:"iconPath,omitempty"`
	Ops             []string   `json:"ops,omitempty"`
	Whitelist       []string   `json:"whitelist,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Instance is a decoded server record together with the state of its container.
type Instance struct {
	Server
	ContainerID string `json:"-"`
	State       string `json:"state"` // Docker state, e.g. "running", "exited", "created"
}

// Running reports whether the container is currently running.
func (i Instance) Running() bool { return i.State == "running" }

// ServerStatus is the read-only status view of an instance.
type ServerStatus struct {
	Server     Server     `json:"server"`
	Running    bool       `json:"running"`
	State      string     `json:"state"`
	Health     string     `json:"health,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Uptime     string     `json:"uptime,omitempty"`
}

// CreateServerRequest carries the caller-chosen fields for a new server. Zero values fall back to
// defaults.
type CreateServerRequest struct {
	Name            string     `json:"name"`
	Version         string     `json:"version"`
	MaxPlayers      int        `json:"maxPlayers,omitempty"`
	Difficulty      Difficulty `json:"difficulty,omitempty"`
	Gamemode        Gamemode   `json:"gamemode,omitempty"`
	Type            ServerType `json:"type,omitempty"`
	Description     string     `json:"description,omitempty"`
	Level           Level      `json:"level,omitempty"`
	PVP             *bool      `json:"pvp,omitempty"`
	Hardcore        bool       `json:"hardcore,omitempty"`
	EnableWhitelist bool       `json:"enableWhitelist,omitempty"`
	Ops             []string   `json:"ops,omitempty"`
	Whitelist       []string   `json:"whitelist,omitempty"`
}

// EditServerRequest is a partial update; nil fields are left unchanged.
type EditServerRequest struct {
	Version         *string     `json:"version,omitempty"`
	MaxPlayers      *int        `json:"maxPlayers,omitempty"`
	Difficulty      *Difficulty `json:"difficulty,omitempty"`
	Gamemode        *Gamemode   `json:"gamemode,omitempty"`
	Description     *string     `json:"description,omitempty"`
	Level           *Level      `json:"level,omitempty"`
	PVP             *bool       `json:"pvp,omitempty"`
	Hardcore        *bool       `json:"hardcore,omitempty"`
	EnableWhitelist *bool       `json:"enableWhitelist,omitempty"`
	Ops             *[]string   `json:"ops,omitempty"`
	Whitelist       *[]string   `json:"whitelist,omitempty"`

	// IconPath is set internally by the icon upload flow.
	IconPath *string `json:"-"`
}

// Empty reports whether the request changes nothing.
func (r EditServerRequest) Empty() bool {
	return r.Version == nil && r.MaxPlayers == nil && r.Difficulty == nil && r.Gamemode == nil &&
		r.Description == nil && r.Level == nil && r.PVP == nil && r.Hardcore == nil &&
		r.EnableWhitelist == nil && r.Ops == nil && r.Whitelist == nil && r.IconPath == nil
}

// ResourceUsage holds CPU and RAM percentages of a running container.
type ResourceUsage struct {
	CPU float64 `json:"cpu"`
	RAM float64 `json:"ram"`
}

// ServerStats is broadcast periodically for each running server.
type ServerStats struct {
	ServerID  string        `json:"serverId"`
	Name      string        `json:"name"`
	Resources ResourceUsage `json:"resources"`
}

// HostStats describes the host running the containers.
type HostStats struct {
	MemoryUsedPercent float64 `json:"memoryUsedPercent"`
	MemoryTotal       uint64  `json:"memoryTotal"`
}
