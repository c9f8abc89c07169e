package models

// Operator is an entry of the server's ops.json.
type Operator struct {
	UUID                string `json:"uuid"`
	Name                string `json:"name"`
	Level               int    `json:"level,omitempty"`
	BypassesPlayerLimit bool   `json:"bypassesPlayerLimit,omitempty"`
}

// WhitelistEntry is an entry of the server's whitelist.json.
type WhitelistEntry struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}
