// Package labels converts server records to and from Docker container labels.
//
// Container labels are the only place a server record is stored, so Encode and Decode are exact
// inverses and Decode is strict: a missing or malformed required label is an error, never a
// default. No other package builds or parses these labels.
package labels

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/filters"
	"github.com/nomanoma121/minecraft-discord-bot/internal/apperr"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
)

// Prefix namespaces every label owned by this application.
const Prefix = "com.minecraft-discord-bot."

const (
	keyManaged         = Prefix + "managed"
	keyID              = Prefix + "id"
	keyOwnerID         = Prefix + "ownerId"
	keyName            = Prefix + "name"
	keyVersion         = Prefix + "version"
	keyMaxPlayers      = Prefix + "maxPlayers"
	keyDifficulty      = Prefix + "difficulty"
	keyGamemode        = Prefix + "gamemode"
	keyType            = Prefix + "type"
	keyDescription     = Prefix + "description"
	keyLevel           = Prefix + "level"
	keyPVP             = Prefix + "pvp"
	keyHardcore        = Prefix + "hardcore"
	keyEnableWhitelist = Prefix + "enableWhitelist"
	keyIconPath        = Prefix + "iconPath"
	keyOps             = Prefix + "ops"
	keyWhitelist       = Prefix + "whitelist"
	keyCreatedAt       = Prefix + "createdAt"
	keyUpdatedAt       = Prefix + "updatedAt"
)

const managedValue = "true"

// MissingFieldError reports a required label that is absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required label %q", e.Field)
}

// InvalidFieldError reports a label whose value cannot be parsed into its field type.
type InvalidFieldError struct {
	Field string
	Value string
	Err   error
}

func (e *InvalidFieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid value %q for label %q: %v", e.Value, e.Field, e.Err)
	}
	return fmt.Sprintf("invalid value %q for label %q", e.Value, e.Field)
}

func (e *InvalidFieldError) Unwrap() error { return e.Err }

// Encode renders every defined field of s as a label. Empty optional fields are omitted.
func Encode(s models.Server) map[string]string {
	l := map[string]string{
		keyManaged:         managedValue,
		keyID:              s.ID,
		keyOwnerID:         s.OwnerID,
		keyName:            s.Name,
		keyVersion:         s.Version,
		keyMaxPlayers:      strconv.Itoa(s.MaxPlayers),
		keyDifficulty:      string(s.Difficulty),
		keyGamemode:        string(s.Gamemode),
		keyType:            string(s.Type),
		keyDescription:     s.Description,
		keyLevel:           string(s.Level),
		keyPVP:             strconv.FormatBool(s.PVP),
		keyHardcore:        strconv.FormatBool(s.Hardcore),
		keyEnableWhitelist: strconv.FormatBool(s.EnableWhitelist),
		keyCreatedAt:       formatTime(s.CreatedAt),
		keyUpdatedAt:       formatTime(s.UpdatedAt),
	}
	if s.IconPath != "" {
		l[keyIconPath] = s.IconPath
	}
	if len(s.Ops) > 0 {
		l[keyOps] = encodeList(s.Ops)
	}
	if len(s.Whitelist) > 0 {
		l[keyWhitelist] = encodeList(s.Whitelist)
	}
	return l
}

// Decode rebuilds a server record from container labels. It fails with a *MissingFieldError or
// *InvalidFieldError, classified as apperr.KindDecode, and never returns a partial record.
func Decode(l map[string]string) (models.Server, error) {
	d := decoder{labels: l}
	s := models.Server{
		ID:              d.str(keyID),
		OwnerID:         d.str(keyOwnerID),
		Name:            d.str(keyName),
		Version:         d.str(keyVersion),
		MaxPlayers:      d.integer(keyMaxPlayers),
		Difficulty:      models.Difficulty(d.enum(keyDifficulty, func(v string) bool { return models.Difficulty(v).Valid() })),
		Gamemode:        models.Gamemode(d.enum(keyGamemode, func(v string) bool { return models.Gamemode(v).Valid() })),
		Type:            models.ServerType(d.enum(keyType, func(v string) bool { return models.ServerType(v).Valid() })),
		Description:     d.str(keyDescription),
		Level:           models.Level(d.enum(keyLevel, func(v string) bool { return models.Level(v).Valid() })),
		PVP:             d.boolean(keyPVP),
		Hardcore:        d.boolean(keyHardcore),
		EnableWhitelist: d.boolean(keyEnableWhitelist),
		IconPath:        l[keyIconPath],
		Ops:             d.list(keyOps),
		Whitelist:       d.list(keyWhitelist),
		CreatedAt:       d.time(keyCreatedAt),
		UpdatedAt:       d.time(keyUpdatedAt),
	}
	if d.err != nil {
		return models.Server{}, apperr.Wrap(apperr.KindDecode, d.err, "decode server labels")
	}
	return s, nil
}

// IsManaged reports whether the labels carry this application's managed marker.
func IsManaged(l map[string]string) bool {
	return l[keyManaged] == managedValue
}

// ForVolume returns the labels of a server's data volume.
func ForVolume(serverID string) map[string]string {
	return map[string]string{keyManaged: managedValue, keyID: serverID}
}

// Criteria selects containers by label. Zero-valued fields are not filtered on.
type Criteria struct {
	Managed bool
	ID      string
	Name    string
	OwnerID string
	Running bool
}

// BuildFilter projects c into Docker's list filter syntax.
func BuildFilter(c Criteria) filters.Args {
	args := filters.NewArgs()
	if c.Managed {
		args.Add("label", keyManaged+"="+managedValue)
	}
	if c.ID != "" {
		args.Add("label", keyID+"="+c.ID)
	}
	if c.Name != "" {
		args.Add("label", keyName+"="+c.Name)
	}
	if c.OwnerID != "" {
		args.Add("label", keyOwnerID+"="+c.OwnerID)
	}
	if c.Running {
		args.Add("status", "running")
	}
	return args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeList(items []string) string {
	// Marshalling a []string cannot fail.
	b, _ := json.Marshal(items)
	return string(b)
}

// decoder records the first error so Decode can read every field in one expression.
type decoder struct {
	labels map[string]string
	err    error
}

func (d *decoder) lookup(key string) (string, bool) {
	if d.err != nil {
		return "", false
	}
	v, ok := d.labels[key]
	if !ok {
		d.err = &MissingFieldError{Field: key}
		return "", false
	}
	return v, true
}

func (d *decoder) fail(key, value string, err error) {
	d.err = &InvalidFieldError{Field: key, Value: value, Err: err}
}

func (d *decoder) str(key string) string {
	v, _ := d.lookup(key)
	return v
}

func (d *decoder) integer(key string) int {
	v, ok := d.lookup(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		d.fail(key, v, err)
		return 0
	}
	return n
}

func (d *decoder) boolean(key string) bool {
	v, ok := d.lookup(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		d.fail(key, v, err)
		return false
	}
	return b
}

func (d *decoder) enum(key string, valid func(string) bool) string {
	v, ok := d.lookup(key)
	if !ok {
		return ""
	}
	if !valid(v) {
		d.fail(key, v, nil)
		return ""
	}
	return v
}

func (d *decoder) time(key string) time.Time {
	v, ok := d.lookup(key)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		d.fail(key, v, err)
		return time.Time{}
	}
	return t.UTC()
}

// list decodes an optional JSON array label; absence yields nil.
func (d *decoder) list(key string) []string {
	if d.err != nil {
		return nil
	}
	v, ok := d.labels[key]
	if !ok {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(v), &items); err != nil {
		d.fail(key, v, err)
		return nil
	}
	return items
}
