package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nomanoma121/minecraft-discord-bot/internal/apperr"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
)

const (
	opsFile       = DataPath + "/ops.json"
	whitelistFile = DataPath + "/whitelist.json"
)

// ListOperators reads the running server's ops.json.
func (s *ServerService) ListOperators(ctx context.Context, id string) ([]models.Operator, error) {
	inst, err := s.runningInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	ops := []models.Operator{}
	if err := s.readJSONFile(ctx, inst, opsFile, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// ListWhitelist reads the running server's whitelist.json.
func (s *ServerService) ListWhitelist(ctx context.Context, id string) ([]models.WhitelistEntry, error) {
	inst, err := s.runningInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	entries := []models.WhitelistEntry{}
	if err := s.readJSONFile(ctx, inst, whitelistFile, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *ServerService) AddOperator(ctx context.Context, callerID, id, player string) error {
	return s.playerCommand(ctx, callerID, id, player, models.EventPlayerOp,
		"Player '%s' is now an operator of '%s'.", "op", player)
}

func (s *ServerService) RemoveOperator(ctx context.Context, callerID, id, player string) error {
	return s.playerCommand(ctx, callerID, id, player, models.EventPlayerDeop,
		"Player '%s' is no longer an operator of '%s'.", "deop", player)
}

func (s *ServerService) AddToWhitelist(ctx context.Context, callerID, id, player string) error {
	return s.playerCommand(ctx, callerID, id, player, models.EventWhitelist,
		"Player '%s' was added to the whitelist of '%s'.", "whitelist", "add", player)
}

func (s *ServerService) RemoveFromWhitelist(ctx context.Context, callerID, id, player string) error {
	return s.playerCommand(ctx, callerID, id, player, models.EventWhitelist,
		"Player '%s' was removed from the whitelist of '%s'.", "whitelist", "remove", player)
}

// SetWhitelistEnabled turns whitelist enforcement on or off on the running server. The setting
// stored on the record is applied again the next time the container is recreated.
func (s *ServerService) SetWhitelistEnabled(ctx context.Context, callerID, id string, enabled bool) error {
	arg := "off"
	if enabled {
		arg = "on"
	}
	var name string
	err := s.lock.Do(ctx, func(ctx context.Context) error {
		inst, err := s.ownedRunning(ctx, callerID, id)
		if err != nil {
			return err
		}
		name = inst.Name
		if _, err := s.console.Run(ctx, inst.ContainerID, "whitelist", arg); err != nil {
			return apperr.Upstream(err, "whitelist %s", arg)
		}
		return nil
	})
	if err != nil {
		return err
	}
	emit(s.events, models.EventWhitelist, models.SeverityInfo, fmt.Sprintf("Whitelist of '%s' turned %s.", name, arg), id)
	return nil
}

// playerCommand validates player, then runs a console command on a running server owned by
// callerID. msgFormat takes the player and server names.
func (s *ServerService) playerCommand(ctx context.Context, callerID, id, player, eventType, msgFormat string, args ...string) error {
	if !playerNamePattern.MatchString(player) {
		return apperr.Invalid("invalid player name %q", player)
	}
	var name string
	err := s.lock.Do(ctx, func(ctx context.Context) error {
		inst, err := s.ownedRunning(ctx, callerID, id)
		if err != nil {
			return err
		}
		name = inst.Name
		if _, err := s.console.Run(ctx, inst.ContainerID, args...); err != nil {
			return apperr.Upstream(err, "%s", args[0])
		}
		return nil
	})
	if err != nil {
		return err
	}
	emit(s.events, eventType, models.SeverityInfo, fmt.Sprintf(msgFormat, player, name), id)
	return nil
}

func (s *ServerService) runningInstance(ctx context.Context, id string) (models.Instance, error) {
	inst, err := s.dir.FindByID(ctx, id)
	if err != nil {
		return models.Instance{}, err
	}
	if !inst.Running() {
		return models.Instance{}, apperr.Conflict("server %q is not running", inst.Name)
	}
	return inst, nil
}

func (s *ServerService) ownedRunning(ctx context.Context, callerID, id string) (models.Instance, error) {
	inst, err := s.dir.FindByID(ctx, id)
	if err != nil {
		return models.Instance{}, err
	}
	if inst.OwnerID != callerID {
		return models.Instance{}, apperr.Unauthorized("only the owner of '%s' can manage its players", inst.Name)
	}
	if !inst.Running() {
		return models.Instance{}, apperr.Conflict("server %q is not running", inst.Name)
	}
	return inst, nil
}

func (s *ServerService) readJSONFile(ctx context.Context, inst models.Instance, path string, dst any) error {
	data, err := s.console.ReadFile(ctx, inst.ContainerID, path)
	if err != nil {
		return apperr.Upstream(err, "read %s", path)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.Wrap(apperr.KindDecode, err, "parse %s", path)
	}
	return nil
}
