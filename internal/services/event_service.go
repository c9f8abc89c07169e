package services

import (
	"database/sql"
	"time"

	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/rs/zerolog/log"
)

// EventServiceProvider defines the interface for event services.
type EventServiceProvider interface {
	CreateEvent(eventType, level, message string, serverID *string) error
	GetRecentEvents(limit int) ([]models.Event, error)
	GetEventsForServer(serverID string, limit int) ([]models.Event, error)
}

// EventService records the audit trail and pushes each entry to websocket clients. Nothing reads
// events back to make decisions.
type EventService struct {
	db  *sql.DB
	hub Broadcaster
	now func() time.Time
}

// NewEventService creates a new EventService. hub may be nil.
func NewEventService(db *sql.DB, hub Broadcaster) *EventService {
	return &EventService{db: db, hub: hub, now: time.Now}
}

// CreateEvent logs a new event to the database and broadcasts it.
func (s *EventService) CreateEvent(eventType, level, message string, serverID *string) error {
	event := models.Event{
		Type:      eventType,
		Level:     level,
		Message:   message,
		ServerID:  serverID,
		CreatedAt: s.now().UTC(),
	}

	res, err := s.db.Exec(
		"INSERT INTO events (type, level, message, server_id, created_at) VALUES (?, ?, ?, ?, ?)",
		event.Type, event.Level, event.Message, event.ServerID, event.CreatedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("Failed to store event")
		return err
	}
	event.ID, _ = res.LastInsertId()

	if s.hub != nil {
		target := ""
		if serverID != nil {
			target = *serverID
		}
		s.hub.Publish(ActionEvent, target, event)
	}
	return nil
}

// GetRecentEvents retrieves the most recent events from the database.
func (s *EventService) GetRecentEvents(limit int) ([]models.Event, error) {
	rows, err := s.db.Query("SELECT id, type, level, message, server_id, created_at FROM events ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// GetEventsForServer retrieves the most recent events about one server.
func (s *EventService) GetEventsForServer(serverID string, limit int) ([]models.Event, error) {
	rows, err := s.db.Query("SELECT id, type, level, message, server_id, created_at FROM events WHERE server_id = ? ORDER BY created_at DESC, id DESC LIMIT ?", serverID, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var event models.Event
		var serverID sql.NullString
		if err := rows.Scan(&event.ID, &event.Type, &event.Level, &event.Message, &serverID, &event.CreatedAt); err != nil {
			return nil, err
		}
		if serverID.Valid {
			event.ServerID = &serverID.String
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// emit records an event and only logs a failure; the audit trail never fails an operation.
func emit(events EventServiceProvider, eventType, level, message string, serverID string) {
	if events == nil {
		return
	}
	var sid *string
	if serverID != "" {
		sid = &serverID
	}
	if err := events.CreateEvent(eventType, level, message, sid); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("Failed to record event")
	}
}
