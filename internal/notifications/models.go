package notifications

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventType string

const (
	EventDocumentSubmitted    EventType = "document.submitted"
	EventDocumentTransitioned EventType = "document.transitioned"
	EventStageAssigned        EventType = "document.stage_assigned"
)

// Delivery statuses
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Event describes a change to a document that interested users should hear about.
type Event struct {
	ID             uuid.UUID   `json:"id"`
	Type           EventType   `json:"type"`
	DocumentID     uuid.UUID   `json:"document_id"`
	DocumentName   string      `json:"document_name"`
	Status         string      `json:"status"`
	Action         string      `json:"action,omitempty"`
	CurrentStage   int         `json:"current_stage"`
	CurrentVersion int         `json:"current_version"`
	ActorID        uuid.UUID   `json:"actor_id"`
	Recipients     []uuid.UUID `json:"recipients,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// Subject is a one-line summary used by email and SNS.
func (e Event) Subject() string {
	switch e.Type {
	case EventStageAssigned:
		return "You have been assigned a stage on " + e.DocumentName
	case EventDocumentSubmitted:
		return e.DocumentName + " was submitted for approval"
	default:
		return e.DocumentName + " is now " + e.Status
	}
}

// DeliveryLog records one delivery attempt per event and channel.
type DeliveryLog struct {
	ID                uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid"`
	EventID           uuid.UUID      `json:"event_id" gorm:"type:uuid;not null;index"`
	EventType         EventType      `json:"event_type" gorm:"size:64;not null"`
	DocumentID        uuid.UUID      `json:"document_id" gorm:"type:uuid;not null;index"`
	Channel           string         `json:"channel" gorm:"size:32;not null"`
	Status            string         `json:"status" gorm:"size:16;not null"`
	ProviderMessageID string         `json:"provider_message_id"`
	Error             string         `json:"error"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Timestamp         time.Time      `json:"timestamp" gorm:"autoCreateTime"`
}

func (d *DeliveryLog) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// WebSocketMessage represents WebSocket message format
type WebSocketMessage struct {
	Type      string         `json:"type"`
	Data      datatypes.JSON `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Target    string         `json:"target"`
}

const (
	WSMessageTypeEvent  = "event"
	WSMessageTypeStatus = "status"
	WSMessageTypePing   = "ping"
)

// NewEventMessage wraps an event for websocket delivery.
func NewEventMessage(ev Event, target string) (WebSocketMessage, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return WebSocketMessage{}, err
	}
	return WebSocketMessage{
		Type:      WSMessageTypeEvent,
		Data:      datatypes.JSON(data),
		Timestamp: time.Now(),
		Target:    target,
	}, nil
}
