package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNoRecipients is returned by a channel that had nobody to deliver to.
// The attempt is recorded as skipped rather than failed.
var ErrNoRecipients = errors.New("no reachable recipients")

// Channel delivers events through one medium.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, ev Event) (providerID string, err error)
}

// Service fans events out to every configured channel. Delivery is best
// effort: failures are logged and recorded but never returned to callers.
type Service struct {
	db       *gorm.DB
	channels []Channel
	timeout  time.Duration
	logger   *zap.Logger
}

// NewService creates a notification service. db may be nil, in which case
// delivery attempts are only logged.
func NewService(db *gorm.DB, logger *zap.Logger, timeout time.Duration, channels ...Channel) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		db:       db,
		channels: channels,
		timeout:  timeout,
		logger:   logger,
	}
}

// Publish delivers ev to all channels. The caller's cancellation is ignored
// so a finished request does not cut delivery short.
func (s *Service) Publish(ctx context.Context, ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	for _, ch := range s.channels {
		providerID, err := ch.Deliver(ctx, ev)
		status := deliveryStatus(err)
		switch status {
		case StatusSkipped:
			err = nil
			s.logger.Debug("Notification skipped",
				zap.String("channel", ch.Name()),
				zap.String("event_type", string(ev.Type)),
				zap.String("document_id", ev.DocumentID.String()))
		case StatusFailed:
			s.logger.Warn("Notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("event_type", string(ev.Type)),
				zap.String("document_id", ev.DocumentID.String()),
				zap.Error(err))
		}
		s.logDelivery(ctx, ev, ch.Name(), status, providerID, err)
	}
}

func deliveryStatus(err error) string {
	switch {
	case err == nil:
		return StatusSent
	case errors.Is(err, ErrNoRecipients):
		return StatusSkipped
	default:
		return StatusFailed
	}
}

func (s *Service) logDelivery(ctx context.Context, ev Event, channel, status, providerID string, deliveryErr error) {
	if s.db == nil {
		return
	}

	payload, _ := json.Marshal(ev)
	entry := &DeliveryLog{
		EventID:           ev.ID,
		EventType:         ev.Type,
		DocumentID:        ev.DocumentID,
		Channel:           channel,
		Status:            status,
		ProviderMessageID: providerID,
		Payload:           datatypes.JSON(payload),
	}
	if deliveryErr != nil {
		entry.Error = deliveryErr.Error()
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logger.Error("Failed to record notification delivery", zap.Error(err))
	}
}

// ListDeliveries returns the delivery log of a document, newest first.
func (s *Service) ListDeliveries(ctx context.Context, documentID uuid.UUID, limit int) ([]DeliveryLog, error) {
	logs := []DeliveryLog{}
	if s.db == nil {
		return logs, nil
	}
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
