package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/pod-racer/internal/domain"
	"github.com/spec-kit/pod-racer/internal/events"
	"github.com/spec-kit/pod-racer/internal/repository"
)

// PersistedEventTypes are the events PersistenceService writes through.
var PersistedEventTypes = []events.EventType{
	events.EventUserCreated,
	events.EventCreditsChanged,
	events.EventSessionClosed,
}

// PersistenceService writes the in-memory state changes carried by domain
// events through to the repositories.
type PersistenceService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	logger   *zap.Logger
}

// NewPersistenceService creates the service.
func NewPersistenceService(users repository.UserRepository, sessions repository.SessionRepository, logger *zap.Logger) *PersistenceService {
	return &PersistenceService{users: users, sessions: sessions, logger: logger}
}

// LoadUsers returns every persisted user for seeding the ledger.
func (p *PersistenceService) LoadUsers(ctx context.Context) ([]domain.User, error) {
	return p.users.List(ctx)
}

// Apply persists a single event. Unknown event types are ignored.
func (p *PersistenceService) Apply(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.EventUserCreated:
		payload, ok := event.Payload.(events.CreditsPayload)
		if !ok {
			return unexpectedPayload(event)
		}
		return p.users.Upsert(ctx, domain.User{
			ID:               event.UserID,
			CreditsRemaining: payload.CreditsRemaining,
			CreatedAt:        event.Timestamp,
			UpdatedAt:        event.Timestamp,
		})
	case events.EventCreditsChanged:
		payload, ok := event.Payload.(events.CreditsPayload)
		if !ok {
			return unexpectedPayload(event)
		}
		return p.users.UpdateCredits(ctx, event.UserID, payload.CreditsRemaining)
	case events.EventSessionClosed:
		payload, ok := event.Payload.(events.SessionClosedPayload)
		if !ok || payload.Session == nil {
			return unexpectedPayload(event)
		}
		if err := p.sessions.RecordClosed(ctx, repository.SessionRecord{
			Session:      *payload.Session,
			CreditsAfter: payload.CreditsRemaining,
		}); err != nil {
			return fmt.Errorf("record session %s: %w", payload.Session.ID, err)
		}
		return p.users.UpdateCredits(ctx, event.UserID, payload.CreditsRemaining)
	}
	p.logger.Debug("event not persisted", zap.String("event_type", string(event.Type)))
	return nil
}

func unexpectedPayload(event events.Event) error {
	return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
}
