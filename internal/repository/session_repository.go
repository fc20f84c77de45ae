package repository

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/pod-racer/internal/domain"
)

// SessionRecord is a closed session as stored in history.
type SessionRecord struct {
	Session      domain.Session
	CreditsAfter int64
}

// SessionRepository stores the history of closed sessions.
type SessionRepository interface {
	RecordClosed(ctx context.Context, record SessionRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]SessionRecord, error)
}

type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a Postgres-backed implementation.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

func (r *sessionRepository) RecordClosed(ctx context.Context, record SessionRecord) error {
	const query = `
        INSERT INTO session_history
            (id, user_id, pod_id, pod_type, pods_raced, close_reason, credits_after, created_at, started_at, closed_at)
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO NOTHING`

	s := record.Session
	podsRaced := s.PodsRaced
	if podsRaced == nil {
		podsRaced = []string{}
	}
	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.PodID,
		s.PodType,
		podsRaced,
		string(s.CloseReason),
		record.CreditsAfter,
		s.CreatedAt,
		s.StartedAt,
		s.ClosedAt,
	)
	return err
}

func (r *sessionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]SessionRecord, error) {
	const query = `
        SELECT id, user_id, COALESCE(pod_id, ''), COALESCE(pod_type, ''), pods_raced, close_reason,
               credits_after, created_at, started_at, closed_at
        FROM session_history WHERE user_id=$1
        ORDER BY closed_at DESC LIMIT $2`

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var reason string
		if err := rows.Scan(
			&rec.Session.ID,
			&rec.Session.UserID,
			&rec.Session.PodID,
			&rec.Session.PodType,
			&rec.Session.PodsRaced,
			&reason,
			&rec.CreditsAfter,
			&rec.Session.CreatedAt,
			&rec.Session.StartedAt,
			&rec.Session.ClosedAt,
		); err != nil {
			return nil, err
		}
		rec.Session.State = domain.SessionStateClosed
		rec.Session.CloseReason = domain.CloseReason(reason)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type memorySessionRepository struct {
	mu      sync.RWMutex
	records []SessionRecord
	seen    map[string]struct{}
}

// NewMemorySessionRepository keeps session history in process memory.
func NewMemorySessionRepository() SessionRepository {
	return &memorySessionRepository{seen: make(map[string]struct{})}
}

func (r *memorySessionRepository) RecordClosed(_ context.Context, record SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[record.Session.ID]; dup {
		return nil
	}
	r.seen[record.Session.ID] = struct{}{}
	record.Session = *record.Session.Clone()
	r.records = append(r.records, record)
	return nil
}

func (r *memorySessionRepository) ListByUser(_ context.Context, userID string, limit int) ([]SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []SessionRecord
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].Session.UserID == userID {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}
