package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/pod-racer/internal/auth"
	"github.com/spec-kit/pod-racer/internal/domain"
	"github.com/spec-kit/pod-racer/internal/ledger"
	"github.com/spec-kit/pod-racer/internal/observability"
	"github.com/spec-kit/pod-racer/internal/pool"
	"github.com/spec-kit/pod-racer/internal/session"
	apperrors "github.com/spec-kit/pod-racer/pkg/util/errorutil"
)

// Start and status labels reported to clients.
const (
	StatusAssigned        = "assigned"
	StatusQueued          = "queued"
	StatusClosed          = "closed"
	StatusNoPodAssigned   = "no_pod_assigned"
	StatusNoPodsAvailable = "no_pods_available"
)

// PodService is the entry point the HTTP handlers talk to.
type PodService struct {
	ledger         *ledger.CreditLedger
	pool           *pool.PodPool
	registry       *session.Registry
	tokens         *auth.TokenManager
	metrics        *observability.Metrics
	logger         *zap.Logger
	initialCredits int64
}

// PodDependencies bundles collaborators for the pod service.
type PodDependencies struct {
	Ledger   *ledger.CreditLedger
	Pool     *pool.PodPool
	Registry *session.Registry
	Tokens   *auth.TokenManager
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	// InitialCredits is granted to new users; values below 0 mean the default.
	InitialCredits int64
}

// NewPodService creates the service.
func NewPodService(deps PodDependencies) *PodService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.InitialCredits < 0 {
		deps.InitialCredits = domain.DefaultInitialCredits
	}
	return &PodService{
		ledger:         deps.Ledger,
		pool:           deps.Pool,
		registry:       deps.Registry,
		tokens:         deps.Tokens,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		initialCredits: deps.InitialCredits,
	}
}

// CreateUser opens an account, generating an ID when none is supplied, and
// issues a bearer token for it.
func (s *PodService) CreateUser(ctx context.Context, userID string) (domain.User, *domain.Token, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = uuid.NewString()
	}
	user, err := s.ledger.Initialize(ctx, userID, s.initialCredits)
	if err != nil {
		return domain.User{}, nil, err
	}
	s.logger.Info("user created", zap.String("user_id", user.ID), zap.Int64("credits", user.CreditsRemaining))

	if s.tokens == nil {
		return user, nil, nil
	}
	token, err := s.tokens.GenerateToken(user.ID)
	if err != nil {
		return user, nil, apperrors.NewInternalError(err)
	}
	return user, &token, nil
}

// StartPod starts a session and returns its view. On CONFLICT the view of the
// active session is returned alongside the error.
func (s *PodService) StartPod(ctx context.Context, userID string) (session.View, error) {
	if err := requireUserID(userID); err != nil {
		return session.View{}, err
	}
	view, err := s.registry.Start(ctx, userID)
	if err != nil {
		s.metrics.RecordSessionStart(apperrors.ToDomainError(err).Code)
		return view, err
	}
	s.metrics.RecordSessionStart(StartStatus(view.Session))
	return view, nil
}

// Status reports the session and advances billing.
func (s *PodService) Status(ctx context.Context, userID string) (session.View, error) {
	if err := requireUserID(userID); err != nil {
		return session.View{}, err
	}
	return s.registry.Status(ctx, userID)
}

// QueueStatus reports the queue position of a waiting user.
func (s *PodService) QueueStatus(userID string) (session.View, error) {
	if err := requireUserID(userID); err != nil {
		return session.View{}, err
	}
	return s.registry.QueueStatus(userID)
}

// Close ends the session and returns the resulting pool counts.
func (s *PodService) Close(ctx context.Context, userID string) (*domain.Session, map[domain.PodState]int, error) {
	if err := requireUserID(userID); err != nil {
		return nil, nil, err
	}
	closed, err := s.registry.Close(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return closed, s.pool.Counts(), nil
}

// AssignCredits overrides the balance of userID.
func (s *PodService) AssignCredits(ctx context.Context, userID string, credits int64) (int64, error) {
	if err := requireUserID(userID); err != nil {
		return 0, err
	}
	return s.registry.AssignCredits(ctx, userID, credits)
}

// GetCredits returns the current balance without advancing billing.
func (s *PodService) GetCredits(userID string) (int64, error) {
	if err := requireUserID(userID); err != nil {
		return 0, err
	}
	return s.ledger.Balance(userID)
}

// Pods returns the pool snapshot and per-state counts.
func (s *PodService) Pods() ([]domain.Pod, map[domain.PodState]int) {
	return s.pool.Snapshot(), s.pool.Counts()
}

// RestoreUsers seeds the ledger with persisted users.
func (s *PodService) RestoreUsers(ctx context.Context, persistence *PersistenceService) (int, error) {
	if persistence == nil {
		return 0, nil
	}
	users, err := persistence.LoadUsers(ctx)
	if err != nil {
		return 0, err
	}
	restored := s.ledger.Restore(users)
	s.logger.Info("users restored", zap.Int("count", restored))
	return restored, nil
}

// StartStatus labels the outcome of a start call.
func StartStatus(sess *domain.Session) string {
	if sess == nil {
		return StatusClosed
	}
	switch sess.State {
	case domain.SessionStateAssigned:
		return StatusAssigned
	case domain.SessionStateQueued:
		return StatusQueued
	case domain.SessionStateClosed:
		if sess.CloseReason == domain.CloseReasonNoPodsAvailable {
			return StatusNoPodsAvailable
		}
		if sess.CloseReason == domain.CloseReasonNoPodAssigned {
			return StatusNoPodAssigned
		}
		return StatusClosed
	}
	return strings.ToLower(string(sess.State))
}

// SessionStatus labels a session for status polling.
func SessionStatus(sess *domain.Session) string {
	if sess == nil {
		return StatusClosed
	}
	if sess.State == domain.SessionStateClosed {
		if sess.CloseReason == domain.CloseReasonNoPodAssigned {
			return StatusNoPodAssigned
		}
		return StatusClosed
	}
	return strings.ToLower(string(sess.State))
}

func requireUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.NewValidationError("user_id required", nil)
	}
	return nil
}
