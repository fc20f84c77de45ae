// Package ledger tracks per-user time credits. Balances are debited from a
// monotonic checkpoint while a pod is held, so repeated or concurrent polls never
// charge the same interval twice.
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/spec-kit/pod-racer/internal/domain"
	"github.com/spec-kit/pod-racer/internal/events"
	apperrors "github.com/spec-kit/pod-racer/pkg/util/errorutil"
)

type account struct {
	user       domain.User
	metering   bool
	checkpoint time.Time
}

// CreditLedger is the only writer of credit balances.
type CreditLedger struct {
	mu         sync.Mutex
	accounts   map[string]*account
	clock      clock.PassiveClock
	dispatcher events.Dispatcher
}

// New creates an empty ledger. dispatcher may be nil.
func New(clk clock.PassiveClock, dispatcher events.Dispatcher) *CreditLedger {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &CreditLedger{
		accounts:   make(map[string]*account),
		clock:      clk,
		dispatcher: dispatcher,
	}
}

// Initialize opens an account with the given balance.
func (l *CreditLedger) Initialize(ctx context.Context, userID string, initialCredits int64) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, apperrors.NewValidationError("user_id required", nil)
	}
	if initialCredits < 0 {
		return domain.User{}, apperrors.NewValidationError("credits must be non-negative", map[string]any{"credits": initialCredits})
	}

	l.mu.Lock()
	if _, exists := l.accounts[userID]; exists {
		l.mu.Unlock()
		return domain.User{}, apperrors.NewAlreadyExists("user", map[string]any{"user_id": userID})
	}
	now := l.clock.Now()
	acct := &account{user: domain.User{
		ID:               userID,
		CreditsRemaining: initialCredits,
		CreatedAt:        now,
		UpdatedAt:        now,
	}}
	l.accounts[userID] = acct
	user := acct.user
	l.mu.Unlock()

	events.PublishAll(ctx, l.dispatcher, events.New(events.EventUserCreated, userID, now, events.CreditsPayload{CreditsRemaining: initialCredits}))
	return user, nil
}

// Restore loads previously persisted users. Known users are left untouched.
func (l *CreditLedger) Restore(users []domain.User) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	restored := 0
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		if _, exists := l.accounts[u.ID]; exists {
			continue
		}
		if u.CreditsRemaining < 0 {
			u.CreditsRemaining = 0
		}
		l.accounts[u.ID] = &account{user: u}
		restored++
	}
	return restored
}

// Exists reports whether userID has an account.
func (l *CreditLedger) Exists(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.accounts[userID]
	return ok
}

// User returns a copy of the account without debiting.
func (l *CreditLedger) User(userID string) (domain.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return domain.User{}, notFound(userID)
	}
	return acct.user, nil
}

// StartMetering opens the debit checkpoint at the current time. Calling it on an
// account that is already metered keeps the existing checkpoint.
func (l *CreditLedger) StartMetering(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return notFound(userID)
	}
	if acct.metering {
		return nil
	}
	acct.metering = true
	acct.checkpoint = l.clock.Now()
	return nil
}

// Charge is the result of a debit. Callers that hold their own locks publish
// Events after releasing them.
type Charge struct {
	UserID    string
	Remaining int64
	Exhausted bool
	At        time.Time
}

// Events returns the credits_exhausted event when this charge drove the balance
// to zero.
func (c Charge) Events() []events.Event {
	if !c.Exhausted {
		return nil
	}
	return []events.Event{events.New(events.EventCreditsExhausted, c.UserID, c.At, events.CreditsPayload{})}
}

// StopMetering charges the time elapsed since the checkpoint and closes it.
func (l *CreditLedger) StopMetering(userID string) (Charge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return Charge{}, notFound(userID)
	}
	charge := acct.charge(l.clock.Now())
	acct.metering = false
	return charge, nil
}

// DebitToNow charges whole seconds elapsed since the last checkpoint. Accounts
// that are not metered are returned unchanged. Nothing is published.
func (l *CreditLedger) DebitToNow(userID string) (Charge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return Charge{}, notFound(userID)
	}
	return acct.charge(l.clock.Now()), nil
}

// SetCredits overrides the balance. Pending elapsed time is charged first.
func (l *CreditLedger) SetCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, apperrors.NewValidationError("credits must be non-negative", map[string]any{"credits": amount})
	}

	l.mu.Lock()
	acct, ok := l.accounts[userID]
	if !ok {
		l.mu.Unlock()
		return 0, notFound(userID)
	}
	now := l.clock.Now()
	acct.debit(now)
	acct.user.CreditsRemaining = amount
	acct.user.UpdatedAt = now
	exhausted := acct.metering && amount == 0
	l.mu.Unlock()

	evts := []events.Event{events.New(events.EventCreditsChanged, userID, now, events.CreditsPayload{CreditsRemaining: amount})}
	if exhausted {
		evts = append(evts, events.New(events.EventCreditsExhausted, userID, now, events.CreditsPayload{}))
	}
	events.PublishAll(ctx, l.dispatcher, evts...)
	return amount, nil
}

// Balance projects the balance as of now without advancing the checkpoint.
func (l *CreditLedger) Balance(userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return 0, notFound(userID)
	}
	remaining := acct.user.CreditsRemaining - acct.pending(l.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// IsExhausted reports whether a known account has no credits left.
func (l *CreditLedger) IsExhausted(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return false
	}
	return acct.user.CreditsRemaining <= 0
}

func (a *account) charge(now time.Time) Charge {
	exhausted := a.debit(now)
	return Charge{UserID: a.user.ID, Remaining: a.user.CreditsRemaining, Exhausted: exhausted, At: now}
}

// pending returns whole seconds owed since the checkpoint.
func (a *account) pending(now time.Time) int64 {
	if !a.metering || !now.After(a.checkpoint) {
		return 0
	}
	return int64(now.Sub(a.checkpoint) / time.Second)
}

// debit charges pending seconds and advances the checkpoint by exactly the
// charged amount; the sub-second remainder carries to the next call. It reports
// whether this call drove a positive balance to zero.
func (a *account) debit(now time.Time) bool {
	secs := a.pending(now)
	if secs <= 0 {
		return false
	}
	a.checkpoint = a.checkpoint.Add(time.Duration(secs) * time.Second)
	before := a.user.CreditsRemaining
	a.user.CreditsRemaining -= secs
	if a.user.CreditsRemaining < 0 {
		a.user.CreditsRemaining = 0
	}
	a.user.UpdatedAt = now
	return before > 0 && a.user.CreditsRemaining == 0
}

func notFound(userID string) error {
	return apperrors.NewNotFound("user", map[string]any{"user_id": userID})
}
