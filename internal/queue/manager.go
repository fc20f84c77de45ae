// Package queue holds users waiting for a pod in strict FIFO order.
package queue

import (
	"container/list"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/spec-kit/pod-racer/internal/domain"
	apperrors "github.com/spec-kit/pod-racer/pkg/util/errorutil"
)

const holdSmoothing = 0.2

// Config tunes the queue.
type Config struct {
	// MaxLength caps the queue; 0 means unbounded.
	MaxLength int
	// AverageHold seeds the hold-time average used for wait estimates.
	AverageHold time.Duration
}

// Manager is a FIFO of waiting users. Positions are computed on read so they stay
// consistent after removals.
type Manager struct {
	mu      sync.RWMutex
	entries *list.List
	index   map[string]*list.Element
	clock   clock.PassiveClock
	cfg     Config
	avgHold time.Duration
}

// NewManager creates an empty queue.
func NewManager(cfg Config, clk clock.PassiveClock) *Manager {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.AverageHold <= 0 {
		cfg.AverageHold = 5 * time.Minute
	}
	return &Manager{
		entries: list.New(),
		index:   make(map[string]*list.Element),
		clock:   clk,
		cfg:     cfg,
		avgHold: cfg.AverageHold,
	}
}

// Enqueue appends userID to the tail and returns its position.
func (m *Manager) Enqueue(userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.index[userID]; ok {
		return 0, apperrors.NewAlreadyQueued(map[string]any{"user_id": userID})
	}
	if m.cfg.MaxLength > 0 && m.entries.Len() >= m.cfg.MaxLength {
		return 0, apperrors.NewResourceExhausted("queue full", map[string]any{"max_length": m.cfg.MaxLength})
	}
	entry := domain.QueueEntry{UserID: userID, EnqueuedAt: m.clock.Now()}
	m.index[userID] = m.entries.PushBack(entry)
	return m.entries.Len() - 1, nil
}

// DequeueNextIfPodFree pops entries from the head and hands them to admit. When
// admit returns false the entry goes back to the head, keeping its original
// enqueue time, and the loop stops. It returns the admitted user IDs in order.
func (m *Manager) DequeueNextIfPodFree(admit func(userID string) bool) []string {
	var admitted []string
	for {
		entry, ok := m.popFront()
		if !ok {
			return admitted
		}
		if !admit(entry.UserID) {
			m.pushFront(entry)
			return admitted
		}
		admitted = append(admitted, entry.UserID)
	}
}

// Remove drops userID from the queue. It reports whether it was queued.
func (m *Manager) Remove(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.index[userID]
	if !ok {
		return false
	}
	m.entries.Remove(elem)
	delete(m.index, userID)
	return true
}

// Contains reports whether userID is queued.
func (m *Manager) Contains(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.index[userID]
	return ok
}

// PositionOf returns the 0-based position of userID.
func (m *Manager) PositionOf(userID string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positionLocked(userID)
}

// EstimatedWait is position times the average hold time. It is a heuristic.
func (m *Manager) EstimatedWait(userID string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positionLocked(userID)
	if !ok {
		return 0, false
	}
	return time.Duration(pos) * m.avgHold, true
}

// Entries returns the queue in order with positions filled in.
func (m *Manager) Entries() []domain.QueueEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.QueueEntry, 0, m.entries.Len())
	pos := 0
	for e := m.entries.Front(); e != nil; e = e.Next() {
		entry := e.Value.(domain.QueueEntry)
		entry.Position = pos
		out = append(out, entry)
		pos++
	}
	return out
}

// Len returns the number of waiting users.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries.Len()
}

// Full reports whether Enqueue would be rejected for capacity.
func (m *Manager) Full() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.MaxLength > 0 && m.entries.Len() >= m.cfg.MaxLength
}

// ObserveHold folds a finished hold time into the moving average.
func (m *Manager) ObserveHold(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avgHold = time.Duration(float64(m.avgHold)*(1-holdSmoothing) + float64(d)*holdSmoothing)
}

// AverageHold returns the current hold-time estimate.
func (m *Manager) AverageHold() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.avgHold
}

func (m *Manager) positionLocked(userID string) (int, bool) {
	target, ok := m.index[userID]
	if !ok {
		return 0, false
	}
	pos := 0
	for e := m.entries.Front(); e != nil; e = e.Next() {
		if e == target {
			return pos, true
		}
		pos++
	}
	return 0, false
}

func (m *Manager) popFront() (domain.QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	front := m.entries.Front()
	if front == nil {
		return domain.QueueEntry{}, false
	}
	entry := m.entries.Remove(front).(domain.QueueEntry)
	delete(m.index, entry.UserID)
	return entry, true
}

func (m *Manager) pushFront(entry domain.QueueEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.index[entry.UserID]; ok {
		return
	}
	m.index[entry.UserID] = m.entries.PushFront(entry)
}
