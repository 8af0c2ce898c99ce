package session

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"GiftCodeKiosk/internal/models"
)

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidDenom    = errors.New("denomination not offered")
)

type State string

const (
	StateCardChosen        State = "card_chosen"
	StateRegionSet         State = "region_set"
	StateDenomSet          State = "denom_set"
	StateQuantityConfirmed State = "quantity_confirmed"
)

type session struct {
	State     State
	Card      string
	Region    string
	Denom     int64
	Quantity  int
	UpdatedAt time.Time
}

// Manager tracks one in-progress order-building dialogue per buyer. All
// operations run under the manager lock, so mutations for the same buyer are
// linearized. Sessions idle longer than the TTL behave as absent: an
// abandoned dialogue can never leak into a later order.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*session
	denoms      map[int64]bool
	maxQuantity int
	ttl         time.Duration
	now         func() time.Time
}

func NewManager(denoms []int64, maxQuantity int, ttl time.Duration) *Manager {
	allowed := make(map[int64]bool, len(denoms))
	for _, d := range denoms {
		allowed[d] = true
	}
	return &Manager{
		sessions:    make(map[string]*session),
		denoms:      allowed,
		maxQuantity: maxQuantity,
		ttl:         ttl,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SelectCard starts a fresh session, discarding any prior one for the buyer.
func (m *Manager) SelectCard(userID, card string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[userID] = &session{
		State:     StateCardChosen,
		Card:      card,
		UpdatedAt: m.now(),
	}
}

func (m *Manager) SetRegion(userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.live(userID)
	if s == nil || s.State != StateCardChosen {
		return ErrNoActiveSession
	}

	s.Region = strings.ToUpper(strings.TrimSpace(text))
	s.State = StateRegionSet
	s.UpdatedAt = m.now()
	return nil
}

func (m *Manager) SelectDenom(userID string, denom int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.live(userID)
	if s == nil || s.State != StateRegionSet || s.Card == "" || s.Region == "" {
		return ErrNoActiveSession
	}
	if !m.denoms[denom] {
		return ErrInvalidDenom
	}

	s.Denom = denom
	s.Quantity = 1
	s.State = StateDenomSet
	s.UpdatedAt = m.now()
	return nil
}

// SetQuantity parses text as an integer in [1, maxQuantity]. A bad value
// leaves the session where it is so the buyer can just be re-prompted.
func (m *Manager) SetQuantity(userID, text string) (models.Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.live(userID)
	if s == nil || s.State != StateDenomSet {
		return models.Selection{}, ErrNoActiveSession
	}

	qty, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || qty < 1 || qty > m.maxQuantity {
		return models.Selection{}, ErrInvalidQuantity
	}

	s.Quantity = qty
	s.State = StateQuantityConfirmed
	s.UpdatedAt = m.now()
	return selectionOf(s), nil
}

// Cancel drops the session from any state. No-op when none exists.
func (m *Manager) Cancel(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// Finalize consumes a confirmed session and returns the completed selection.
// The session is deleted before returning, so a second Pay tap sees
// ErrNoActiveSession instead of creating a duplicate order.
func (m *Manager) Finalize(userID string) (models.Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.live(userID)
	if s == nil || s.State != StateQuantityConfirmed {
		return models.Selection{}, ErrNoActiveSession
	}

	delete(m.sessions, userID)
	return selectionOf(s), nil
}

// StateOf reports the buyer's current dialogue state, if any. Free-text
// input means different things in different states, so the router needs this
// to know whether text is a region or a quantity.
func (m *Manager) StateOf(userID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.live(userID)
	if s == nil {
		return "", false
	}
	return s.State, true
}

// live returns the buyer's session, expiring it first when past TTL.
// Callers must hold m.mu.
func (m *Manager) live(userID string) *session {
	s, ok := m.sessions[userID]
	if !ok {
		return nil
	}
	if m.ttl > 0 && m.now().Sub(s.UpdatedAt) > m.ttl {
		delete(m.sessions, userID)
		return nil
	}
	return s
}

func selectionOf(s *session) models.Selection {
	return models.Selection{
		Card:     s.Card,
		Region:   s.Region,
		Denom:    s.Denom,
		Quantity: s.Quantity,
	}
}
