package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"GiftCodeKiosk/internal/models"
)

// Memory keeps the ledger and inventory in process memory. Used when no
// database DSN is configured and by tests. All methods are safe for
// concurrent use; orders are cloned on the way in and out so callers never
// share mutable state with the store.
type Memory struct {
	mu        sync.RWMutex
	orders    map[string]*models.Order
	buckets   map[string][]string
	dispensed map[string]string // code -> order id
}

func NewMemory() *Memory {
	return &Memory{
		orders:    make(map[string]*models.Order),
		buckets:   make(map[string][]string),
		dispensed: make(map[string]string),
	}
}

func (s *Memory) CreateOrder(ctx context.Context, order *models.Order) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.OrderID]; ok {
		return fmt.Errorf("order %s already exists", order.OrderID)
	}
	s.orders[order.OrderID] = cloneOrder(order)
	return nil
}

func (s *Memory) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (s *Memory) UpdateOrder(ctx context.Context, orderID string, mutate func(*models.Order) error) (*models.Order, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}

	updated := cloneOrder(order)
	if err := mutate(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = updated
	return cloneOrder(updated), nil
}

func (s *Memory) ListOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Order
	for _, order := range s.orders {
		if order.Status == status {
			out = append(out, cloneOrder(order))
		}
	}
	return out, nil
}

func (s *Memory) TakeCodes(ctx context.Context, orderID, card, region string, denom int64, qty int) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey(card, region, denom)
	bucket := s.buckets[key]
	if len(bucket) < qty {
		return nil, ErrInsufficientStock
	}

	taken := make([]string, qty)
	copy(taken, bucket[:qty])
	s.buckets[key] = bucket[qty:]
	for _, code := range taken {
		s.dispensed[code] = orderID
	}
	return taken, nil
}

func (s *Memory) AddCodes(ctx context.Context, card, region string, denom int64, codes []string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey(card, region, denom)
	s.buckets[key] = append(s.buckets[key], codes...)
	return nil
}

func (s *Memory) CountCodes(ctx context.Context, card, region string, denom int64) (int, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.buckets[bucketKey(card, region, denom)]), nil
}

func bucketKey(card, region string, denom int64) string {
	return fmt.Sprintf("%s/%s/%d", card, region, denom)
}

func cloneOrder(order *models.Order) *models.Order {
	clone := *order
	if order.Invoice != nil {
		inv := *order.Invoice
		clone.Invoice = &inv
	}
	if order.PaidAt != nil {
		t := *order.PaidAt
		clone.PaidAt = &t
	}
	if order.DeliveredAt != nil {
		t := *order.DeliveredAt
		clone.DeliveredAt = &t
	}
	if order.Codes != nil {
		clone.Codes = append([]string(nil), order.Codes...)
	}
	return &clone
}
