package store

import (
	"context"
	"errors"

	"GiftCodeKiosk/internal/models"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Ledger is the durable order record store. UpdateOrder must apply the
// mutator atomically with respect to concurrent updates of the same order.
type Ledger interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	UpdateOrder(ctx context.Context, orderID string, mutate func(*models.Order) error) (*models.Order, error)
	ListOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error)
}

// Inventory holds undistributed gift codes per (card, region, denom) bucket.
// TakeCodes removes exactly qty codes from the front of the bucket and stamps
// them with the receiving order, or fails with ErrInsufficientStock without
// removing any. Concurrent TakeCodes calls against the same bucket must never
// dispense overlapping codes.
type Inventory interface {
	TakeCodes(ctx context.Context, orderID, card, region string, denom int64, qty int) ([]string, error)
	AddCodes(ctx context.Context, card, region string, denom int64, codes []string) error
	CountCodes(ctx context.Context, card, region string, denom int64) (int, error)
}
