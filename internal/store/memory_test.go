package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"GiftCodeKiosk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	order := &models.Order{
		OrderID:     "o-1",
		BuyerID:     "u-1",
		Card:        "GiftCardX",
		Region:      "US",
		Denom:       50,
		Quantity:    2,
		TotalAmount: 100,
		Status:      models.OrderPending,
	}
	require.NoError(t, s.CreateOrder(ctx, order))

	assert.Error(t, s.CreateOrder(ctx, order), "duplicate id must be rejected")

	got, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.TotalAmount)

	// mutations on returned clones must not leak into the store
	got.Status = models.OrderDelivered
	again, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, again.Status)

	updated, err := s.UpdateOrder(ctx, "o-1", func(o *models.Order) error {
		o.Status = models.OrderPaid
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, updated.Status)
	assert.False(t, updated.UpdatedAt.IsZero())

	_, err = s.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = s.UpdateOrder(ctx, "missing", func(o *models.Order) error { return nil })
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemoryUpdateOrderMutatorError(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateOrder(ctx, &models.Order{OrderID: "o-1", Status: models.OrderPending}))

	_, err := s.UpdateOrder(ctx, "o-1", func(o *models.Order) error {
		o.Status = models.OrderPaid
		return assert.AnError
	})
	assert.Error(t, err)

	got, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status, "failed mutator must not persist")
}

func TestMemoryTakeCodesFIFO(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.AddCodes(ctx, "GiftCardX", "US", 50, []string{"A", "B", "C"}))

	codes, err := s.TakeCodes(ctx, "order-1", "GiftCardX", "US", 50, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, codes)
	assert.Equal(t, "order-1", s.dispensed["A"], "dispensed codes carry the receiving order")
	assert.Equal(t, "order-1", s.dispensed["B"])

	n, err := s.CountCodes(ctx, "GiftCardX", "US", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.TakeCodes(ctx, "order-2", "GiftCardX", "US", 50, 2)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, err = s.TakeCodes(ctx, "order-2", "GiftCardX", "EU", 50, 1)
	assert.ErrorIs(t, err, ErrInsufficientStock, "absent bucket")
}

func TestMemoryTakeCodesConcurrentNoOverlap(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	codes := make([]string, 200)
	for i := range codes {
		codes[i] = "code-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
	}
	require.NoError(t, s.AddCodes(ctx, "GiftCardX", "US", 25, codes))

	var mu sync.Mutex
	seen := make(map[string]int)
	taken := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		orderID := fmt.Sprintf("order-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.TakeCodes(ctx, orderID, "GiftCardX", "US", 25, 3)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			taken += len(got)
			for _, c := range got {
				seen[c]++
			}
		}()
	}
	wg.Wait()

	for code, n := range seen {
		assert.Equal(t, 1, n, "code %s dispensed more than once", code)
	}

	left, err := s.CountCodes(ctx, "GiftCardX", "US", 25)
	require.NoError(t, err)
	assert.Equal(t, 200, taken+left, "dispensed plus remaining must account for every code")
}
