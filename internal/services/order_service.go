package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"GiftCodeKiosk/internal/chat"
	"GiftCodeKiosk/internal/gateway"
	"GiftCodeKiosk/internal/locks"
	"GiftCodeKiosk/internal/metrics"
	"GiftCodeKiosk/internal/models"
	"GiftCodeKiosk/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidSignature = errors.New("invalid notification signature")
	ErrNotPaid          = errors.New("order is not paid")
	ErrAlreadyDelivered = errors.New("order already delivered")

	// ErrStorage tags ledger and inventory failures while handling a
	// notification, so the transport can answer 5xx and keep the gateway
	// retrying instead of acknowledging a payload that was never recorded.
	ErrStorage = errors.New("storage failure")
)

func storageFailure(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorage, err))
}

// InvoiceCreator is the slice of the payment gateway the controller needs.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, amount int64, orderID string) (*models.Invoice, error)
}

// OrderService drives the order lifecycle: session output → pending order →
// gateway invoice → signed notification → paid → fulfillment → delivered.
// All work touching a given order runs under that order's key lock, so a
// manual /deliver and a notification-triggered delivery can never race into
// dispensing stock twice.
type OrderService struct {
	Ledger    store.Ledger
	Inventory store.Inventory
	Gateway   InvoiceCreator
	Chat      chat.Sender
	Secret    string
	AdminIDs  []string
	Locks     *locks.KeyMutex
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// CreateOrder materializes a completed selection into a pending order and
// requests a gateway invoice for it. When the gateway fails, the pending
// order is deliberately kept (no rollback) for retry and audit, and is
// returned alongside the error.
func (s *OrderService) CreateOrder(ctx context.Context, sel models.Selection, buyerID, buyerName string) (*models.Order, error) {
	now := time.Now().UTC()
	order := &models.Order{
		OrderID:     uuid.NewString(),
		BuyerID:     buyerID,
		BuyerName:   buyerName,
		Card:        sel.Card,
		Region:      sel.Region,
		Denom:       sel.Denom,
		Quantity:    sel.Quantity,
		TotalAmount: sel.Total(),
		Status:      models.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.Ledger.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.Metrics.OrdersCreated.Inc()

	start := time.Now()
	invoice, err := s.Gateway.CreateInvoice(ctx, order.TotalAmount, order.OrderID)
	s.Metrics.GatewaySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		s.Log.Warn("invoice creation failed, order kept pending",
			zap.String("order_id", order.OrderID), zap.Error(err))
		return order, err
	}

	order, err = s.Ledger.UpdateOrder(ctx, order.OrderID, func(o *models.Order) error {
		o.Invoice = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("buyer_id", buyerID),
		zap.Int64("total", order.TotalAmount),
		zap.String("invoice_id", invoice.InvoiceID))
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.Ledger.GetOrder(ctx, orderID)
}

func (s *OrderService) ListPending(ctx context.Context) ([]*models.Order, error) {
	return s.Ledger.ListOrdersByStatus(ctx, models.OrderPending)
}

// MarkPaid is the admin path for payments the gateway never reported.
// Re-marking an already paid order just re-stamps PaidAt; a delivered order
// is refused since delivered never reverts.
func (s *OrderService) MarkPaid(ctx context.Context, orderID string) (*models.Order, error) {
	s.Locks.Lock(orderID)
	defer s.Locks.Unlock(orderID)

	return s.Ledger.UpdateOrder(ctx, orderID, func(o *models.Order) error {
		if o.Status == models.OrderDelivered {
			return ErrAlreadyDelivered
		}
		now := time.Now().UTC()
		o.Status = models.OrderPaid
		o.PaidAt = &now
		return nil
	})
}

// Deliver fulfills a paid order: takes the order's quantity of codes from
// the front of the matching inventory bucket, attaches them, and marks the
// order delivered. On insufficient stock the order stays paid and each
// configured admin gets an alert.
func (s *OrderService) Deliver(ctx context.Context, orderID string) (*models.Order, error) {
	s.Locks.Lock(orderID)
	defer s.Locks.Unlock(orderID)

	return s.deliverLocked(ctx, orderID)
}

func (s *OrderService) deliverLocked(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.Ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case models.OrderDelivered:
		return nil, ErrAlreadyDelivered
	case models.OrderPaid:
	default:
		return nil, ErrNotPaid
	}

	codes, err := s.Inventory.TakeCodes(ctx, order.OrderID, order.Card, order.Region, order.Denom, order.Quantity)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			s.Metrics.Deliveries.WithLabelValues("insufficient_stock").Inc()
			s.Log.Warn("delivery blocked by stock",
				zap.String("order_id", order.OrderID),
				zap.String("card", order.Card),
				zap.String("region", order.Region),
				zap.Int64("denom", order.Denom),
				zap.Int("quantity", order.Quantity))
			s.alertAdmins(ctx, fmt.Sprintf(
				"Stock short for order %s: %s %s %d x%d. Restock and run /deliver %s.",
				order.OrderID, order.Card, order.Region, order.Denom, order.Quantity, order.OrderID))
		}
		return nil, err
	}

	order, err = s.Ledger.UpdateOrder(ctx, orderID, func(o *models.Order) error {
		now := time.Now().UTC()
		o.Status = models.OrderDelivered
		o.DeliveredAt = &now
		o.Codes = codes
		return nil
	})
	if err != nil {
		// Codes are already out of inventory; the log line is the only
		// trail left for manual recovery.
		s.Log.Error("delivered codes could not be attached to order",
			zap.String("order_id", orderID),
			zap.Strings("codes", codes),
			zap.Error(err))
		return nil, err
	}

	s.Metrics.Deliveries.WithLabelValues("delivered").Inc()
	s.Log.Info("order delivered",
		zap.String("order_id", order.OrderID),
		zap.Int("codes", len(order.Codes)))

	// Best effort: the order record holds the codes either way.
	msg := fmt.Sprintf("Your order %s is ready. Codes:\n%s",
		order.OrderID, strings.Join(order.Codes, "\n"))
	if err := s.Chat.SendMessage(ctx, order.BuyerID, msg); err != nil {
		s.Log.Warn("buyer delivery notification failed",
			zap.String("order_id", order.OrderID), zap.Error(err))
	}
	return order, nil
}

// HandleNotification processes one gateway callback. rawBody must be the
// exact bytes received; the signature is verified over them before anything
// else happens. Unknown correlation ids are acknowledged without error since
// the gateway retries notifications for foreign transactions too.
func (s *OrderService) HandleNotification(ctx context.Context, rawBody []byte, signature string) error {
	if !gateway.VerifySignature(rawBody, signature, s.Secret) {
		s.Metrics.Notifications.WithLabelValues("invalid_signature").Inc()
		s.Log.Warn("notification rejected: bad signature")
		return ErrInvalidSignature
	}

	n, err := gateway.ParseNotification(rawBody)
	if err != nil {
		s.Metrics.Notifications.WithLabelValues("malformed").Inc()
		s.Log.Warn("authentic notification is malformed", zap.Error(err))
		return fmt.Errorf("parse notification: %w", err)
	}

	s.Locks.Lock(n.Custom)
	defer s.Locks.Unlock(n.Custom)

	order, err := s.Ledger.GetOrder(ctx, n.Custom)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			s.Metrics.Notifications.WithLabelValues("unknown_order").Inc()
			s.Log.Info("notification for unknown order acknowledged",
				zap.String("correlation_id", n.Custom))
			return nil
		}
		return storageFailure("load order", err)
	}

	order, err = s.Ledger.UpdateOrder(ctx, order.OrderID, func(o *models.Order) error {
		o.LastNotification = string(rawBody)

		if n.Status == gateway.StatusFinished {
			if models.StatusRank(o.Status) < models.StatusRank(models.OrderPaid) {
				now := time.Now().UTC()
				o.Status = models.OrderPaid
				o.PaidAt = &now
			}
			return nil
		}

		// Anything but finished re-marks pending, which must never
		// downgrade an order already paid or delivered.
		if models.StatusRank(o.Status) > models.StatusRank(models.OrderPending) {
			return nil
		}
		o.Status = models.OrderPending
		return nil
	})
	if err != nil {
		return storageFailure("record notification", err)
	}

	if n.Status != gateway.StatusFinished {
		s.Metrics.Notifications.WithLabelValues("not_finished").Inc()
		s.Log.Info("notification recorded",
			zap.String("order_id", order.OrderID),
			zap.Int("gateway_status", n.Status))
		return nil
	}

	if order.Status == models.OrderDelivered {
		s.Metrics.Notifications.WithLabelValues("already_delivered").Inc()
		return nil
	}

	s.Metrics.Notifications.WithLabelValues("paid").Inc()
	if _, err := s.deliverLocked(ctx, order.OrderID); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			// Stays paid for manual follow-up; admins were alerted.
			return nil
		}
		if errors.Is(err, ErrAlreadyDelivered) {
			return nil
		}
		// Payment is already recorded; a retry will re-attempt delivery.
		return storageFailure("deliver", err)
	}
	return nil
}

func (s *OrderService) alertAdmins(ctx context.Context, text string) {
	for _, admin := range s.AdminIDs {
		if err := s.Chat.SendMessage(ctx, admin, text); err != nil {
			s.Log.Warn("admin alert failed", zap.String("admin_id", admin), zap.Error(err))
		}
	}
}
