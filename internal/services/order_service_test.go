package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"GiftCodeKiosk/internal/chat"
	"GiftCodeKiosk/internal/gateway"
	"GiftCodeKiosk/internal/locks"
	"GiftCodeKiosk/internal/metrics"
	"GiftCodeKiosk/internal/models"
	"GiftCodeKiosk/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "webhook-secret"

type fakeGateway struct {
	mu          sync.Mutex
	fail        bool
	calls       int
	lastAmount  int64
	lastOrderID string
}

func (g *fakeGateway) CreateInvoice(ctx context.Context, amount int64, orderID string) (*models.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastAmount = amount
	g.lastOrderID = orderID
	if g.fail {
		return nil, fmt.Errorf("%w: connection refused", gateway.ErrGateway)
	}
	return &models.Invoice{
		InvoiceID:   fmt.Sprintf("inv-%d", g.calls),
		PayAddress:  "bc1qtestaddress",
		PayAmount:   "0.0021",
		PayCurrency: "BTC",
		RawResponse: `{"invoice_id":"inv"}`,
	}, nil
}

type fakeSender struct {
	mu       sync.Mutex
	fail     bool
	messages map[string][]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{messages: make(map[string][]string)}
}

func (f *fakeSender) SendMessage(ctx context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("chat unreachable")
	}
	f.messages[userID] = append(f.messages[userID], text)
	return nil
}

func (f *fakeSender) PresentChoices(ctx context.Context, userID, prompt string, _ []chat.Choice) error {
	return f.SendMessage(ctx, userID, prompt)
}

func (f *fakeSender) sentTo(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages[userID]...)
}

func newTestService() (*OrderService, *store.Memory, *fakeGateway, *fakeSender) {
	mem := store.NewMemory()
	gw := &fakeGateway{}
	sender := newFakeSender()
	svc := &OrderService{
		Ledger:    mem,
		Inventory: mem,
		Gateway:   gw,
		Chat:      sender,
		Secret:    testSecret,
		AdminIDs:  []string{"admin-1", "admin-2"},
		Locks:     locks.NewKeyMutex(64),
		Metrics:   metrics.New(),
		Log:       zap.NewNop(),
	}
	return svc, mem, gw, sender
}

func signedNotification(orderID string, status int) ([]byte, string) {
	body := []byte(fmt.Sprintf(`{"invoice_id":"inv-1","custom":%q,"status":%d}`, orderID, status))
	return body, gateway.Sign(body, testSecret)
}

func selection() models.Selection {
	return models.Selection{Card: "GiftCardX", Region: "US", Denom: 50, Quantity: 2}
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	svc, mem, gw, _ := newTestService()

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)

	assert.Equal(t, int64(100), order.TotalAmount, "total = denom x quantity")
	assert.Equal(t, models.OrderPending, order.Status)
	require.NotNil(t, order.Invoice)
	assert.Equal(t, "inv-1", order.Invoice.InvoiceID)
	assert.Equal(t, int64(100), gw.lastAmount)
	assert.Equal(t, order.OrderID, gw.lastOrderID, "order id rides as correlation metadata")

	persisted, err := mem.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	require.NotNil(t, persisted.Invoice)
}

func TestCreateOrderGatewayFailureKeepsPendingOrder(t *testing.T) {
	ctx := context.Background()
	svc, mem, gw, _ := newTestService()
	gw.fail = true

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.ErrorIs(t, err, gateway.ErrGateway)
	require.NotNil(t, order, "pending order is reported back for retry/audit")

	persisted, err := mem.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, persisted.Status)
	assert.Nil(t, persisted.Invoice, "no transaction attached on gateway failure")
}

func TestGetOrderNotFound(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}

func TestMarkPaid(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService()

	_, err := svc.MarkPaid(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrOrderNotFound)

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)

	paid, err := svc.MarkPaid(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	// idempotent re-stamp
	again, err := svc.MarkPaid(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, again.Status)
}

func TestDeliverRequiresPaid(t *testing.T) {
	ctx := context.Background()
	svc, mem, _, _ := newTestService()
	require.NoError(t, mem.AddCodes(ctx, "GiftCardX", "US", 50, []string{"C1", "C2"}))

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)

	_, err = svc.Deliver(ctx, order.OrderID)
	assert.ErrorIs(t, err, ErrNotPaid)

	n, err := mem.CountCodes(ctx, "GiftCardX", "US", 50)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "failed precondition must not touch inventory")
}

func TestDeliverPaidOrder(t *testing.T) {
	ctx := context.Background()
	svc, mem, _, sender := newTestService()
	require.NoError(t, mem.AddCodes(ctx, "GiftCardX", "US", 50, []string{"C1", "C2", "C3"}))

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, order.OrderID)
	require.NoError(t, err)

	delivered, err := svc.Deliver(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, delivered.Status)
	assert.Equal(t, []string{"C1", "C2"}, delivered.Codes, "FIFO from the front of the bucket")
	require.NotNil(t, delivered.DeliveredAt)

	n, err := mem.CountCodes(ctx, "GiftCardX", "US", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := sender.sentTo("buyer-1")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "C1")
	assert.Contains(t, msgs[0], "C2")

	_, err = svc.Deliver(ctx, order.OrderID)
	assert.ErrorIs(t, err, ErrAlreadyDelivered)
}

func TestDeliverInsufficientStockAlertsAdmins(t *testing.T) {
	ctx := context.Background()
	svc, mem, _, sender := newTestService()
	require.NoError(t, mem.AddCodes(ctx, "GiftCardX", "US", 50, []string{"C1"}))

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, order.OrderID)
	require.NoError(t, err)

	_, err = svc.Deliver(ctx, order.OrderID)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	got, err := svc.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status, "order stays paid for manual follow-up")

	n, err := mem.CountCodes(ctx, "GiftCardX", "US", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "partial buckets are never drained")

	for _, admin := range []string{"admin-1", "admin-2"} {
		msgs := sender.sentTo(admin)
		require.Len(t, msgs, 1, "admin %s", admin)
		assert.Contains(t, msgs[0], order.OrderID)
	}
}

func TestDeliverSurvivesNotifyFailure(t *testing.T) {
	ctx := context.Background()
	svc, mem, _, sender := newTestService()
	require.NoError(t, mem.AddCodes(ctx, "GiftCardX", "US", 50, []string{"C1", "C2"}))

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, order.OrderID)
	require.NoError(t, err)

	sender.fail = true
	delivered, err := svc.Deliver(ctx, order.OrderID)
	require.NoError(t, err, "notify failure never rolls back delivery")
	assert.Equal(t, models.OrderDelivered, delivered.Status)
	assert.Equal(t, []string{"C1", "C2"}, delivered.Codes, "codes committed on the order record")
}

func TestHandleNotificationInvalidSignature(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService()

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)

	body, _ := signedNotification(order.OrderID, gateway.StatusFinished)
	err = svc.HandleNotification(ctx, body, gateway.Sign(body, "wrong-secret"))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	got, err := svc.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)
	assert.Empty(t, got.LastNotification, "rejected notification must not mutate the order")
}

func TestHandleNotificationNoSecretConfigured(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService()
	svc.Secret = ""

	body, sig := signedNotification("any", gateway.StatusFinished)
	assert.ErrorIs(t, svc.HandleNotification(ctx, body, sig), ErrInvalidSignature)
}

func TestHandleNotificationUnknownOrderIsAcked(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService()

	body, sig := signedNotification("not-ours", gateway.StatusFinished)
	assert.NoError(t, svc.HandleNotification(ctx, body, sig))
}

func TestHandleNotificationFinishedDeliversOrder(t *testing.T) {
	ctx := context.Background()
	svc, mem, _, sender := newTestService()
	require.NoError(t, mem.AddCodes(ctx, "GiftCardX", "US", 50, []string{"C1", "C2"}))

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)

	body, sig := signedNotification(order.OrderID, gateway.StatusFinished)
	require.NoError(t, svc.HandleNotification(ctx, body, sig))

	got, err := svc.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, got.Status)
	assert.Equal(t, []string{"C1", "C2"}, got.Codes, "codes arrive in original sequence order")
	require.NotNil(t, got.PaidAt)
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, string(body), got.LastNotification)

	n, err := mem.CountCodes(ctx, "GiftCardX", "US", 50)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "exactly quantity codes removed")

	msgs := sender.sentTo("buyer-1")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "C1\nC2")
}

func TestHandleNotificationDuplicateAfterDelivery(t *testing.T) {
	ctx := context.Background()
	svc, mem, _, _ := newTestService()
	require.NoError(t, mem.AddCodes(ctx, "GiftCardX", "US", 50, []string{"C1", "C2", "C3", "C4"}))

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)

	body, sig := signedNotification(order.OrderID, gateway.StatusFinished)
	require.NoError(t, svc.HandleNotification(ctx, body, sig))
	require.NoError(t, svc.HandleNotification(ctx, body, sig), "redelivery is acknowledged")

	got, err := svc.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, got.Status)
	assert.Equal(t, []string{"C1", "C2"}, got.Codes)

	n, err := mem.CountCodes(ctx, "GiftCardX", "US", 50)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "no double dispensing on duplicate notifications")
}

func TestHandleNotificationNeverDowngradesStatus(t *testing.T) {
	ctx := context.Background()
	svc, mem, _, _ := newTestService()
	require.NoError(t, mem.AddCodes(ctx, "GiftCardX", "US", 50, []string{"C1", "C2"}))

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)

	finished, finishedSig := signedNotification(order.OrderID, gateway.StatusFinished)
	stale, staleSig := signedNotification(order.OrderID, 40)

	require.NoError(t, svc.HandleNotification(ctx, finished, finishedSig))
	require.NoError(t, svc.HandleNotification(ctx, stale, staleSig), "late non-finished notification")

	got, err := svc.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, got.Status, "delivered never reverts")
	assert.Equal(t, string(stale), got.LastNotification, "raw payload recorded for audit regardless")
}

func TestHandleNotificationNotFinishedKeepsPending(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService()

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)

	body, sig := signedNotification(order.OrderID, 40)
	require.NoError(t, svc.HandleNotification(ctx, body, sig))

	got, err := svc.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)
	assert.Nil(t, got.PaidAt)
	assert.Equal(t, string(body), got.LastNotification)
}

func TestHandleNotificationStockShortLeavesPaid(t *testing.T) {
	ctx := context.Background()
	svc, mem, _, sender := newTestService()
	require.NoError(t, mem.AddCodes(ctx, "GiftCardX", "US", 50, []string{"C1"}))

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)

	body, sig := signedNotification(order.OrderID, gateway.StatusFinished)
	require.NoError(t, svc.HandleNotification(ctx, body, sig), "stock shortfall is not a webhook error")

	got, err := svc.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)

	require.NotEmpty(t, sender.sentTo("admin-1"))

	// restock, then manual delivery succeeds
	require.NoError(t, mem.AddCodes(ctx, "GiftCardX", "US", 50, []string{"C2"}))
	delivered, err := svc.Deliver(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2"}, delivered.Codes)
}

// flakyLedger passes through until fail is set, then errors every update.
type flakyLedger struct {
	store.Ledger
	mu   sync.Mutex
	fail bool
}

func (l *flakyLedger) setFail(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = fail
}

func (l *flakyLedger) UpdateOrder(ctx context.Context, orderID string, mutate func(*models.Order) error) (*models.Order, error) {
	l.mu.Lock()
	fail := l.fail
	l.mu.Unlock()
	if fail {
		return nil, errors.New("db down")
	}
	return l.Ledger.UpdateOrder(ctx, orderID, mutate)
}

func TestHandleNotificationStorageFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	svc, mem, _, _ := newTestService()
	ledger := &flakyLedger{Ledger: mem}
	svc.Ledger = ledger
	require.NoError(t, mem.AddCodes(ctx, "GiftCardX", "US", 50, []string{"C1", "C2"}))

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)

	body, sig := signedNotification(order.OrderID, gateway.StatusFinished)

	ledger.setFail(true)
	err = svc.HandleNotification(ctx, body, sig)
	require.ErrorIs(t, err, ErrStorage)

	got, err := svc.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status, "nothing recorded, nothing advanced")

	// The gateway retries the identical payload once the database is back.
	ledger.setFail(false)
	require.NoError(t, svc.HandleNotification(ctx, body, sig))

	got, err = svc.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, got.Status)
	assert.Equal(t, []string{"C1", "C2"}, got.Codes)
}

func TestConcurrentNotificationsDispenseOnce(t *testing.T) {
	ctx := context.Background()
	svc, mem, _, _ := newTestService()
	require.NoError(t, mem.AddCodes(ctx, "GiftCardX", "US", 50, []string{"C1", "C2", "C3", "C4", "C5", "C6"}))

	order, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)

	body, sig := signedNotification(order.OrderID, gateway.StatusFinished)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.HandleNotification(ctx, body, sig)
		}()
	}
	wg.Wait()

	got, err := svc.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, got.Status)
	assert.Len(t, got.Codes, 2)

	n, err := mem.CountCodes(ctx, "GiftCardX", "US", 50)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "20 racing notifications dispense exactly one order's worth")
}

func TestListPending(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService()

	a, err := svc.CreateOrder(ctx, selection(), "buyer-1", "Ann")
	require.NoError(t, err)
	b, err := svc.CreateOrder(ctx, selection(), "buyer-2", "Ben")
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, b.OrderID)
	require.NoError(t, err)

	pending, err := svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.OrderID, pending[0].OrderID)
}
