package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"GiftCodeKiosk/internal/models"
	"GiftCodeKiosk/internal/services"
	"GiftCodeKiosk/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	Orders *services.OrderService
	Secret string
	Log    *zap.Logger
}

func NewHandler(orders *services.OrderService, secret string, log *zap.Logger) *Handler {
	return &Handler{Orders: orders, Secret: secret, Log: log}
}

// SignatureHeader carries the gateway's HMAC over the request body.
const SignatureHeader = "X-Gateway-Signature"

// Notify receives gateway payment notifications. The contract: 500 only when
// the server has no shared secret configured, 403 only on signature failure,
// 200 once the payload has been recorded and processed, business no-ops
// included. A storage failure answers 503 so the gateway keeps retrying —
// acknowledging before the ledger has the payload would lose the payment.
// The body bytes are verified exactly as received.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	if h.Secret == "" {
		writeError(w, http.StatusInternalServerError, "notification secret not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	err = h.Orders.HandleNotification(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, services.ErrInvalidSignature):
		writeError(w, http.StatusForbidden, "invalid signature")
	case errors.Is(err, services.ErrStorage):
		h.Log.Error("notification not recorded", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		// Authentic but unusable payloads are logged and acknowledged so
		// the gateway stops retrying them.
		h.Log.Warn("notification processing problem", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type orderResponse struct {
	OrderID     string   `json:"orderId"`
	Status      string   `json:"status"`
	Card        string   `json:"card"`
	Region      string   `json:"region"`
	Denom       int64    `json:"denom"`
	Quantity    int      `json:"quantity"`
	TotalAmount int64    `json:"totalAmount"`
	CreatedAt   string   `json:"createdAt"`
	PaidAt      string   `json:"paidAt,omitempty"`
	DeliveredAt string   `json:"deliveredAt,omitempty"`
	PayAddress  string   `json:"payAddress,omitempty"`
	PayAmount   string   `json:"payAmount,omitempty"`
	PayCurrency string   `json:"payCurrency,omitempty"`
	Codes       []string `json:"codes,omitempty"`
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}

	resp := orderResponse{
		OrderID:     order.OrderID,
		Status:      string(order.Status),
		Card:        order.Card,
		Region:      order.Region,
		Denom:       order.Denom,
		Quantity:    order.Quantity,
		TotalAmount: order.TotalAmount,
		CreatedAt:   order.CreatedAt.Format(time.RFC3339),
	}
	if order.PaidAt != nil {
		resp.PaidAt = order.PaidAt.Format(time.RFC3339)
	}
	if order.DeliveredAt != nil {
		resp.DeliveredAt = order.DeliveredAt.Format(time.RFC3339)
	}
	if order.Invoice != nil {
		resp.PayAddress = order.Invoice.PayAddress
		resp.PayAmount = order.Invoice.PayAmount
		resp.PayCurrency = order.Invoice.PayCurrency
	}
	if order.Status == models.OrderDelivered {
		resp.Codes = order.Codes
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
