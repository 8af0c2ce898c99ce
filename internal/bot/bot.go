package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"GiftCodeKiosk/internal/chat"
	"GiftCodeKiosk/internal/gateway"
	"GiftCodeKiosk/internal/models"
	"GiftCodeKiosk/internal/services"
	"GiftCodeKiosk/internal/session"
	"GiftCodeKiosk/internal/store"

	"go.uber.org/zap"
)

// Bot routes inbound chat events into the session manager and the order
// controller, and talks back to the buyer. Replies are best effort: a failed
// send is logged and the interaction moves on.
type Bot struct {
	Sessions *session.Manager
	Orders   *services.OrderService
	Sender   chat.Sender
	Cards    []string
	Denoms   []int64
	admins   map[string]bool
	Log      *zap.Logger
}

func New(sessions *session.Manager, orders *services.OrderService, sender chat.Sender, cards []string, denoms []int64, adminIDs []string, log *zap.Logger) *Bot {
	admins := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Bot{
		Sessions: sessions,
		Orders:   orders,
		Sender:   sender,
		Cards:    cards,
		Denoms:   denoms,
		admins:   admins,
		Log:      log,
	}
}

// Run consumes the event stream until ctx is done.
func (b *Bot) Run(ctx context.Context, stream *chat.Stream) {
	stream.Run(ctx, func(ev chat.Event) {
		b.Handle(ctx, ev)
	})
}

func (b *Bot) Handle(ctx context.Context, ev chat.Event) {
	switch ev.Type {
	case chat.EventCommand:
		b.handleCommand(ctx, ev)
	case chat.EventCallback:
		b.handleCallback(ctx, ev)
	case chat.EventText:
		b.handleText(ctx, ev)
	}
}

func (b *Bot) handleCommand(ctx context.Context, ev chat.Event) {
	fields := strings.Fields(ev.Payload)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "/start":
		b.promptCards(ctx, ev.UserID)
	case "/cancel":
		b.Sessions.Cancel(ev.UserID)
		b.reply(ctx, ev.UserID, "Order cancelled. Send /start to begin again.")
	case "/pending":
		b.adminOnly(ctx, ev, func() { b.listPending(ctx, ev.UserID) })
	case "/paid":
		b.adminOnly(ctx, ev, func() { b.adminPaid(ctx, ev.UserID, fields[1:]) })
	case "/deliver":
		b.adminOnly(ctx, ev, func() { b.adminDeliver(ctx, ev.UserID, fields[1:]) })
	default:
		b.reply(ctx, ev.UserID, "Unknown command. Send /start to buy a gift card.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, ev chat.Event) {
	switch {
	case strings.HasPrefix(ev.Payload, "card:"):
		card := strings.TrimPrefix(ev.Payload, "card:")
		b.Sessions.SelectCard(ev.UserID, card)
		b.reply(ctx, ev.UserID, fmt.Sprintf("%s it is. Which region? Type it in chat (for example: US).", card))

	case strings.HasPrefix(ev.Payload, "denom:"):
		denom, err := strconv.ParseInt(strings.TrimPrefix(ev.Payload, "denom:"), 10, 64)
		if err != nil {
			return
		}
		switch err := b.Sessions.SelectDenom(ev.UserID, denom); {
		case errors.Is(err, session.ErrNoActiveSession):
			b.reply(ctx, ev.UserID, "No active order. Send /start to begin.")
		case errors.Is(err, session.ErrInvalidDenom):
			b.reply(ctx, ev.UserID, "That denomination is not offered. Pick one of the buttons.")
		case err == nil:
			b.reply(ctx, ev.UserID, "How many cards? Type a number from 1 to 10.")
		}

	case ev.Payload == "pay":
		b.pay(ctx, ev)

	case ev.Payload == "cancel":
		b.Sessions.Cancel(ev.UserID)
		b.reply(ctx, ev.UserID, "Order cancelled. Send /start to begin again.")
	}
}

func (b *Bot) handleText(ctx context.Context, ev chat.Event) {
	state, ok := b.Sessions.StateOf(ev.UserID)
	if !ok {
		b.reply(ctx, ev.UserID, "Send /start to buy a gift card.")
		return
	}

	switch state {
	case session.StateCardChosen:
		if err := b.Sessions.SetRegion(ev.UserID, ev.Payload); err != nil {
			b.reply(ctx, ev.UserID, "No active order. Send /start to begin.")
			return
		}
		b.promptDenoms(ctx, ev.UserID)

	case session.StateDenomSet:
		sel, err := b.Sessions.SetQuantity(ev.UserID, ev.Payload)
		if errors.Is(err, session.ErrInvalidQuantity) {
			b.reply(ctx, ev.UserID, "Quantity must be a whole number from 1 to 10. Try again.")
			return
		}
		if err != nil {
			b.reply(ctx, ev.UserID, "No active order. Send /start to begin.")
			return
		}
		b.confirm(ctx, ev.UserID, sel)

	default:
		b.reply(ctx, ev.UserID, "Use the buttons above, or /cancel to start over.")
	}
}

func (b *Bot) pay(ctx context.Context, ev chat.Event) {
	sel, err := b.Sessions.Finalize(ev.UserID)
	if err != nil {
		// Repeated Pay taps land here: the first tap consumed the session.
		b.reply(ctx, ev.UserID, "Nothing to pay for. Send /start to begin a new order.")
		return
	}

	order, err := b.Orders.CreateOrder(ctx, sel, ev.UserID, ev.Username)
	if err != nil {
		if errors.Is(err, gateway.ErrGateway) && order != nil {
			b.reply(ctx, ev.UserID, fmt.Sprintf(
				"Could not reach the payment gateway. Your order %s is saved; please try again later.",
				order.OrderID))
			return
		}
		b.Log.Error("order creation failed", zap.String("buyer_id", ev.UserID), zap.Error(err))
		b.reply(ctx, ev.UserID, "Something went wrong creating your order. Please try again.")
		return
	}

	b.reply(ctx, ev.UserID, fmt.Sprintf(
		"Order %s created.\nSend exactly %s %s to:\n%s\n\nCodes are delivered automatically once the payment confirms.",
		order.OrderID, order.Invoice.PayAmount, order.Invoice.PayCurrency, order.Invoice.PayAddress))
}

func (b *Bot) promptCards(ctx context.Context, userID string) {
	choices := make([]chat.Choice, 0, len(b.Cards))
	for _, card := range b.Cards {
		choices = append(choices, chat.Choice{Label: card, Data: "card:" + card})
	}
	if err := b.Sender.PresentChoices(ctx, userID, "Pick a gift card:", choices); err != nil {
		b.Log.Warn("prompt failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (b *Bot) promptDenoms(ctx context.Context, userID string) {
	choices := make([]chat.Choice, 0, len(b.Denoms))
	for _, d := range b.Denoms {
		choices = append(choices, chat.Choice{
			Label: fmt.Sprintf("%d", d),
			Data:  fmt.Sprintf("denom:%d", d),
		})
	}
	if err := b.Sender.PresentChoices(ctx, userID, "Pick a denomination:", choices); err != nil {
		b.Log.Warn("prompt failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (b *Bot) confirm(ctx context.Context, userID string, sel models.Selection) {
	prompt := fmt.Sprintf(
		"Your order: %s / %s / %d x%d = %d total.\nReady to pay?",
		sel.Card, sel.Region, sel.Denom, sel.Quantity, sel.Total())
	choices := []chat.Choice{
		{Label: "Pay", Data: "pay"},
		{Label: "Cancel", Data: "cancel"},
	}
	if err := b.Sender.PresentChoices(ctx, userID, prompt, choices); err != nil {
		b.Log.Warn("prompt failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (b *Bot) adminOnly(ctx context.Context, ev chat.Event, fn func()) {
	if !b.admins[ev.UserID] {
		b.reply(ctx, ev.UserID, "Unknown command. Send /start to buy a gift card.")
		return
	}
	fn()
}

func (b *Bot) listPending(ctx context.Context, adminID string) {
	orders, err := b.Orders.ListPending(ctx)
	if err != nil {
		b.reply(ctx, adminID, "Could not list pending orders.")
		return
	}
	if len(orders) == 0 {
		b.reply(ctx, adminID, "No pending orders.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Pending orders:\n")
	for _, o := range orders {
		fmt.Fprintf(&sb, "%s  %s  %s/%s/%d x%d  total %d\n",
			o.OrderID, o.BuyerName, o.Card, o.Region, o.Denom, o.Quantity, o.TotalAmount)
	}
	b.reply(ctx, adminID, sb.String())
}

func (b *Bot) adminPaid(ctx context.Context, adminID string, args []string) {
	if len(args) != 1 {
		b.reply(ctx, adminID, "Usage: /paid <order-id>")
		return
	}
	order, err := b.Orders.MarkPaid(ctx, args[0])
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		b.reply(ctx, adminID, "No such order.")
	case errors.Is(err, services.ErrAlreadyDelivered):
		b.reply(ctx, adminID, "Order is already delivered.")
	case err != nil:
		b.reply(ctx, adminID, "Marking paid failed: "+err.Error())
	default:
		b.reply(ctx, adminID, fmt.Sprintf("Order %s marked paid.", order.OrderID))
	}
}

func (b *Bot) adminDeliver(ctx context.Context, adminID string, args []string) {
	if len(args) != 1 {
		b.reply(ctx, adminID, "Usage: /deliver <order-id>")
		return
	}
	order, err := b.Orders.Deliver(ctx, args[0])
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		b.reply(ctx, adminID, "No such order.")
	case errors.Is(err, services.ErrNotPaid):
		b.reply(ctx, adminID, "Order is not paid yet.")
	case errors.Is(err, services.ErrAlreadyDelivered):
		b.reply(ctx, adminID, "Order is already delivered.")
	case errors.Is(err, store.ErrInsufficientStock):
		b.reply(ctx, adminID, "Not enough codes in stock for that order.")
	case err != nil:
		b.reply(ctx, adminID, "Delivery failed: "+err.Error())
	default:
		b.reply(ctx, adminID, fmt.Sprintf("Order %s delivered (%d codes).", order.OrderID, len(order.Codes)))
	}
}

func (b *Bot) reply(ctx context.Context, userID, text string) {
	if err := b.Sender.SendMessage(ctx, userID, text); err != nil {
		b.Log.Warn("reply failed", zap.String("user_id", userID), zap.Error(err))
	}
}
