package store

import (
	"context"
	"database/sql"
	"errors"

	"GiftCodeKiosk/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres backs the ledger and inventory with pgx. Per-order atomicity
// comes from row locks (SELECT ... FOR UPDATE inside a transaction);
// per-bucket FIFO dispensing locks the candidate code rows the same way.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

func (s *Postgres) CreateOrder(ctx context.Context, order *models.Order) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO orders (
			order_id, buyer_id, buyer_name, card, region, denom, quantity,
			total_amount, status, created_at, updated_at, paid_at, delivered_at,
			invoice_id, pay_address, pay_amount, pay_currency, invoice_raw,
			last_notification, codes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		order.OrderID,
		order.BuyerID,
		order.BuyerName,
		order.Card,
		order.Region,
		order.Denom,
		order.Quantity,
		order.TotalAmount,
		order.Status,
		order.CreatedAt,
		order.UpdatedAt,
		order.PaidAt,
		order.DeliveredAt,
		invoiceField(order, func(i *models.Invoice) string { return i.InvoiceID }),
		invoiceField(order, func(i *models.Invoice) string { return i.PayAddress }),
		invoiceField(order, func(i *models.Invoice) string { return i.PayAmount }),
		invoiceField(order, func(i *models.Invoice) string { return i.PayCurrency }),
		invoiceField(order, func(i *models.Invoice) string { return i.RawResponse }),
		nullIfEmpty(order.LastNotification),
		order.Codes,
	)
	return err
}

func (s *Postgres) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, selectOrder+` WHERE order_id=$1`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (s *Postgres) UpdateOrder(ctx context.Context, orderID string, mutate func(*models.Order) error) (*models.Order, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, selectOrder+` WHERE order_id=$1 FOR UPDATE`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if err := mutate(order); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders SET
			status=$2, updated_at=now(), paid_at=$3, delivered_at=$4,
			invoice_id=$5, pay_address=$6, pay_amount=$7, pay_currency=$8,
			invoice_raw=$9, last_notification=$10, codes=$11
		WHERE order_id=$1
	`,
		order.OrderID,
		order.Status,
		order.PaidAt,
		order.DeliveredAt,
		invoiceField(order, func(i *models.Invoice) string { return i.InvoiceID }),
		invoiceField(order, func(i *models.Invoice) string { return i.PayAddress }),
		invoiceField(order, func(i *models.Invoice) string { return i.PayAmount }),
		invoiceField(order, func(i *models.Invoice) string { return i.PayCurrency }),
		invoiceField(order, func(i *models.Invoice) string { return i.RawResponse }),
		nullIfEmpty(order.LastNotification),
		order.Codes,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Postgres) ListOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, selectOrder+` WHERE status=$1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *Postgres) TakeCodes(ctx context.Context, orderID, card, region string, denom int64, qty int) ([]string, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// SKIP LOCKED keeps concurrent dispensers from blocking on each other's
	// candidate rows and re-counting them as available.
	rows, err := tx.Query(ctx, `
		SELECT pos, code FROM gift_codes
		WHERE card=$1 AND region=$2 AND denom=$3 AND dispensed_at IS NULL
		ORDER BY pos
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	`, card, region, denom, qty)
	if err != nil {
		return nil, err
	}

	var positions []int64
	var codes []string
	for rows.Next() {
		var pos int64
		var code string
		if err := rows.Scan(&pos, &code); err != nil {
			rows.Close()
			return nil, err
		}
		positions = append(positions, pos)
		codes = append(codes, code)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(codes) < qty {
		return nil, ErrInsufficientStock
	}

	_, err = tx.Exec(ctx, `UPDATE gift_codes SET dispensed_at=now(), order_id=$2 WHERE pos = ANY($1)`, positions, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return codes, nil
}

func (s *Postgres) AddCodes(ctx context.Context, card, region string, denom int64, codes []string) error {
	for _, code := range codes {
		_, err := s.Pool.Exec(ctx, `
			INSERT INTO gift_codes (card, region, denom, code)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (code) DO NOTHING
		`, card, region, denom, code)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) CountCodes(ctx context.Context, card, region string, denom int64) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `
		SELECT count(*) FROM gift_codes
		WHERE card=$1 AND region=$2 AND denom=$3 AND dispensed_at IS NULL
	`, card, region, denom).Scan(&n)
	return n, err
}

const selectOrder = `
	SELECT order_id, buyer_id, buyer_name, card, region, denom, quantity,
		total_amount, status, created_at, updated_at, paid_at, delivered_at,
		invoice_id, pay_address, pay_amount, pay_currency, invoice_raw,
		last_notification, codes
	FROM orders`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var paidAt, deliveredAt sql.NullTime
	var invoiceID, payAddress, payAmount, payCurrency, invoiceRaw, lastNotification sql.NullString

	err := row.Scan(
		&order.OrderID,
		&order.BuyerID,
		&order.BuyerName,
		&order.Card,
		&order.Region,
		&order.Denom,
		&order.Quantity,
		&order.TotalAmount,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
		&paidAt,
		&deliveredAt,
		&invoiceID,
		&payAddress,
		&payAmount,
		&payCurrency,
		&invoiceRaw,
		&lastNotification,
		&order.Codes,
	)
	if err != nil {
		return nil, err
	}

	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	if deliveredAt.Valid {
		order.DeliveredAt = &deliveredAt.Time
	}
	if invoiceID.Valid {
		order.Invoice = &models.Invoice{
			InvoiceID:   invoiceID.String,
			PayAddress:  payAddress.String,
			PayAmount:   payAmount.String,
			PayCurrency: payCurrency.String,
			RawResponse: invoiceRaw.String,
		}
	}
	if lastNotification.Valid {
		order.LastNotification = lastNotification.String
	}
	return &order, nil
}

func invoiceField(order *models.Order, get func(*models.Invoice) string) *string {
	if order.Invoice == nil {
		return nil
	}
	v := get(order.Invoice)
	return &v
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
