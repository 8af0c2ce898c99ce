package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"GiftCodeKiosk/internal/models"

	"github.com/go-resty/resty/v2"
)

var ErrGateway = errors.New("payment gateway error")

// Client talks to the crypto payment gateway's invoice API. The order id
// travels on the invoice as the "custom" field and comes back on every
// notification, which is the only correlation between the two systems.
type Client struct {
	http        *resty.Client
	currency    string
	callbackURL string
}

func NewClient(baseURL, apiKey, currency, callbackURL string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetHeader("Authorization", "Bearer "+apiKey)
	return &Client{
		http:        http,
		currency:    currency,
		callbackURL: callbackURL,
	}
}

type createInvoiceRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Custom      string `json:"custom"`
	CallbackURL string `json:"callback_url"`
}

type createInvoiceResponse struct {
	InvoiceID   string `json:"invoice_id"`
	PayAddress  string `json:"pay_address"`
	PayAmount   string `json:"pay_amount"`
	PayCurrency string `json:"pay_currency"`
}

func (c *Client) CreateInvoice(ctx context.Context, amount int64, orderID string) (*models.Invoice, error) {
	var out createInvoiceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createInvoiceRequest{
			Amount:      strconv.FormatInt(amount, 10),
			Currency:    c.currency,
			Custom:      orderID,
			CallbackURL: c.callbackURL,
		}).
		SetResult(&out).
		Post("/invoices")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: http status %d: %s", ErrGateway, resp.StatusCode(), resp.String())
	}
	if out.InvoiceID == "" || out.PayAddress == "" {
		return nil, fmt.Errorf("%w: incomplete invoice response", ErrGateway)
	}

	return &models.Invoice{
		InvoiceID:   out.InvoiceID,
		PayAddress:  out.PayAddress,
		PayAmount:   out.PayAmount,
		PayCurrency: out.PayCurrency,
		RawResponse: resp.String(),
	}, nil
}
