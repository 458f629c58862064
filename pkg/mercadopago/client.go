package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.mercadopago.com"
	defaultTimeout              = 10 * time.Second
	requestBodyReadLimit  int64 = 1024
	responseBodyReadLimit int64 = 1 << 20
)

var errAccessTokenRequired = errors.New("mercado pago access token is required")

// Client talks to the Mercado Pago payments and checkout preference APIs.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	sandbox     bool
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithSandbox makes CreatePreference return the sandbox checkout URL.
func WithSandbox(sandbox bool) Option {
	return func(c *Client) {
		c.sandbox = sandbox
	}
}

// NewClient builds a Mercado Pago client authenticated with accessToken.
func NewClient(accessToken string, opts ...Option) (*Client, error) {
	trimmedToken := strings.TrimSpace(accessToken)
	if trimmedToken == "" {
		return nil, errAccessTokenRequired
	}

	client := &Client{
		accessToken: trimmedToken,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	return client, nil
}

// Payment is the subset of the payment resource reconciliation relies on.
type Payment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	Amount            decimal.Decimal
	CurrencyID        string
	DateApproved      *time.Time
}

// PreferenceItem is one line of a checkout preference. UnitPrice is in minor units.
type PreferenceItem struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice int64
}

// PreferenceRequest describes a hosted checkout to create.
type PreferenceRequest struct {
	ExternalReference string
	Items             []PreferenceItem
	CurrencyID        string
	// Exponent is the minor unit exponent of CurrencyID.
	Exponent          int32
	NotificationURL   string
	SuccessURL        string
	FailureURL        string
	PendingURL        string
}

// Preference is the created checkout; RedirectURL is where the buyer is sent.
type Preference struct {
	ID          string
	RedirectURL string
}

// GetPayment fetches the authoritative payment record. A payment the gateway
// does not know about is reported as CodeNotFound; transport and 5xx failures
// as CodeDependency.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("v1/payments/"+url.PathEscape(trimmed)), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build payment request")
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute payment request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found at gateway").WithDetails(map[string]any{"payment_id": trimmed})
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "payment request failed")
	}

	var apiResp struct {
		ID                json.Number     `json:"id"`
		Status            string          `json:"status"`
		StatusDetail      string          `json:"status_detail"`
		ExternalReference string          `json:"external_reference"`
		TransactionAmount decimal.Decimal `json:"transaction_amount"`
		CurrencyID        string          `json:"currency_id"`
		DateApproved      *time.Time      `json:"date_approved"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyReadLimit)).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment response")
	}

	id := apiResp.ID.String()
	if id == "" {
		id = trimmed
	}
	return &Payment{
		ID:                id,
		Status:            apiResp.Status,
		StatusDetail:      apiResp.StatusDetail,
		ExternalReference: apiResp.ExternalReference,
		Amount:            apiResp.TransactionAmount,
		CurrencyID:        apiResp.CurrencyID,
		DateApproved:      apiResp.DateApproved,
	}, nil
}

// CreatePreference registers a hosted checkout for an order.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	if strings.TrimSpace(req.ExternalReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}
	if len(req.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}

	type item struct {
		ID         string      `json:"id,omitempty"`
		Title      string      `json:"title"`
		Quantity   int         `json:"quantity"`
		UnitPrice  json.Number `json:"unit_price"`
		CurrencyID string      `json:"currency_id,omitempty"`
	}
	type backURLs struct {
		Success string `json:"success,omitempty"`
		Failure string `json:"failure,omitempty"`
		Pending string `json:"pending,omitempty"`
	}
	body := struct {
		Items             []item    `json:"items"`
		ExternalReference string    `json:"external_reference"`
		NotificationURL   string    `json:"notification_url,omitempty"`
		BackURLs          *backURLs `json:"back_urls,omitempty"`
		AutoReturn        string    `json:"auto_return,omitempty"`
	}{
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
	}
	exponent := req.Exponent
	for _, it := range req.Items {
		body.Items = append(body.Items, item{
			ID:         it.ID,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  json.Number(FromMinorUnits(it.UnitPrice, exponent).StringFixed(exponent)),
			CurrencyID: req.CurrencyID,
		})
	}
	if req.SuccessURL != "" || req.FailureURL != "" || req.PendingURL != "" {
		body.BackURLs = &backURLs{Success: req.SuccessURL, Failure: req.FailureURL, Pending: req.PendingURL}
		if req.SuccessURL != "" {
			body.AutoReturn = "approved"
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal preference request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("checkout/preferences"), bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build preference request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Idempotency-Key", "preference-"+req.ExternalReference)
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute preference request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, statusError(resp, "preference request failed")
	}

	var apiResp struct {
		ID               string `json:"id"`
		InitPoint        string `json:"init_point"`
		SandboxInitPoint string `json:"sandbox_init_point"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyReadLimit)).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode preference response")
	}

	redirect := apiResp.InitPoint
	if c.sandbox && apiResp.SandboxInitPoint != "" {
		redirect = apiResp.SandboxInitPoint
	}
	if apiResp.ID == "" || redirect == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "preference response missing id or init point")
	}
	return &Preference{ID: apiResp.ID, RedirectURL: redirect}, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}

func statusError(resp *http.Response, action string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, cause, action)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, action)
}
