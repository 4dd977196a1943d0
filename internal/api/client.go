package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"digigold/internal/metrics"
)

// Named backend endpoints. The client never builds paths ad hoc; every call
// goes through one of these.
const (
	EndpointLogin          = "/api/user/login/"
	EndpointUser           = "/api/user/"
	EndpointCheckUser      = "/api/user/check/"
	EndpointLivePrices     = "/api/live_prices/"
	EndpointFeeds          = "/api/Feeds/"
	EndpointSchemes        = "/api/getSchemes/"
	EndpointJoinScheme     = "/api/join_scheme/"
	EndpointCreateOrder    = "/create-razorpay-order/"
	EndpointPaymentSuccess = "/handle-payment-success/"
)

// Client provides typed access to the savings-scheme backend API. It does
// not retry; retry policy belongs to the callers, which need different
// policies per component.
type Client struct {
	logger  *slog.Logger
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
}

// Config holds backend client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New creates a backend client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "backend"),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		metrics: m,
	}
}

// envelope mirrors the backend's standard response shape. Success is an
// application-level claim on top of the HTTP status; both are checked.
type envelope struct {
	Status  string
	Message string
	Data    json.RawMessage
}

func (e *envelope) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status  json.RawMessage `json:"status"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Data = raw.Data
	e.Message = raw.Message
	if e.Message == "" {
		e.Message = raw.Detail
	}
	if len(raw.Status) != 0 {
		var s string
		if err := json.Unmarshal(raw.Status, &s); err == nil {
			e.Status = strings.ToLower(strings.TrimSpace(s))
		} else {
			var b bool
			if err := json.Unmarshal(raw.Status, &b); err == nil && b {
				e.Status = "success"
			}
		}
	}
	return nil
}

func (e *envelope) ok() bool { return e.Status == "success" }

// do performs one backend round trip and applies the shared failure
// classification: transport errors, HTTP error statuses, then the
// application-level status field.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any) (*envelope, error) {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	status := "error"
	defer func() {
		if c.metrics != nil {
			c.metrics.BackendRequests.WithLabelValues(endpoint, status).Inc()
			c.metrics.BackendLatency.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
			if status != "success" {
				c.metrics.Errors.WithLabelValues("backend").Inc()
			}
		}
	}()
	if err != nil {
		status = "transport_error"
		c.logger.Warn("backend request failed", "endpoint", endpoint, "error", err)
		return nil, TransportError(endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		status = "transport_error"
		return nil, TransportError(endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status = fmt.Sprintf("http_%d", resp.StatusCode)
		return nil, ServerError(endpoint, resp.StatusCode, errorMessage(data))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ApplicationError(endpoint, "unexpected response shape")
	}
	if !env.ok() {
		msg := env.Message
		if msg == "" {
			msg = "request was not successful"
		}
		return nil, ApplicationError(endpoint, msg)
	}

	status = "success"
	return &env, nil
}

// errorMessage extracts a human-readable message from an HTTP error body.
func errorMessage(body []byte) string {
	var raw struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err == nil {
		for _, m := range []string{raw.Message, raw.Detail, raw.Error} {
			if m != "" {
				return m
			}
		}
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return trimmed
}

// LoginPayload is the raw result of a successful login. The session manager
// owns turning it into a durable session record.
type LoginPayload struct {
	PhoneNumber string
	AuthToken   string
	Raw         json.RawMessage
}

// Login authenticates with phone number and password.
func (c *Client) Login(ctx context.Context, phone, password string) (*LoginPayload, error) {
	if strings.TrimSpace(phone) == "" || strings.TrimSpace(password) == "" {
		return nil, ValidationError("Please enter both phone number and password")
	}

	env, err := c.do(ctx, http.MethodPost, EndpointLogin, nil, map[string]string{
		"phone":    phone,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	data, err := decodeMap(env.Data)
	if err != nil {
		return nil, ApplicationError(EndpointLogin, "unexpected login payload")
	}
	payload := &LoginPayload{
		PhoneNumber: firstString(data, "phoneNumber", "phone", "phone_number"),
		AuthToken:   firstString(data, "token", "authToken", "access"),
		Raw:         env.Data,
	}
	if payload.PhoneNumber == "" {
		payload.PhoneNumber = phone
	}
	return payload, nil
}

// RegisterInput carries sign-up fields.
type RegisterInput struct {
	Email       string
	Password    string
	PhoneNumber string
}

// Validate applies the client-side sign-up rules: a 10-digit phone number, a
// 6-digit numeric password and a plausible email address.
func (in RegisterInput) Validate() error {
	if in.Email == "" || in.Password == "" || in.PhoneNumber == "" {
		return ValidationError("Please fill in all fields")
	}
	if !isEmail(in.Email) {
		return ValidationError("Please enter a valid email address")
	}
	if !isDigits(in.PhoneNumber, 10) {
		return ValidationError("Please enter a valid 10-digit phone number")
	}
	if !isDigits(in.Password, 6) {
		return ValidationError("Password must be exactly 6 digits")
	}
	return nil
}

// RegisterUser creates a new account.
func (c *Client) RegisterUser(ctx context.Context, in RegisterInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPost, EndpointUser, nil, map[string]string{
		"email":    in.Email,
		"password": in.Password,
		"phone":    in.PhoneNumber,
	})
	return err
}

// UserCheck reports which sign-up identifiers are already taken.
type UserCheck struct {
	EmailExists bool `json:"email_exists"`
	PhoneExists bool `json:"phone_exists"`
}

// CheckUser asks the backend whether the email or phone is already registered.
func (c *Client) CheckUser(ctx context.Context, email, phone string) (UserCheck, error) {
	env, err := c.do(ctx, http.MethodPost, EndpointCheckUser, nil, map[string]string{
		"email": email,
		"phone": phone,
	})
	if err != nil {
		return UserCheck{}, err
	}
	var check UserCheck
	if err := json.Unmarshal(env.Data, &check); err != nil {
		return UserCheck{}, ApplicationError(EndpointCheckUser, "unexpected user check payload")
	}
	return check, nil
}

// PriceSnapshot is one observation of live metal prices. It is replaced
// wholesale on each refresh, never patched field by field.
type PriceSnapshot struct {
	GoldPricePerGram   float64   `json:"gold_price"`
	SilverPricePerGram float64   `json:"silver_price"`
	ObservedAt         time.Time `json:"observed_at"`
}

// LivePrices fetches the current gold and silver prices per gram.
func (c *Client) LivePrices(ctx context.Context) (PriceSnapshot, error) {
	env, err := c.do(ctx, http.MethodGet, EndpointLivePrices, nil, nil)
	if err != nil {
		return PriceSnapshot{}, err
	}
	data, err := decodeMap(env.Data)
	if err != nil {
		return PriceSnapshot{}, ApplicationError(EndpointLivePrices, "unexpected price payload")
	}
	snap := PriceSnapshot{
		GoldPricePerGram:   firstFloat(data, "gold_price", "goldPricePerGram", "gold"),
		SilverPricePerGram: firstFloat(data, "silver_price", "silverPricePerGram", "silver"),
		ObservedAt:         time.Now().UTC(),
	}
	if snap.GoldPricePerGram <= 0 {
		return PriceSnapshot{}, ApplicationError(EndpointLivePrices, "price payload missing gold price")
	}
	return snap, nil
}

// Feed is one news feed entry.
type Feed struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	ImageURL  string `json:"image,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Feeds fetches the news feed list.
func (c *Client) Feeds(ctx context.Context) ([]Feed, error) {
	env, err := c.do(ctx, http.MethodGet, EndpointFeeds, nil, nil)
	if err != nil {
		return nil, err
	}
	rows, err := decodeSlice(env.Data)
	if err != nil {
		return nil, ApplicationError(EndpointFeeds, "unexpected feeds payload")
	}
	feeds := make([]Feed, 0, len(rows))
	for _, row := range rows {
		feeds = append(feeds, Feed{
			ID:        int(firstFloat(row, "id")),
			Title:     firstString(row, "feedsTitle", "title"),
			Body:      firstString(row, "context", "body", "content"),
			ImageURL:  firstString(row, "image", "image_url"),
			CreatedAt: firstString(row, "created_at", "createdAt"),
		})
	}
	return feeds, nil
}

// GetSchemes fetches the user's enrolled savings schemes by phone number.
func (c *Client) GetSchemes(ctx context.Context, phone string) ([]Scheme, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, ValidationError("phone number is required")
	}
	query := url.Values{}
	query.Set("phone", phone)
	env, err := c.do(ctx, http.MethodGet, EndpointSchemes, query, nil)
	if err != nil {
		return nil, err
	}
	return parseSchemes(env.Data)
}

// JoinSchemeInput carries the enrolment request for a new scheme.
type JoinSchemeInput struct {
	Name          string
	PhoneNumber   string
	ChosenPackage string
	PayAmount     float64
}

// JoinScheme enrols the user into a new savings scheme.
func (c *Client) JoinScheme(ctx context.Context, in JoinSchemeInput) error {
	if in.Name == "" {
		return ValidationError("Please enter your name")
	}
	if in.PayAmount <= 500 {
		return ValidationError("Amount must be greater than ₹500")
	}
	if strings.TrimSpace(in.PhoneNumber) == "" {
		return ValidationError("phone number is required")
	}
	_, err := c.do(ctx, http.MethodPost, EndpointJoinScheme, nil, map[string]any{
		"Name":          in.Name,
		"payAmount":     in.PayAmount,
		"chosenPackage": in.ChosenPackage,
		"phone":         in.PhoneNumber,
	})
	return err
}

// PaymentOrder is a backend-issued, gateway-recognised handle for one
// checkout attempt. It is never persisted locally.
type PaymentOrder struct {
	OrderID          string
	SchemeCode       string
	AmountMinorUnits int64
}

// CreatePaymentOrder asks the backend to open a gateway order for one
// installment of the given scheme.
func (c *Client) CreatePaymentOrder(ctx context.Context, schemeCode string, amountMinorUnits int64) (PaymentOrder, error) {
	if schemeCode == "" {
		return PaymentOrder{}, ValidationError("scheme code is required")
	}
	if amountMinorUnits <= 0 {
		return PaymentOrder{}, ValidationError("payment amount must be positive")
	}
	env, err := c.do(ctx, http.MethodPost, EndpointCreateOrder, nil, map[string]any{
		"schemeCode": schemeCode,
		"amount":     amountMinorUnits,
	})
	if err != nil {
		return PaymentOrder{}, err
	}
	data, err := decodeMap(env.Data)
	if err != nil {
		// Some backend versions put order_id beside status instead of
		// under data; fall back to the message-bearing fields.
		return PaymentOrder{}, ApplicationError(EndpointCreateOrder, "unexpected order payload")
	}
	order := PaymentOrder{
		OrderID:          firstString(data, "order_id", "orderId", "id"),
		SchemeCode:       schemeCode,
		AmountMinorUnits: amountMinorUnits,
	}
	if order.OrderID == "" {
		return PaymentOrder{}, ApplicationError(EndpointCreateOrder, "order payload missing order id")
	}
	return order, nil
}

// PaymentReceipt is the gateway's proof of a completed charge.
type PaymentReceipt struct {
	GatewayPaymentID string `json:"razorpay_payment_id"`
	GatewayOrderID   string `json:"razorpay_order_id"`
	SchemeCode       string `json:"schemeCode"`
	AmountMinorUnits int64  `json:"amount"`
}

// SubmitPaymentReceipt records a completed gateway charge against the
// scheme. The backend deduplicates on the gateway payment id, so the same
// receipt may safely be submitted again after a lost response.
func (c *Client) SubmitPaymentReceipt(ctx context.Context, receipt PaymentReceipt) error {
	if receipt.GatewayPaymentID == "" || receipt.SchemeCode == "" {
		return ValidationError("receipt is missing gateway payment id or scheme code")
	}
	_, err := c.do(ctx, http.MethodPost, EndpointPaymentSuccess, nil, receipt)
	return err
}

func isDigits(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isEmail(s string) bool {
	at := strings.Index(s, "@")
	if at <= 0 || at == len(s)-1 {
		return false
	}
	domain := s[at+1:]
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1 && !strings.ContainsAny(s, " \t")
}
