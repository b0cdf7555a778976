package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bazaarlabs/bazaar/internal/domain"
)

// Client talks to the gateway's REST API with basic auth. Session creation is
// the only network call; verification is local signature math.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

func NewClient(baseURL, keyID, keySecret string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: httpClient,
	}
}

type createOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

type createOrderResponse struct {
	ID string `json:"id"`
}

// CreateSession registers a gateway-side order for the amount in integer
// minor units and returns its id plus the publishable key the client UI
// needs.
func (c *Client) CreateSession(ctx context.Context, order *domain.Order) (*Session, error) {
	payload := createOrderRequest{
		Amount:         order.TotalMinorUnits(),
		Currency:       "INR",
		Receipt:        "order_" + order.ID,
		PaymentCapture: 1,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &GatewayError{Op: "marshal create order", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(data))
	if err != nil {
		return nil, &GatewayError{Op: "create order request", Err: err}
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: "create order", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &GatewayError{Op: "create order", Err: fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, body)}
	}

	var created createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, &GatewayError{Op: "decode create order response", Err: err}
	}
	if created.ID == "" {
		return nil, &GatewayError{Op: "create order", Err: fmt.Errorf("gateway returned empty order id")}
	}

	return &Session{GatewayOrderID: created.ID, GatewayKey: c.keyID}, nil
}

// Verify checks the signature locally. It never errors on a mismatch; the
// error return exists for implementations that need a remote verification
// dependency.
func (c *Client) Verify(_ context.Context, gatewayOrderID, gatewayPaymentID, signature string) (bool, error) {
	return ValidSignature(gatewayOrderID, gatewayPaymentID, signature, c.keySecret), nil
}
