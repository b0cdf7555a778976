// Package shipment integrates the shipping aggregator: bearer-token auth,
// shipment creation for paid orders, tracking, labels and cancellation.
package shipment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bazaarlabs/bazaar/internal/domain"
)

// tokenValidity is slightly below the aggregator's 10-day token lifetime so
// a cached token is always refreshed before it actually expires.
const tokenValidity = 9 * 24 * time.Hour

type ShipmentError struct {
	Op  string
	Err error
}

func (e *ShipmentError) Error() string {
	return fmt.Sprintf("shipment: %s: %v", e.Op, e.Err)
}

func (e *ShipmentError) Unwrap() error {
	return e.Err
}

// Creator is the orchestrator-facing slice of the client.
type Creator interface {
	CreateShipment(ctx context.Context, order *domain.Order) (string, error)
}

type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

func NewClient(baseURL, email, password string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		email:      email,
		password:   password,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// authenticate returns a cached bearer token, logging in lazily when the
// cache is empty or expired.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	if err != nil {
		return "", &ShipmentError{Op: "marshal login", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", &ShipmentError{Op: "login request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ShipmentError{Op: "login", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &ShipmentError{Op: "login", Err: fmt.Errorf("aggregator returned status %d: %s", resp.StatusCode, body)}
	}

	var login struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return "", &ShipmentError{Op: "decode login response", Err: err}
	}
	if login.Token == "" {
		return "", &ShipmentError{Op: "login", Err: fmt.Errorf("aggregator returned empty token")}
	}

	c.token = login.Token
	c.tokenExpiry = c.now().Add(tokenValidity)
	return c.token, nil
}

type shipmentItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
}

type createShipmentRequest struct {
	OrderID           string         `json:"order_id"`
	OrderDate         string         `json:"order_date"`
	PickupLocation    string         `json:"pickup_location"`
	BillingName       string         `json:"billing_customer_name"`
	BillingAddress    string         `json:"billing_address"`
	BillingAddress2   string         `json:"billing_address_2,omitempty"`
	BillingCity       string         `json:"billing_city"`
	BillingPincode    string         `json:"billing_pincode"`
	BillingState      string         `json:"billing_state"`
	BillingCountry    string         `json:"billing_country"`
	BillingEmail      string         `json:"billing_email"`
	BillingPhone      string         `json:"billing_phone"`
	ShippingIsBilling bool           `json:"shipping_is_billing"`
	OrderItems        []shipmentItem `json:"order_items"`
	PaymentMethod     string         `json:"payment_method"`
	SubTotal          string         `json:"sub_total"`
}

type createShipmentResponse struct {
	ShipmentID json.Number `json:"shipment_id"`
}

// CreateShipment registers the order with the aggregator and returns the
// carrier's shipment id. Called only after payment success (or immediately
// for cash on delivery).
func (c *Client) CreateShipment(ctx context.Context, order *domain.Order) (string, error) {
	items := make([]shipmentItem, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, shipmentItem{
			Name:         line.ProductName,
			SKU:          line.ProductID,
			Units:        line.Quantity,
			SellingPrice: line.UnitPrice.StringFixed(2),
		})
	}

	method := "Prepaid"
	if order.PaymentMethod == string(domain.PaymentMethodCOD) {
		method = "COD"
	}

	country := order.ShippingAddress.Country
	if country == "" {
		country = "India"
	}

	payload := createShipmentRequest{
		OrderID:           order.ID,
		OrderDate:         order.CreatedAt.Format("2006-01-02"),
		PickupLocation:    "Primary",
		BillingName:       order.ShippingAddress.Name,
		BillingAddress:    order.ShippingAddress.AddressLine1,
		BillingAddress2:   order.ShippingAddress.AddressLine2,
		BillingCity:       order.ShippingAddress.City,
		BillingPincode:    order.ShippingAddress.Pincode,
		BillingState:      order.ShippingAddress.State,
		BillingCountry:    country,
		BillingEmail:      order.CustomerEmail,
		BillingPhone:      order.ShippingAddress.Phone,
		ShippingIsBilling: true,
		OrderItems:        items,
		PaymentMethod:     method,
		SubTotal:          order.SubtotalAmount.StringFixed(2),
	}

	var created createShipmentResponse
	if err := c.post(ctx, "/orders/create/adhoc", payload, &created); err != nil {
		return "", err
	}
	if created.ShipmentID.String() == "" {
		return "", &ShipmentError{Op: "create shipment", Err: fmt.Errorf("aggregator returned empty shipment id")}
	}

	return created.ShipmentID.String(), nil
}

// Track fetches the carrier's current view of a shipment.
func (c *Client) Track(ctx context.Context, shipmentID string) (*domain.TrackingSnapshot, error) {
	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/courier/track/shipment/"+shipmentID, nil)
	if err != nil {
		return nil, &ShipmentError{Op: "track request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ShipmentError{Op: "track", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &ShipmentError{Op: "track", Err: fmt.Errorf("aggregator returned status %d: %s", resp.StatusCode, body)}
	}

	snapshot := &domain.TrackingSnapshot{ShipmentID: shipmentID}
	if err := json.NewDecoder(resp.Body).Decode(snapshot); err != nil {
		return nil, &ShipmentError{Op: "decode tracking response", Err: err}
	}

	return snapshot, nil
}

// GenerateLabel asks the aggregator for a downloadable label URL.
func (c *Client) GenerateLabel(ctx context.Context, shipmentID string) (string, error) {
	var labeled struct {
		LabelURL string `json:"label_url"`
	}
	payload := map[string][]string{"shipment_id": {shipmentID}}
	if err := c.post(ctx, "/courier/generate/label", payload, &labeled); err != nil {
		return "", err
	}
	return labeled.LabelURL, nil
}

// Cancel voids a shipment with the aggregator.
func (c *Client) Cancel(ctx context.Context, shipmentID string) error {
	payload := map[string][]string{"ids": {shipmentID}}
	return c.post(ctx, "/orders/cancel", payload, &struct{}{})
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	token, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return &ShipmentError{Op: "marshal " + path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return &ShipmentError{Op: "request " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ShipmentError{Op: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &ShipmentError{Op: path, Err: fmt.Errorf("aggregator returned status %d: %s", resp.StatusCode, body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ShipmentError{Op: "decode " + path + " response", Err: err}
	}

	return nil
}
