// Package notify wraps the SMS/OTP provider. It is used for phone
// verification and order-confirmation messages; it plays no part in the
// order state machine.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

type providerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SendOTP asks the provider to deliver a one-time code to the phone number.
func (c *Client) SendOTP(ctx context.Context, phoneNumber string) error {
	_, err := c.post(ctx, "/send-otp", map[string]string{"phoneNumber": phoneNumber})
	return err
}

// VerifyOTP checks a code the user entered. A wrong code is a false result,
// not an error.
func (c *Client) VerifyOTP(ctx context.Context, phoneNumber, code string) (bool, error) {
	resp, err := c.post(ctx, "/verify-otp", map[string]string{"phoneNumber": phoneNumber, "code": code})
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

// SendMessage delivers a plain notification text to the phone number.
func (c *Client) SendMessage(ctx context.Context, phoneNumber, message string) error {
	_, err := c.post(ctx, "/send-message", map[string]string{"phoneNumber": phoneNumber, "message": message})
	return err
}

func (c *Client) post(ctx context.Context, path string, payload map[string]string) (*providerResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notification provider returned status %d for %s", resp.StatusCode, path)
	}

	var decoded providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}

	return &decoded, nil
}
