package pin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
)

// Routes of the trusted PIN functions, relative to the function endpoint.
const (
	// PathHashPin hashes a PIN.
	PathHashPin = "/functions/hashPin"
	// PathComparePin compares a PIN with a hash.
	PathComparePin = "/functions/comparePin"
	// PathVerifyGiftPin checks a PIN against a gift under the function's budget.
	PathVerifyGiftPin = "/functions/verifyGiftPin"
	// PathGetPublicGiftData returns a gift's public projection.
	PathGetPublicGiftData = "/functions/getPublicGiftData"
)

const (
	defaultClientTimeout = 10 * time.Second
	maxResponseBytes     = 1 << 20
)

// ErrAttemptsExceeded indicates the function's own attempt budget is spent.
var ErrAttemptsExceeded = errors.New("pin: verification attempts exceeded")

// HashRequest is the hashPin payload.
type HashRequest struct {
	Pin string `json:"pin"`
}

// HashResponse is the hashPin result.
type HashResponse struct {
	Hash string `json:"hash"`
}

// CompareRequest is the comparePin payload.
type CompareRequest struct {
	Pin  string `json:"pin"`
	Hash string `json:"hash"`
}

// CompareResponse is the comparePin result.
type CompareResponse struct {
	Match bool `json:"match"`
}

// VerifyRequest is the verifyGiftPin payload.
type VerifyRequest struct {
	GiftID string `json:"giftId"`
	Pin    string `json:"pin"`
}

// ProjectionRequest is the getPublicGiftData payload.
type ProjectionRequest struct {
	GiftID string `json:"giftId"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ClientConfig describes a remote PIN function endpoint.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Client calls the trusted PIN functions over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client for baseURL.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("pin: client base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

// Hash asks the remote service to hash pin.
func (c *Client) Hash(ctx context.Context, pin string) (string, error) {
	var response HashResponse
	if err := c.call(ctx, PathHashPin, HashRequest{Pin: pin}, &response); err != nil {
		return "", err
	}
	return response.Hash, nil
}

// Compare asks the remote service whether pin matches hash.
func (c *Client) Compare(ctx context.Context, pin, hash string) (bool, error) {
	var response CompareResponse
	if err := c.call(ctx, PathComparePin, CompareRequest{Pin: pin, Hash: hash}, &response); err != nil {
		return false, err
	}
	return response.Match, nil
}

// Verify checks pin against the gift remotely. The returned record never
// carries the PIN hash; HasPin reports whether the gift is gated.
func (c *Client) Verify(ctx context.Context, giftID, pin string) (VerifyResult, error) {
	var response VerifyResult
	if err := c.call(ctx, PathVerifyGiftPin, VerifyRequest{GiftID: giftID, Pin: pin}, &response); err != nil {
		return VerifyResult{}, err
	}
	return response, nil
}

// PublicProjection fetches the gift's public projection.
func (c *Client) PublicProjection(ctx context.Context, giftID string) (ProjectionResult, error) {
	var response ProjectionResult
	if err := c.call(ctx, PathGetPublicGiftData, ProjectionRequest{GiftID: giftID}, &response); err != nil {
		return ProjectionResult{}, err
	}
	return response, nil
}

func (c *Client) call(ctx context.Context, path string, payload any, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", gifts.ErrTransient, err)
	}
	defer response.Body.Close()

	limited := io.LimitReader(response.Body, maxResponseBytes)
	if response.StatusCode != http.StatusOK {
		var failure errorResponse
		_ = json.NewDecoder(limited).Decode(&failure)
		return statusError(response.StatusCode, failure)
	}
	if err := json.NewDecoder(limited).Decode(target); err != nil {
		return fmt.Errorf("%w: decode %s: %v", gifts.ErrTransient, path, err)
	}
	return nil
}

func statusError(status int, failure errorResponse) error {
	detail := failure.Code
	if detail == "" {
		detail = http.StatusText(status)
	}
	switch status {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", gifts.ErrValidation, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", gifts.ErrNotFound, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrAttemptsExceeded, detail)
	default:
		return fmt.Errorf("%w: status %d %s", gifts.ErrTransient, status, detail)
	}
}
