package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// jsonAPIMediaType is the content type negotiated with the authority
	jsonAPIMediaType = "application/vnd.api+json"

	// maxResponseBytes bounds how much of an authority response is read
	maxResponseBytes = 1 << 20
)

// LicenseData is the authority's description of a license, decoded once at
// this boundary. Optional fields are pointers; absence is meaningful.
type LicenseData struct {
	ID             string
	Status         string
	Tier           string
	Email          string
	ExpiresAt      *time.Time
	MaxActivations *int
	Activations    int
	Features       []string
}

// ActivationData is the authority's record of a machine activation
type ActivationData struct {
	ID          string
	Fingerprint string
	CreatedAt   time.Time
}

// ValidationResult is the normalized outcome of a validate-key call
type ValidationResult struct {
	Valid   bool
	License *LicenseData
	Reason  Reason
}

// ActivationResult is the normalized outcome of an activate call
type ActivationResult struct {
	Success    bool
	Activation *ActivationData
	Reason     Reason
}

// Config holds the settings needed to reach the license authority
type Config struct {
	BaseURL   string
	AccountID string
	APIKey    string
	Product   string
	Timeout   time.Duration
}

// Client is a stateless wrapper around the license authority's HTTP API.
// It performs no retries and holds no local state; retry policy and caching
// belong to the caller.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an authority client with a bounded request timeout.
// A hung authority must not hang the CLI invocation.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With(slog.String("component", "authority_client")),
	}
}

// validateKeyRequest is the JSON-API body for validate-key
type validateKeyRequest struct {
	Meta struct {
		Key   string `json:"key"`
		Scope struct {
			Product string `json:"product"`
		} `json:"scope"`
	} `json:"meta"`
}

// activateRequest is the JSON-API body for activate
type activateRequest struct {
	Meta struct {
		Key   string `json:"key"`
		Scope struct {
			Product     string `json:"product"`
			Fingerprint string `json:"fingerprint"`
		} `json:"scope"`
	} `json:"meta"`
}

// licenseDocument mirrors the authority's license resource
type licenseDocument struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Status      string     `json:"status"`
		Email       string     `json:"email,omitempty"`
		Expiry      *time.Time `json:"expiry,omitempty"`
		MaxMachines *int       `json:"maxMachines,omitempty"`
		Metadata    struct {
			Tier     string   `json:"tier,omitempty"`
			Features []string `json:"features,omitempty"`
		} `json:"metadata,omitempty"`
	} `json:"attributes"`
}

// activationDocument mirrors the authority's machine activation resource
type activationDocument struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Fingerprint string    `json:"fingerprint"`
		Created     time.Time `json:"created,omitempty"`
	} `json:"attributes"`
}

// validateKeyResponse is the authority's validate-key success body
type validateKeyResponse struct {
	Meta struct {
		Valid *bool `json:"valid"`
	} `json:"meta"`
	Data     *licenseDocument     `json:"data,omitempty"`
	Included []activationDocument `json:"included,omitempty"`
}

// activateResponse is the authority's activate success body
type activateResponse struct {
	Data *activationDocument `json:"data,omitempty"`
}

// ValidateKey asks the authority whether the key is valid. The result
// carries a closed reason code; err is the underlying cause when the reason
// is a failure and is provided for logging only.
func (c *Client) ValidateKey(ctx context.Context, key string) (ValidationResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return ValidationResult{Reason: ReasonInvalidInput}, fmt.Errorf("license key is empty")
	}

	var req validateKeyRequest
	req.Meta.Key = key
	req.Meta.Scope.Product = c.config.Product

	url := fmt.Sprintf("%s/accounts/%s/licenses/actions/validate-key",
		strings.TrimSuffix(c.config.BaseURL, "/"), c.config.AccountID)

	status, body, err := c.post(ctx, url, req)
	if err != nil {
		return ValidationResult{Reason: ReasonNetworkError}, err
	}

	switch {
	case status == http.StatusUnauthorized:
		return ValidationResult{Reason: ReasonUnauthorized}, fmt.Errorf("authority rejected client credentials")
	case status == http.StatusNotFound:
		return ValidationResult{Reason: ReasonLicenseNotFound}, fmt.Errorf("license key not found")
	case status < 200 || status > 299:
		return ValidationResult{Reason: ReasonServiceError}, fmt.Errorf("authority returned unexpected status %d", status)
	}

	var resp validateKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ValidationResult{Reason: ReasonNetworkError}, fmt.Errorf("failed to decode validate-key response: %w", err)
	}

	// meta.valid absent is treated the same as false
	if resp.Meta.Valid == nil || !*resp.Meta.Valid {
		result := ValidationResult{Reason: ReasonInvalid}
		if resp.Data != nil {
			result.License = decodeLicense(resp.Data, resp.Included)
		}
		return result, nil
	}

	result := ValidationResult{Valid: true, Reason: ReasonOK}
	if resp.Data != nil {
		result.License = decodeLicense(resp.Data, resp.Included)
	}
	return result, nil
}

// Activate registers this machine's fingerprint against the key. Calling
// activate twice with the same key and fingerprint may legitimately return
// 422; callers decide whether that is fatal.
func (c *Client) Activate(ctx context.Context, key, machineFingerprint string) (ActivationResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return ActivationResult{Reason: ReasonInvalidInput}, fmt.Errorf("license key is empty")
	}

	var req activateRequest
	req.Meta.Key = key
	req.Meta.Scope.Product = c.config.Product
	req.Meta.Scope.Fingerprint = machineFingerprint

	url := fmt.Sprintf("%s/accounts/%s/licenses/actions/activate",
		strings.TrimSuffix(c.config.BaseURL, "/"), c.config.AccountID)

	status, body, err := c.post(ctx, url, req)
	if err != nil {
		return ActivationResult{Reason: ReasonNetworkError}, err
	}

	switch {
	case status == http.StatusUnprocessableEntity:
		return ActivationResult{Reason: ReasonActivationLimit}, fmt.Errorf("activation limit reached or machine already activated")
	case status == http.StatusNotFound:
		return ActivationResult{Reason: ReasonLicenseNotFound}, fmt.Errorf("license key not found")
	case status < 200 || status > 299:
		return ActivationResult{Reason: ReasonActivationFailed}, fmt.Errorf("authority returned unexpected status %d", status)
	}

	var resp activateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ActivationResult{Reason: ReasonNetworkError}, fmt.Errorf("failed to decode activate response: %w", err)
	}

	result := ActivationResult{Success: true, Reason: ReasonOK}
	if resp.Data != nil {
		result.Activation = &ActivationData{
			ID:          resp.Data.ID,
			Fingerprint: resp.Data.Attributes.Fingerprint,
			CreatedAt:   resp.Data.Attributes.Created,
		}
	}
	return result, nil
}

// post sends one JSON-API request and returns the status and body.
// Transport failures and oversized bodies surface as errors; HTTP status
// interpretation is the caller's job.
func (c *Client) post(ctx context.Context, url string, payload interface{}) (int, []byte, error) {
	requestID := uuid.New().String()
	start := time.Now()

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", jsonAPIMediaType)
	req.Header.Set("Accept", jsonAPIMediaType)
	req.Header.Set("X-Request-ID", requestID)
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "authority request failed",
			slog.String("request_id", requestID),
			slog.String("url", url),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return 0, nil, fmt.Errorf("authority request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read authority response: %w", err)
	}

	c.logger.DebugContext(ctx, "authority request completed",
		slog.String("request_id", requestID),
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
		slog.Int("body_bytes", len(body)),
	)

	return resp.StatusCode, body, nil
}

// decodeLicense converts the wire document into the boundary type
func decodeLicense(doc *licenseDocument, included []activationDocument) *LicenseData {
	data := &LicenseData{
		ID:             doc.ID,
		Status:         doc.Attributes.Status,
		Tier:           doc.Attributes.Metadata.Tier,
		Email:          doc.Attributes.Email,
		ExpiresAt:      doc.Attributes.Expiry,
		MaxActivations: doc.Attributes.MaxMachines,
		Features:       doc.Attributes.Metadata.Features,
	}

	for _, inc := range included {
		if inc.Type == "machines" {
			data.Activations++
		}
	}

	return data
}
