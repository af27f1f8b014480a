package ecocloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.ecoflow.com"
	defaultTimeout = 10 * time.Second

	successCode = "0"
)

// Credentials holds the process-wide device-cloud key pair. Immutable
// after load and never persisted.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// Client is a signed REST client for the device cloud.
type Client struct {
	baseURL     string
	credentials Credentials
	client      *http.Client
	now         func() time.Time
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client, including its timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithNow overrides the timestamp source.
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a signed client. Both credential halves are
// required; an empty key pair aborts construction.
func NewClient(credentials Credentials, opts ...Option) (*Client, error) {
	if credentials.AccessKey == "" || credentials.SecretKey == "" {
		return nil, ErrMissingCredentials
	}
	client := &Client{
		baseURL:     defaultBaseURL,
		credentials: credentials,
		client:      &http.Client{Timeout: defaultTimeout},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// QuotaValue is a single scaled metric as reported by the vendor.
type QuotaValue struct {
	Val   float64 `json:"val"`
	Scale float64 `json:"scale"`
}

// Physical returns the value with the vendor scale divisor applied.
func (q QuotaValue) Physical() float64 {
	if q.Scale > 0 {
		return q.Val / q.Scale
	}
	return q.Val
}

// RawQuota is a device telemetry snapshot keyed by dotted metric name.
// Keys outside the recognized set are preserved verbatim.
type RawQuota map[string]QuotaValue

// DeviceSummary is a device as listed by the cloud.
type DeviceSummary struct {
	SN         string `json:"sn"`
	DeviceName string `json:"deviceName"`
	Online     int    `json:"online"`
	ProductName string `json:"productName"`
}

// DeviceList fetches all devices bound to the account.
func (c *Client) DeviceList(ctx context.Context) ([]DeviceSummary, error) {
	var devices []DeviceSummary
	if err := c.call(ctx, http.MethodGet, "/iot-open/sign/device/list", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// DeviceQuota fetches the full telemetry snapshot for one device.
func (c *Client) DeviceQuota(ctx context.Context, sn string) (RawQuota, error) {
	if sn == "" {
		return nil, errors.New("ecocloud: empty serial number")
	}
	var quota RawQuota
	if err := c.call(ctx, http.MethodGet, "/iot-open/sign/device/quota/all", map[string]string{"sn": sn}, &quota); err != nil {
		return nil, err
	}
	return quota, nil
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call issues one signed request. A fresh nonce and timestamp are
// generated per call and never reused.
func (c *Client) call(ctx context.Context, method, path string, params map[string]string, out any) error {
	nonce, err := newNonce()
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	signature := signPayload(c.credentials.SecretKey, params, c.credentials.AccessKey, nonce, timestamp)

	endpoint := c.baseURL + path
	if len(params) > 0 {
		query := url.Values{}
		for key, value := range params {
			query.Set(key, value)
		}
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("accessKey", c.credentials.AccessKey)
	req.Header.Set("nonce", nonce)
	req.Header.Set("timestamp", timestamp)
	req.Header.Set("sign", signature)

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("ecocloud: decode envelope: %w", err)
	}
	if env.Code != successCode {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
