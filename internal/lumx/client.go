package lumx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/errors"
	"github.com/cmatc13/chipdesk/pkg/metrics"
)

const (
	// DefaultTimeout bounds a single HTTP exchange with the API.
	DefaultTimeout = 10 * time.Second

	dependencyName = "lumx"

	// maxErrorBody caps how much of an error response is kept for messages.
	maxErrorBody = 512
)

// Client talks to the wallet/transaction API. It is safe for concurrent use.
type Client struct {
	baseURL   string
	authToken string
	client    *http.Client
	metrics   *metrics.Metrics
}

// NewClient creates a client for baseURL that sends authToken verbatim in the
// Authorization header.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// NewClientFromConfig creates a client from the lumx configuration section.
func NewClientFromConfig(cfg config.LumxConfig) *Client {
	c := NewClient(cfg.BaseURL, cfg.AuthToken)
	if cfg.RequestTimeout > 0 {
		c.client.Timeout = cfg.RequestTimeout
	}
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.client = client
	return c
}

// WithMetrics records dependency latency and errors on m.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateWallet creates a new custodial wallet.
func (c *Client) CreateWallet(ctx context.Context) (Wallet, error) {
	var wallet Wallet
	if err := c.do(ctx, http.MethodPost, "/wallets", errors.OpCreateWallet, struct{}{}, &wallet); err != nil {
		return Wallet{}, err
	}
	if wallet.ID == "" {
		return Wallet{}, fmt.Errorf("lumx %s: response carried no wallet id: %w", errors.OpCreateWallet, errors.ErrUnavailable)
	}
	return wallet, nil
}

// GetWallet fetches an existing wallet by id.
func (c *Client) GetWallet(ctx context.Context, id string) (Wallet, error) {
	var wallet Wallet
	err := c.do(ctx, http.MethodGet, "/wallets/"+url.PathEscape(id), errors.OpGetWallet, nil, &wallet)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return Wallet{}, errors.WithField(ErrWalletNotFound, "wallet_id", id)
		}
		return Wallet{}, err
	}
	return wallet, nil
}

// SubmitCustom submits a custom contract transaction. Any response that does
// not yield a transaction id is reported as *SubmissionError.
func (c *Client) SubmitCustom(ctx context.Context, req TransactionRequest) (Handle, error) {
	var handle Handle
	err := c.do(ctx, http.MethodPost, "/transactions/custom", errors.OpSubmitCustomTxn, req, &handle)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return Handle{}, &SubmissionError{StatusCode: statusErr.StatusCode, Body: statusErr.Body}
		}
		return Handle{}, err
	}
	if handle.TransactionID == "" {
		return Handle{}, &SubmissionError{StatusCode: http.StatusOK, Body: "response carried no transaction id"}
	}
	return handle, nil
}

// GetTransaction reads the status of a submitted transaction.
func (c *Client) GetTransaction(ctx context.Context, id string) (Result, error) {
	var result Result
	if err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(id), errors.OpGetTransaction, nil, &result); err != nil {
		return Result{}, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path, operation string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("lumx %s: marshal body: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("lumx %s: create request: %w", operation, err)
	}
	req.Header.Set("Authorization", c.authToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	c.observe(operation, start)
	if err != nil {
		c.recordError(operation, "network")
		return fmt.Errorf("lumx %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.recordError(operation, strconv.Itoa(resp.StatusCode))
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		c.recordError(operation, "decode")
		return fmt.Errorf("lumx %s: decode response: %w", operation, err)
	}
	return nil
}

func (c *Client) observe(operation string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordDependencyLatency(dependencyName, operation, time.Since(start))
	}
}

func (c *Client) recordError(operation, status string) {
	if c.metrics != nil {
		c.metrics.RecordDependencyError(dependencyName, operation, status)
	}
}
