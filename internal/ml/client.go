// Package ml is the HTTP client for the external prediction/training
// service. The service owns the model; this package only moves features
// and verdicts across the wire.
package ml

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

	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
)

// DefaultTimeout bounds one call when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is quoted in errors.
const maxErrorBody = 512

// ErrNotConfigured is returned when no base URL was set.
var ErrNotConfigured = errors.New("ml service not configured")

// StatusError reports a non-2xx answer from the service.
type StatusError struct {
	Op     string
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ml %s: status %d: %s", e.Op, e.Status, e.Detail)
}

// Config locates the service.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements crawler.MLService over HTTP/JSON.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

// New returns a Client. An empty BaseURL yields a client whose calls fail
// with ErrNotConfigured.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		http:   httpClient,
		logger: logger,
	}
}

type predictResponse struct {
	Prediction string  `json:"prediction"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type trainRequest struct {
	Campaigns []crawler.Features `json:"campaigns"`
}

type trainResponse struct {
	Accuracy       *float64 `json:"accuracy"`
	ErrorMetric    *float64 `json:"error_metric"`
	SamplesTrained int      `json:"samples_trained"`
	Samples        int      `json:"samples"`
}

// Predict asks the service to classify one record.
func (c *Client) Predict(ctx context.Context, features crawler.Features) (crawler.Prediction, error) {
	var resp predictResponse
	if err := c.post(ctx, "predict", "/predict", features, &resp); err != nil {
		return crawler.Prediction{}, err
	}
	label := resp.Label
	if label == "" {
		label = resp.Prediction
	}
	return crawler.Prediction{Label: label, Confidence: resp.Confidence}, nil
}

// Train submits records as training data.
func (c *Client) Train(ctx context.Context, records []crawler.Features) (crawler.TrainReport, error) {
	if len(records) == 0 {
		return crawler.TrainReport{}, errors.New("ml train: no records")
	}
	var resp trainResponse
	if err := c.post(ctx, "train", "/train", trainRequest{Campaigns: records}, &resp); err != nil {
		return crawler.TrainReport{}, err
	}
	samples := resp.SamplesTrained
	if samples == 0 {
		samples = resp.Samples
	}
	c.logger.Info("ml model trained", zap.Int("records", len(records)), zap.Int("samples", samples))
	return crawler.TrainReport{Accuracy: resp.Accuracy, ErrorMetric: resp.ErrorMetric, Samples: samples}, nil
}

// Ping checks the service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if c.base == "" {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return fmt.Errorf("ml health: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ml health: %w", err)
	}
	defer closeBody(resp.Body)
	return checkStatus("health", resp)
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	if c.base == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("ml %s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ml %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ml %s: %w", op, err)
	}
	defer closeBody(resp.Body)
	c.logger.Debug("ml call", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.Duration("dur", time.Since(start)))

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ml %s: decode: %w", op, err)
	}
	return nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(raw))
	var fastapi struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &fastapi) == nil && fastapi.Detail != "" {
		detail = fastapi.Detail
	}
	return &StatusError{Op: op, Status: resp.StatusCode, Detail: detail}
}

func closeBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
