package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/lox/plantwatch/internal/htmlutil"
	"github.com/lox/plantwatch/internal/httputil"
	"github.com/lox/plantwatch/internal/metrics"
	"github.com/lox/plantwatch/internal/models"
)

const (
	DefaultForecastDays  = 3
	DetailedForecastDays = 7
	MaxForecastDays      = 14

	defaultRetryBudget = 5 * time.Second
	breakerTimeout     = 30 * time.Second
	maxErrorBody       = 200
)

var (
	// ErrUnavailable means the backend could not be reached at all.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrTimeout means a request did not complete before its deadline.
	ErrTimeout = errors.New("backend request timed out")
	// ErrNotFound means the backend has no data for the requested plant.
	ErrNotFound = errors.New("no data")
	// ErrBusy means the request was shed while the circuit breaker lets a
	// single trial request through. It says nothing about availability.
	ErrBusy = errors.New("backend recovering, request shed")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// Unwrap lets gateway failures match ErrUnavailable.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrUnavailable
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code == http.StatusServiceUnavailable
}

// Client talks to the prediction backend's REST API.
type Client struct {
	baseURL     string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
	retryBudget time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithRetryBudget bounds how long transient failures (429, 503) are retried.
// Zero disables retries.
func WithRetryBudget(d time.Duration) Option {
	return func(c *Client) { c.retryBudget = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:      httputil.NewClient(0),
		retryBudget: defaultRetryBudget,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = newBreaker(breakerTimeout)
	return c
}

func newBreaker(timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !(errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout))
		},
	})
}

// BaseURL returns the normalised endpoint the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Predict fetches the current health assessment for a plant.
func (c *Client) Predict(ctx context.Context, plantID int) (*models.HealthAssessment, error) {
	var out models.HealthAssessment
	if err := c.do(ctx, "predict", http.MethodGet, fmt.Sprintf("/predict/%d", plantID), nil, &out); err != nil {
		return nil, fmt.Errorf("predict plant %d: %w", plantID, err)
	}
	if out.PlantID == 0 {
		out.PlantID = plantID
	}
	return &out, nil
}

// Forecast fetches a forecast covering the given number of days. Values
// outside 1..MaxForecastDays are clamped the same way the backend does.
func (c *Client) Forecast(ctx context.Context, plantID, days int) (*models.Forecast, error) {
	if days <= 0 {
		days = DefaultForecastDays
	}
	if days > MaxForecastDays {
		days = MaxForecastDays
	}
	var out models.Forecast
	path := fmt.Sprintf("/forecast/%d?days=%d", plantID, days)
	if err := c.do(ctx, "forecast", http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("forecast plant %d: %w", plantID, err)
	}
	if out.PlantID == 0 {
		out.PlantID = plantID
	}
	return &out, nil
}

// DetailedForecast fetches the longer seven day window.
func (c *Client) DetailedForecast(ctx context.Context, plantID int) (*models.Forecast, error) {
	return c.Forecast(ctx, plantID, DetailedForecastDays)
}

// Health probes the backend.
func (c *Client) Health(ctx context.Context) (*models.BackendStatus, error) {
	var out models.BackendStatus
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, &out); err != nil {
		return nil, fmt.Errorf("health probe: %w", err)
	}
	return &out, nil
}

// SendReading posts a reading on the producer-side ingestion path.
func (c *Client) SendReading(ctx context.Context, req SensorReadingRequest) (*SensorReadingAck, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var out SensorReadingAck
	if err := c.do(ctx, "sensor_reading", http.MethodPost, "/sensor_reading", req, &out); err != nil {
		return nil, fmt.Errorf("send reading plant %d: %w", req.PlantID, err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, payload, out any) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, payload, out)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		err = fmt.Errorf("circuit open: %w", ErrUnavailable)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		err = fmt.Errorf("circuit half-open: %w", ErrBusy)
	}
	metrics.BackendLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	metrics.BackendCallsTotal.WithLabelValues(endpoint, outcome(err)).Inc()
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload, out any) error {
	var reqBody []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = b
	}

	var body []byte
	operation := func() error {
		var rdr io.Reader
		if reqBody != nil {
			rdr = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(classifyTransport(err))
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", classifyTransport(err)))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{Code: resp.StatusCode, Body: errorMessage(b)}
			if serr.retryable() {
				return serr
			}
			return backoff.Permanent(serr)
		}
		body = b
		return nil
	}

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if c.retryBudget > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 200 * time.Millisecond
		exp.MaxElapsedTime = c.retryBudget
		bo = exp
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return classifyTransport(err)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classifyTransport maps low-level failures onto the package's sentinel errors.
func classifyTransport(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) {
		return err
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// errorMessage extracts the backend's {"error": "..."} message when present.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return htmlutil.Summary(string(body), maxErrorBody)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBusy):
		return "shed"
	default:
		return "error"
	}
}
