// Package ambee fetches current environmental readings from the Ambee API.
package ambee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/airwatch/internal/logger"
	"github.com/rewired-gh/airwatch/internal/models"
)

// ProviderError reports a failed provider call.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ambee %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ambee %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ClientConfig tunes rate limiting and retries. MaxRetries is the number of
// attempts per fetch; 1 disables retries.
type ClientConfig struct {
	RequestsPerMinute int
	MaxRetries        int
	RetryDelayBase    time.Duration
}

// Client provides access to the Ambee API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	config     ClientConfig
}

// latestResponse is the flat payload of /latest/by-lat-lng.
type latestResponse struct {
	AQI         *float64 `json:"aqi"`
	PM25        *float64 `json:"pm25"`
	PM10        *float64 `json:"pm10"`
	NO2         *float64 `json:"no2"`
	Ozone       *float64 `json:"ozone"`
	Pollen      *string  `json:"pollen"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	WindSpeed   *float64 `json:"windSpeed"`
}

// NewClient creates a new Ambee client
func NewClient(baseURL, apiKey string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.RequestsPerMinute < 1 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	perRequest := time.Minute / time.Duration(cfg.RequestsPerMinute)
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Every(perRequest), cfg.RequestsPerMinute),
		config:  cfg,
	}
}

// FetchReading returns the latest reading for coords. Missing fields in the
// payload stay absent in the reading.
func (c *Client) FetchReading(ctx context.Context, coords models.Coordinates) (*models.Reading, error) {
	u, err := url.Parse(c.baseURL + "/latest/by-lat-lng")
	if err != nil {
		return nil, &ProviderError{Op: "fetch", Err: fmt.Errorf("failed to parse URL: %w", err)}
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var payload latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &ProviderError{Op: "decode", Err: fmt.Errorf("failed to decode reading: %w", err)}
	}

	return &models.Reading{
		AQI:         payload.AQI,
		PM25:        payload.PM25,
		PM10:        payload.PM10,
		NO2:         payload.NO2,
		Ozone:       payload.Ozone,
		Pollen:      payload.Pollen,
		Temperature: payload.Temperature,
		Humidity:    payload.Humidity,
		WindSpeed:   payload.WindSpeed,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// doRequest performs HTTP request with rate limiting and retry logic.
// Transport errors and 5xx responses are retried; other non-200 statuses
// fail immediately.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error
	lastStatus := 0

	for i := 0; i < c.config.MaxRetries; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, time.Duration(i)*c.config.RetryDelayBase); err != nil {
				return nil, &ProviderError{Op: "fetch", Err: err}
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Op: "fetch", Err: fmt.Errorf("rate limiter: %w", err)}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, &ProviderError{Op: "fetch", Err: err}
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("x-api-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &ProviderError{Op: "fetch", Err: ctx.Err()}
			}
			lastErr = err
			lastStatus = 0
			logger.Debug("Ambee request attempt %d failed: %v", i+1, err)
			continue
		}

		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = errors.New("server error")
			lastStatus = resp.StatusCode
			logger.Debug("Ambee request attempt %d returned %d", i+1, resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return nil, &ProviderError{
				Op:         "fetch",
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("unexpected response: %s", string(body)),
			}
		}

		return resp, nil
	}

	return nil, &ProviderError{
		Op:         "fetch",
		StatusCode: lastStatus,
		Err:        fmt.Errorf("max retries exceeded: %w", lastErr),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
