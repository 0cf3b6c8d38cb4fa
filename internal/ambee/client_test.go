package ambee

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/airwatch/internal/models"
)

func testClient(url string) *Client {
	return NewClient(url, "secret", 2*time.Second, ClientConfig{
		RequestsPerMinute: 6000,
		MaxRetries:        3,
		RetryDelayBase:    time.Millisecond,
	})
}

func TestFetchReading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/by-lat-lng", r.URL.Path)
		assert.Equal(t, "6.5244", r.URL.Query().Get("lat"))
		assert.Equal(t, "3.3792", r.URL.Query().Get("lng"))
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"aqi":43,"pm25":12.5,"pollen":"High","windSpeed":3}`))
	}))
	defer srv.Close()

	r, err := testClient(srv.URL).FetchReading(context.Background(), models.Coordinates{Latitude: 6.5244, Longitude: 3.3792})
	require.NoError(t, err)

	aqi, ok := r.Number(models.MetricAQI)
	assert.True(t, ok)
	assert.Equal(t, 43.0, aqi)
	ws, ok := r.Number(models.MetricWindSpeed)
	assert.True(t, ok)
	assert.Equal(t, 3.0, ws)
	pollen, ok := r.Text(models.MetricPollen)
	assert.True(t, ok)
	assert.Equal(t, "High", pollen)

	_, ok = r.Number(models.MetricOzone)
	assert.False(t, ok, "missing fields stay absent")
	assert.False(t, r.Timestamp.IsZero())
}

func TestFetchReadingRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"aqi":40}`))
	}))
	defer srv.Close()

	r, err := testClient(srv.URL).FetchReading(context.Background(), models.Coordinates{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	aqi, _ := r.Number(models.MetricAQI)
	assert.Equal(t, 40.0, aqi)
}

func TestFetchReadingGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchReading(context.Background(), models.Coordinates{})
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusServiceUnavailable, perr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchReadingClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid key"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchReading(context.Background(), models.Coordinates{})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchReadingMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"aqi":`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchReading(context.Background(), models.Coordinates{})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "decode", perr.Op)
}

func TestFetchReadingHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := testClient(srv.URL).FetchReading(ctx, models.Coordinates{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
