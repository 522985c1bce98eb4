package risk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/retry"
)

func TestHTTPClassifier_Success(t *testing.T) {
	var got FeatureVector
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"fraud_probability": 0.5, "model_version": "rf-2024-09"}`))
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, "secret-key", time.Second)
	p, version, err := c.Classify(context.Background(), FeatureVector{Amount: 1200, Hour: 3, IsNight: true, TypeTransfer: true})
	require.NoError(t, err)
	assert.Equal(t, 0.5, p)
	assert.Equal(t, "rf-2024-09", version)
	assert.Equal(t, 1200.0, got.Amount)
	assert.True(t, got.IsNight)
}

func TestHTTPClassifier_FeatureNamesOnTheWire(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(`{"fraud_probability": 0.1}`))
	}))
	defer srv.Close()

	_, _, err := NewHTTPClassifier(srv.URL, "", time.Second).Classify(context.Background(), FeatureVector{})
	require.NoError(t, err)
	for _, key := range []string{"step", "amount", "oldbalanceOrg", "newbalanceOrig", "oldbalanceDest",
		"newbalanceDest", "hour", "is_night", "amount_ratio", "sender_balance_change",
		"receiver_balance_change", "orig_balance_zero", "dest_balance_zero", "type_TRANSFER"} {
		assert.Contains(t, raw, key)
	}
}

func TestHTTPClassifier_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, _, err := NewHTTPClassifier(srv.URL, "", time.Second).Classify(context.Background(), FeatureVector{})
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))
}

func TestHTTPClassifier_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, _, err := NewHTTPClassifier(srv.URL, "", time.Second).Classify(context.Background(), FeatureVector{})
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestHTTPClassifier_MalformedBodyIsPermanent(t *testing.T) {
	for _, body := range []string{`not json`, `{"model_version": "x"}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		_, _, err := NewHTTPClassifier(srv.URL, "", time.Second).Classify(context.Background(), FeatureVector{})
		srv.Close()
		require.Error(t, err, body)
		assert.True(t, retry.IsPermanent(err), body)
	}
}

func TestHTTPClassifier_ThroughGatewayRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"fraud_probability": 0.91, "model_version": "v2"}`))
	}))
	defer srv.Close()

	g, err := NewGateway(NewHTTPClassifier(srv.URL, "", time.Second), DefaultThresholds(), testGatewayConfig())
	require.NoError(t, err)

	v, err := g.Score(context.Background(), FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, LevelHigh, v.Level)
	assert.Equal(t, int32(2), calls.Load())
}
