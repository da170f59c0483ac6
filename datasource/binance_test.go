package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jiamingke/binance-bridge/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBinance(t *testing.T, handler http.HandlerFunc, key, secret string) *Binance {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Binance.RESTURL = server.URL
	cfg.Binance.APIKey = key
	cfg.Binance.APISecret = secret

	b := NewBinance(cfg, zerolog.Nop())
	b.now = func() time.Time { return time.UnixMilli(1700000000000) }
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSign(t *testing.T) {
	// Example from the Binance API documentation.
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"

	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", Sign(payload, secret))
}

func TestBinance_Klines(t *testing.T) {
	requests := make(chan *http.Request, 1)
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		requests <- r
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[[1700000000000,"1","2","0.5","1.5","10"]]`))
	}, "", "")

	resp, err := b.Klines(context.Background(), KlineQuery{Symbol: "ethusdt", Interval: "5m", Limit: 50})
	require.NoError(t, err)

	got := <-requests
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/api/v3/klines", got.URL.Path)
	assert.Equal(t, "ETHUSDT", got.URL.Query().Get("symbol"))
	assert.Equal(t, "5m", got.URL.Query().Get("interval"))
	assert.Equal(t, "50", got.URL.Query().Get("limit"))
	assert.Empty(t, got.Header.Get(apiKeyHeader))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[[1700000000000,"1","2","0.5","1.5","10"]]`, string(resp.Body))
}

func TestBinance_Klines_Defaults(t *testing.T) {
	queries := make(chan string, 1)
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		w.Write([]byte(`[]`))
	}, "", "")

	_, err := b.Klines(context.Background(), KlineQuery{})
	require.NoError(t, err)

	query := <-queries
	assert.Contains(t, query, "symbol=BTCUSDT")
	assert.Contains(t, query, "interval=1m")
	assert.Contains(t, query, "limit=200")
}

func TestBinance_Klines_UpstreamErrorPassesThrough(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}, "", "")

	resp, err := b.Klines(context.Background(), KlineQuery{Symbol: "nope"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"code":-1121,"msg":"Invalid symbol."}`, string(resp.Body))
}

func TestBinance_Klines_InvalidJSON(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	}, "", "")

	_, err := b.Klines(context.Background(), KlineQuery{})
	assert.Error(t, err)
}

func TestBinance_Klines_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	cfg := config.Default()
	cfg.Binance.RESTURL = server.URL
	b := NewBinance(cfg, zerolog.Nop())
	defer b.Close()

	_, err := b.Klines(context.Background(), KlineQuery{})
	assert.Error(t, err)
}

func TestBinance_PlaceOrder_Signed(t *testing.T) {
	requests := make(chan *http.Request, 1)
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		requests <- r
		w.Write([]byte(`{"orderId":42,"status":"FILLED"}`))
	}, "my-key", "my-secret")

	resp, err := b.PlaceOrder(context.Background(), Order{Symbol: "BTCUSDT", Side: "BUY", Quantity: "0.001"})
	require.NoError(t, err)

	got := <-requests
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/v3/order", got.URL.Path)
	assert.Equal(t, "my-key", got.Header.Get(apiKeyHeader))

	payload, signature, ok := strings.Cut(got.URL.RawQuery, "&signature=")
	require.True(t, ok)
	assert.Equal(t, "symbol=BTCUSDT&side=BUY&type=MARKET&quantity=0.001&timestamp=1700000000000", payload)
	assert.Equal(t, Sign(payload, "my-secret"), signature)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"orderId":42,"status":"FILLED"}`, string(resp.Body))
}

func TestBinance_Account_Signed(t *testing.T) {
	requests := make(chan *http.Request, 1)
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		requests <- r
		w.Write([]byte(`{"balances":[]}`))
	}, "my-key", "my-secret")

	_, err := b.Account(context.Background())
	require.NoError(t, err)

	got := <-requests
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/api/v3/account", got.URL.Path)

	payload, signature, ok := strings.Cut(got.URL.RawQuery, "&signature=")
	require.True(t, ok)
	assert.Equal(t, "timestamp=1700000000000", payload)
	assert.Equal(t, Sign(payload, "my-secret"), signature)
}

func TestBinance_SignedWithoutCredentials(t *testing.T) {
	var calls atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{}`))
	}

	tests := []struct {
		name   string
		key    string
		secret string
	}{
		{"none", "", ""},
		{"key_only", "key", ""},
		{"secret_only", "", "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBinance(t, handler, tt.key, tt.secret)
			assert.False(t, b.CanSign())

			_, err := b.PlaceOrder(context.Background(), Order{Symbol: "BTCUSDT", Side: "BUY", Quantity: "1"})
			assert.ErrorIs(t, err, ErrMissingCredentials)

			_, err = b.Account(context.Background())
			assert.ErrorIs(t, err, ErrMissingCredentials)
		})
	}

	assert.Zero(t, calls.Load())
}
