package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarget(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected string
		wantErr  bool
	}{
		{name: "no_query", query: "", expected: "btcusdt"},
		{name: "other_params_only", query: "foo=bar", expected: "btcusdt"},
		{name: "empty_symbol", query: "symbol=", expected: "btcusdt"},
		{name: "upper_case", query: "symbol=ETHUSDT", expected: "ethusdt"},
		{name: "mixed_case", query: "symbol=BnbUsdt&foo=1", expected: "bnbusdt"},
		{name: "first_wins", query: "symbol=solusdt&symbol=ethusdt", expected: "solusdt"},
		{name: "unknown_symbol_passes", query: "symbol=NOTACOIN", expected: "notacoin"},
		{name: "escaped_value", query: "symbol=eth%55sdt", expected: "ethusdt"},
		{name: "bad_escape", query: "symbol=%zz", wantErr: true},
		{name: "bad_escape_in_other_param", query: "symbol=ethusdt&ref=%zz", expected: "ethusdt"},
		{name: "bad_escape_before_symbol", query: "ref=%zz&symbol=ETHUSDT", expected: "ethusdt"},
		{name: "semicolon_in_other_param", query: "symbol=ethusdt&utm=a;b", expected: "ethusdt"},
		{name: "semicolon_in_symbol_kept", query: "symbol=btcusdt;x=1", expected: "btcusdt;x=1"},
		{name: "bad_key_skipped", query: "%zz=1&symbol=solusdt", expected: "solusdt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := Target(tt.query)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, target)
		})
	}
}

func TestUpstreamURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		target   string
		expected string
		wantErr  bool
	}{
		{
			name:     "testnet",
			base:     "wss://testnet.binance.vision/ws",
			target:   "btcusdt",
			expected: "wss://testnet.binance.vision/ws/btcusdt@trade",
		},
		{
			name:     "production_with_port",
			base:     "wss://stream.binance.com:9443/ws",
			target:   "ethusdt",
			expected: "wss://stream.binance.com:9443/ws/ethusdt@trade",
		},
		{
			name:     "trailing_slash",
			base:     "ws://127.0.0.1:8000/ws/",
			target:   "btcusdt",
			expected: "ws://127.0.0.1:8000/ws/btcusdt@trade",
		},
		{name: "query_injection", base: "wss://x/ws", target: "btcusdt?evil=1", wantErr: true},
		{name: "fragment_injection", base: "wss://x/ws", target: "btc#usdt", wantErr: true},
		{name: "bad_escape", base: "wss://x/ws", target: "%zz", wantErr: true},
		{name: "http_base", base: "https://x/ws", target: "btcusdt", wantErr: true},
		{name: "no_host", base: "wss:///ws", target: "btcusdt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			address, err := UpstreamURL(tt.base, tt.target)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, address)
		})
	}
}
