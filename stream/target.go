package stream

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultSymbol = "btcusdt"
	SymbolParam   = "symbol"

	tradeSuffix = "@trade"
)

// Target returns the lower-cased subscription target named by the first
// symbol parameter of rawQuery, or DefaultSymbol when it is absent or empty.
// Other parameters are ignored, even when they are malformed; only a symbol
// value that cannot be unescaped is an error.
func Target(rawQuery string) (string, error) {
	for rawQuery != "" {
		var pair string
		pair, rawQuery, _ = strings.Cut(rawQuery, "&")

		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil || key != SymbolParam {
			continue
		}

		symbol, err := url.QueryUnescape(rawValue)
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", SymbolParam, err)
		}
		if symbol == "" {
			break
		}
		return strings.ToLower(symbol), nil
	}
	return DefaultSymbol, nil
}

// UpstreamURL composes <base>/<target>@trade. The target is not checked
// against known symbols, but it must not turn the result into something
// other than a ws(s) stream path.
func UpstreamURL(base, target string) (string, error) {
	address := strings.TrimSuffix(base, "/") + "/" + target + tradeSuffix

	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("upstream url %q: unsupported scheme %q", address, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("upstream url %q: missing host", address)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("upstream url %q: target %q leaves the stream path", address, target)
	}
	return address, nil
}
