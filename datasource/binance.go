package datasource

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jiamingke/binance-bridge/config"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

const (
	klinesPath  = "/api/v3/klines"
	orderPath   = "/api/v3/order"
	accountPath = "/api/v3/account"

	apiKeyHeader = "X-MBX-APIKEY"

	DefaultKlineSymbol   = "BTCUSDT"
	DefaultKlineInterval = "1m"
	DefaultKlineLimit    = 200
)

type Binance struct {
	client    *resty.Client
	apiKey    string
	apiSecret string
	logger    zerolog.Logger
	now       func() time.Time
}

func NewBinance(cfg config.Config, logger zerolog.Logger) *Binance {
	client := resty.New()
	client.SetBaseURL(cfg.Binance.RESTURL)
	client.SetTimeout(cfg.HTTPTimeout)

	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		logger.Debug().
			Str("method", req.Method).
			Str("url", stripQuery(req.URL)).
			Msg("binance request")
		return nil
	})

	client.AddResponseMiddleware(func(_ *resty.Client, resp *resty.Response) error {
		logger.Debug().
			Str("method", resp.Request.Method).
			Str("url", stripQuery(resp.Request.URL)).
			Int("status", resp.StatusCode()).
			Msg("binance response")
		return nil
	})

	return &Binance{
		client:    client,
		apiKey:    cfg.Binance.APIKey,
		apiSecret: cfg.Binance.APISecret,
		logger:    logger,
		now:       time.Now,
	}
}

func (b *Binance) Close() error {
	return b.client.Close()
}

func (b *Binance) CanSign() bool {
	return b.apiKey != "" && b.apiSecret != ""
}

func (b *Binance) Klines(ctx context.Context, query KlineQuery) (*Response, error) {
	symbol := strings.ToUpper(query.Symbol)
	if symbol == "" {
		symbol = DefaultKlineSymbol
	}
	interval := query.Interval
	if interval == "" {
		interval = DefaultKlineInterval
	}
	limit := query.Limit
	if limit == 0 {
		limit = DefaultKlineLimit
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("interval", interval).
		SetQueryParam("limit", strconv.Itoa(limit)).
		Get(klinesPath)

	return b.response("klines", resp, err)
}

func (b *Binance) PlaceOrder(ctx context.Context, order Order) (*Response, error) {
	if !b.CanSign() {
		return nil, ErrMissingCredentials
	}

	query := b.signedQuery(
		param{"symbol", order.Symbol},
		param{"side", order.Side},
		param{"type", "MARKET"},
		param{"quantity", order.Quantity},
	)

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader(apiKeyHeader, b.apiKey).
		Post(orderPath + "?" + query)

	return b.response("place order", resp, err)
}

func (b *Binance) Account(ctx context.Context) (*Response, error) {
	if !b.CanSign() {
		return nil, ErrMissingCredentials
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader(apiKeyHeader, b.apiKey).
		Get(accountPath + "?" + b.signedQuery())

	return b.response("account", resp, err)
}

type param struct {
	key   string
	value string
}

// signedQuery encodes params in order, appends the timestamp and then the
// signature computed over everything before it.
func (b *Binance) signedQuery(params ...param) string {
	params = append(params, param{"timestamp", strconv.FormatInt(b.now().UnixMilli(), 10)})

	var sb strings.Builder
	for i, p := range params {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.value))
	}

	payload := sb.String()
	return payload + "&signature=" + Sign(payload, b.apiSecret)
}

func (b *Binance) response(op string, resp *resty.Response, err error) (*Response, error) {
	if err != nil {
		b.logger.Error().Err(err).Str("op", op).Msg("binance request failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	body := resp.Bytes()
	if !sonic.Valid(body) {
		b.logger.Error().Str("op", op).Int("status", resp.StatusCode()).Msg("binance returned non-json body")
		return nil, fmt.Errorf("%s: invalid json response (%s)", op, resp.Status())
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       body,
	}, nil
}

// Sign returns the hex encoded HMAC-SHA256 of payload keyed by secret.
func Sign(payload, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func stripQuery(u string) string {
	path, _, _ := strings.Cut(u, "?")
	return path
}
