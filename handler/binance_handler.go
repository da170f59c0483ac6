package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/jiamingke/binance-bridge/config"
	"github.com/jiamingke/binance-bridge/datasource"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const maxTradeBodyBytes = 1 << 16

func NewBinance(cfg config.Config, ds datasource.Datasource, bridge StreamBridge, logger zerolog.Logger) Handler {
	return &binanceHandler{
		ds:       ds,
		bridge:   bridge,
		testnet:  cfg.Testnet,
		logger:   logger,
		validate: newValidator(),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(cfg.CORSOrigin),
		},
	}
}

type binanceHandler struct {
	ds       datasource.Datasource
	bridge   StreamBridge
	testnet  bool
	logger   zerolog.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
}

type healthResponse struct {
	OK      bool `json:"ok"`
	Testnet bool `json:"testnet"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type tradeRequest struct {
	Symbol   string   `json:"symbol" validate:"required,alphanum"`
	Side     string   `json:"side" validate:"required,oneof=BUY SELL"`
	Quantity quantity `json:"quantity" validate:"required,positive_decimal"`
}

// quantity holds the text of a JSON string or number. Numbers keep their
// literal form so nothing is lost to float rounding.
type quantity string

func (q *quantity) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = quantity(s)
		return nil
	}

	var n float64
	if err := sonic.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("quantity must be a string or a number: %w", err)
	}
	*q = quantity(data)
	return nil
}

func (h *binanceHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{OK: true, Testnet: h.testnet})
}

func (h *binanceHandler) HandleKlines(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var limit int
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid limit %q", v)})
			return
		}
		limit = n
	}

	resp, err := h.ds.Klines(r.Context(), datasource.KlineQuery{
		Symbol:   query.Get("symbol"),
		Interval: query.Get("interval"),
		Limit:    limit,
	})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("klines proxy failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeRaw(w, resp)
}

func (h *binanceHandler) HandleTrade(w http.ResponseWriter, r *http.Request) {
	if !h.ds.CanSign() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: datasource.ErrMissingCredentials.Error()})
		return
	}

	req, err := h.decodeTrade(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	resp, err := h.ds.PlaceOrder(r.Context(), datasource.Order{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: string(req.Quantity),
	})
	if err != nil {
		h.writeUpstreamError(w, r, "trade", err)
		return
	}

	hlog.FromRequest(r).Info().
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("quantity", string(req.Quantity)).
		Int("status", resp.StatusCode).
		Msg("order relayed")

	writeRaw(w, resp)
}

func (h *binanceHandler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	if !h.ds.CanSign() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: datasource.ErrMissingCredentials.Error()})
		return
	}

	resp, err := h.ds.Account(r.Context())
	if err != nil {
		h.writeUpstreamError(w, r, "account", err)
		return
	}

	writeRaw(w, resp)
}

func (h *binanceHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Debug().Err(err).Msg("failed to upgrade connection to websocket")
		return
	}

	h.bridge.Serve(r.Context(), conn, r)
}

func (h *binanceHandler) decodeTrade(r *http.Request) (tradeRequest, error) {
	var req tradeRequest

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTradeBodyBytes))
	if err != nil {
		return req, fmt.Errorf("read body: %w", err)
	}
	if err := sonic.Unmarshal(body, &req); err != nil {
		return req, errors.New("invalid JSON body")
	}

	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Side = strings.ToUpper(strings.TrimSpace(req.Side))
	req.Quantity = quantity(strings.TrimSpace(string(req.Quantity)))

	if err := h.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return req, fmt.Errorf("invalid %s", fieldErrs[0].Field())
		}
		return req, err
	}
	return req, nil
}

func (h *binanceHandler) writeUpstreamError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, datasource.ErrMissingCredentials) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	hlog.FromRequest(r).Error().Err(err).Str("op", op).Msg("upstream request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
		d, _, err := apd.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		return d.Form == apd.Finite && d.Sign() > 0
	})
	return v
}

// checkOrigin allows every origin for the wildcard and otherwise only the
// configured one. Requests without an Origin header are not from browsers
// and are let through.
func checkOrigin(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if allowed == "*" {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || strings.EqualFold(origin, allowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// writeRaw forwards an upstream payload without re-encoding it.
func writeRaw(w http.ResponseWriter, resp *datasource.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
