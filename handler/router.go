package handler

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jiamingke/binance-bridge/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// NewRouter mounts h on the public routes. The stream route sits outside the
// /api subrouter so the access log never wraps a hijacked connection.
func NewRouter(cfg config.Config, h Handler, logger zerolog.Logger) http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Use(
		hlog.NewHandler(logger),
		hlog.RemoteAddrHandler("remote"),
		hlog.AccessHandler(accessLog),
	)

	api.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	api.HandleFunc("/klines", h.HandleKlines).Methods(http.MethodGet)

	trade := http.Handler(http.HandlerFunc(h.HandleTrade))
	account := http.Handler(http.HandlerFunc(h.HandleAccount))
	if cfg.BasicAuthEnabled() {
		auth := BasicAuth(cfg.BasicAuth.User, cfg.BasicAuth.Pass)
		trade = auth(trade)
		account = auth(account)
	}
	api.Handle("/trade", trade).Methods(http.MethodPost)
	api.Handle("/account", account).Methods(http.MethodGet)

	r.HandleFunc("/ws/stream", h.HandleStream).Methods(http.MethodGet)

	return handlers.CORS(
		handlers.AllowedOrigins([]string{cfg.CORSOrigin}),
		handlers.AllowCredentials(),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(r)
}
