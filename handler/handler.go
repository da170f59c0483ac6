package handler

import (
	"context"
	"net/http"

	"github.com/jiamingke/binance-bridge/stream"
)

type Handler interface {
	HandleHealth(w http.ResponseWriter, r *http.Request)
	HandleKlines(w http.ResponseWriter, r *http.Request)
	HandleTrade(w http.ResponseWriter, r *http.Request)
	HandleAccount(w http.ResponseWriter, r *http.Request)
	HandleStream(w http.ResponseWriter, r *http.Request)
}

// StreamBridge takes ownership of an upgraded client connection.
type StreamBridge interface {
	Serve(ctx context.Context, client stream.Conn, r *http.Request)
}
