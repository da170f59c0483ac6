package datasource

import (
	"context"
	"errors"
)

// ErrMissingCredentials is returned by signed operations when either the API
// key or secret is not configured. No request is sent in that case.
var ErrMissingCredentials = errors.New("Missing API keys")

type Datasource interface {
	Klines(ctx context.Context, query KlineQuery) (*Response, error)
	PlaceOrder(ctx context.Context, order Order) (*Response, error)
	Account(ctx context.Context) (*Response, error)
	CanSign() bool
}

type KlineQuery struct {
	Symbol   string
	Interval string
	Limit    int
}

// Order is a spot MARKET order.
type Order struct {
	Symbol   string
	Side     string
	Quantity string
}

// Response is an upstream reply whose body is known to be JSON but is
// otherwise opaque.
type Response struct {
	StatusCode int
	Body       []byte
}
