package stream

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Bridge opens one upstream trade stream per accepted client connection and
// keeps the resulting Pairs until they end. Pairs share nothing; the registry
// exists only so that Shutdown can reach them.
type Bridge struct {
	baseURL string
	dialer  Dialer
	logger  zerolog.Logger

	mu     sync.Mutex
	pairs  map[string]*Pair
	closed bool
	wg     sync.WaitGroup
}

func NewBridge(baseURL string, dialer Dialer, logger zerolog.Logger) *Bridge {
	return &Bridge{
		baseURL: baseURL,
		dialer:  dialer,
		logger:  logger,
		pairs:   make(map[string]*Pair),
	}
}

// Serve pairs client with a new upstream connection for the target named in
// r and blocks until the pair is torn down. If the target cannot be derived
// or the upstream cannot be reached, client is closed and Serve returns.
func (b *Bridge) Serve(ctx context.Context, client Conn, r *http.Request) {
	target, err := Target(r.URL.RawQuery)
	if err != nil {
		b.logger.Debug().Err(err).Str("query", r.URL.RawQuery).Msg("rejecting stream request")
		closeConn(client)
		return
	}

	address, err := UpstreamURL(b.baseURL, target)
	if err != nil {
		b.logger.Debug().Err(err).Str("target", target).Msg("rejecting stream request")
		closeConn(client)
		return
	}

	upstream, err := b.dialer.Dial(ctx, address)
	if err != nil {
		b.logger.Warn().Err(err).Str("target", target).Msg("upstream dial failed")
		closeConn(client)
		return
	}

	pair := newPair(target, client, upstream, b.logger)
	if !b.register(pair) {
		pair.closeWith("bridge shut down", nil)
		return
	}
	defer b.unregister(pair)

	pair.run()
}

// Active returns the number of live pairs.
func (b *Bridge) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pairs)
}

// Shutdown closes every live pair and refuses new ones. It waits for the
// pairs to finish or for ctx to end.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	pairs := make([]*Pair, 0, len(b.pairs))
	for _, p := range b.pairs {
		pairs = append(pairs, p)
	}
	b.mu.Unlock()

	b.logger.Info().Int("pairs", len(pairs)).Msg("closing stream pairs")
	for _, p := range pairs {
		p.closeWith("bridge shut down", nil)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) register(p *Pair) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.pairs[p.id] = p
	b.wg.Add(1)
	return true
}

func (b *Bridge) unregister(p *Pair) {
	b.mu.Lock()
	delete(b.pairs, p.id)
	b.mu.Unlock()
	b.wg.Done()
}
