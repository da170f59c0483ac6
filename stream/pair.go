package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Pair binds one client connection to one upstream connection. Neither end
// outlives the other: whichever side closes or fails first tears down both.
type Pair struct {
	id       string
	target   string
	client   Conn
	upstream Conn

	// writeTimeout bounds each relayed write to the client. A client that
	// stops reading ends its pair once it expires.
	writeTimeout time.Duration

	state  state
	done   chan struct{}
	logger zerolog.Logger
}

func newPair(target string, client, upstream Conn, logger zerolog.Logger) *Pair {
	id := uuid.NewString()
	return &Pair{
		id:           id,
		target:       target,
		client:       client,
		upstream:     upstream,
		writeTimeout: DefaultClientWriteTimeout,
		done:         make(chan struct{}),
		logger: logger.With().
			Str("pair_id", id).
			Str("target", target).
			Logger(),
	}
}

func (p *Pair) ID() string {
	return p.id
}

func (p *Pair) Target() string {
	return p.target
}

func (p *Pair) State() PairState {
	return p.state.Load()
}

// Done is closed once both ends have been closed.
func (p *Pair) Done() <-chan struct{} {
	return p.done
}

// Close tears down both ends. It is safe to call any number of times from
// any goroutine.
func (p *Pair) Close() {
	p.closeWith("closed", nil)
}

// run relays until the pair is torn down and both reader goroutines exit.
func (p *Pair) run() {
	p.logger.Debug().Msg("pair opened")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.relayUpstream()
	}()
	go func() {
		defer wg.Done()
		p.watchClient()
	}()
	wg.Wait()
}

// relayUpstream forwards upstream frames to the client unchanged, keeping
// their order and frame type. It is the only writer of data frames to the
// client.
func (p *Pair) relayUpstream() {
	for {
		messageType, data, err := p.upstream.ReadMessage()
		if err != nil {
			if isCloseError(err) {
				p.closeWith("upstream closed", err)
			} else {
				p.closeWith("upstream error", err)
			}
			return
		}

		if p.state.Load() != StateOpen {
			continue
		}

		if dw, ok := p.client.(deadlineWriter); ok && p.writeTimeout > 0 {
			_ = dw.SetWriteDeadline(time.Now().Add(p.writeTimeout))
		}
		if err := p.client.WriteMessage(messageType, data); err != nil {
			p.closeWith("client write failed", err)
			return
		}
	}
}

// watchClient discards client frames; reading is how a client close is seen.
func (p *Pair) watchClient() {
	for {
		if _, _, err := p.client.ReadMessage(); err != nil {
			p.closeWith("client closed", err)
			return
		}
	}
}

func (p *Pair) closeWith(reason string, cause error) {
	if !p.state.CompareAndSwap(StateOpen, StateClosing) {
		return
	}

	closeConn(p.upstream)
	closeConn(p.client)

	p.state.Store(StateClosed)
	close(p.done)

	event := p.logger.Debug().Str("reason", reason)
	if cause != nil && !isCloseError(cause) {
		event = event.Err(cause)
	}
	event.Msg("pair closed")
}

func isCloseError(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
