package stream

import "sync/atomic"

// PairState is the lifecycle state of a Pair.
type PairState int32

const (
	// StateOpen means both ends are live and messages are relayed.
	StateOpen PairState = iota
	// StateClosing means teardown has started; relayed messages are dropped.
	StateClosing
	// StateClosed means both ends have been closed.
	StateClosed
)

func (s PairState) String() string {
	return [...]string{
		"open",
		"closing",
		"closed",
	}[s]
}

type state struct {
	v atomic.Int32
}

func (s *state) Load() PairState {
	return PairState(s.v.Load())
}

func (s *state) Store(st PairState) {
	s.v.Store(int32(st))
}

func (s *state) CompareAndSwap(old, new PairState) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}
