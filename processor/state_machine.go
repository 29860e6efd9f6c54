package processor

import (
	"fmt"
	"sync/atomic"
)

// streamState is a state in the blocks-query stream lifecycle.
type streamState uint32

const (
	// stateAdmitting: the request is being validated. No subscription
	// exists yet.
	stateAdmitting streamState = iota
	// stateRejected: admission failed. The stream holds one error
	// response and never subscribes to commits.
	stateRejected
	// stateLiveOnly: admitted without a start height. Only the live
	// subscription is held.
	stateLiveOnly
	// stateCatchup: admitted with a start height. The buffering
	// subscription is held until history has been replayed.
	stateCatchup
	// stateStreaming: the stream was handed to the transport.
	stateStreaming
	// stateClosed: the client canceled or closed the stream. Every
	// subscription has been released.
	stateClosed
)

func (s streamState) String() string {
	switch s {
	case stateAdmitting:
		return "Admitting"
	case stateRejected:
		return "Rejected"
	case stateLiveOnly:
		return "LiveOnly"
	case stateCatchup:
		return "Catchup"
	case stateStreaming:
		return "Streaming"
	case stateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// streamGuard enforces the stream state machine:
//
//	Admitting → {Rejected, LiveOnly, Catchup}
//	{LiveOnly, Catchup} → Streaming
//	any → Closed
//
// Illegal transitions are programming errors and panic.
type streamGuard struct {
	state atomic.Uint32
}

func newStreamGuard() *streamGuard {
	g := &streamGuard{}
	g.state.Store(uint32(stateAdmitting))
	return g
}

// State returns the current state name.
func (g *streamGuard) State() string {
	return g.load().String()
}

func (g *streamGuard) load() streamState {
	return streamState(g.state.Load())
}

// Admit transitions Admitting → next, where next is one of Rejected,
// LiveOnly or Catchup.
func (g *streamGuard) Admit(next streamState) {
	if next != stateRejected && next != stateLiveOnly && next != stateCatchup {
		panic(fmt.Sprintf("ledgerq/processor: cannot admit stream into state %s", next))
	}
	if !g.state.CompareAndSwap(uint32(stateAdmitting), uint32(next)) {
		panic(fmt.Sprintf("ledgerq/processor: admission decided in state %s (expected Admitting)", g.load()))
	}
}

// BeginStreaming transitions LiveOnly or Catchup → Streaming. A stream
// closed concurrently stays Closed and false is returned.
func (g *streamGuard) BeginStreaming() bool {
	for {
		cur := g.load()
		switch cur {
		case stateLiveOnly, stateCatchup:
			if g.state.CompareAndSwap(uint32(cur), uint32(stateStreaming)) {
				return true
			}
		case stateClosed:
			return false
		default:
			panic(fmt.Sprintf("ledgerq/processor: streaming started in state %s (expected LiveOnly or Catchup)", cur))
		}
	}
}

// Close transitions any state → Closed and returns the previous state.
// ok is false when the stream was already closed.
func (g *streamGuard) Close() (prev streamState, ok bool) {
	prev = streamState(g.state.Swap(uint32(stateClosed)))
	return prev, prev != stateClosed
}

// IsClosed reports whether the stream reached Closed.
func (g *streamGuard) IsClosed() bool {
	return g.load() == stateClosed
}
