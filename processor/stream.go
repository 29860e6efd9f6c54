package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/pubsub"
	"github.com/blockberries/ledgerq/types"
)

// phase is the position of a stream within its output sequence.
type phase uint8

const (
	phaseRejected phase = iota // one error response pending
	phaseHistory               // replaying blocks from storage
	phaseBacklog               // delivering the drained buffer
	phaseLive                  // following the fan-out
	phaseDone                  // nothing more to deliver
)

var _ ledgerq.BlockSource = (*BlockStream)(nil)

// BlockStream is the output of one blocks-query.
//
// For a start height H the stream delivers every block from H onward
// exactly once and in height order: history read from storage first,
// then the commits buffered while the history was read, then the live
// commit feed. Buffered and live blocks are only delivered if their
// height is above the highest height already delivered.
//
// Next must not be called concurrently. Close may be called at any time
// from any goroutine.
type BlockStream struct {
	p     *Processor
	id    string
	guard *streamGuard
	log   zerolog.Logger
	stop  func() bool

	mu          sync.Mutex
	phase       phase
	rejection   *types.BlockQueryResponse
	buffer      *pubsub.Subscription[types.BlockQueryResponse]
	live        *pubsub.Subscription[types.BlockQueryResponse]
	history     ledgerq.BlockIterator
	historyFrom uint64
	backlog     []types.BlockQueryResponse
	// last is the highest height delivered. Before the first delivery it
	// is H-1 for a catchup stream and the admission top height for a
	// live-only one. anchored is false until last is known to be
	// contiguous with what the client has seen, and again after a
	// historical read fails.
	last     uint64
	anchored bool
}

func newBlockStream(p *Processor) *BlockStream {
	return &BlockStream{
		p:     p,
		id:    uuid.NewString(),
		guard: newStreamGuard(),
		log:   p.logger,
	}
}

// ID returns the stream identifier used in logs.
func (s *BlockStream) ID() string { return s.id }

// State returns the lifecycle state name of the stream.
func (s *BlockStream) State() string { return s.guard.State() }

// Next returns the next response. A rejected stream returns its error
// response and then io.EOF. After Close, or once the request context is
// canceled, Next returns ErrStreamClosed.
func (s *BlockStream) Next(ctx context.Context) (types.BlockQueryResponse, error) {
	for {
		s.mu.Lock()
		if s.guard.IsClosed() {
			s.mu.Unlock()
			return types.BlockQueryResponse{}, ledgerq.ErrStreamClosed
		}

		switch s.phase {
		case phaseRejected:
			resp := *s.rejection
			s.phase = phaseDone
			s.mu.Unlock()
			return resp, nil

		case phaseDone:
			s.mu.Unlock()
			return types.BlockQueryResponse{}, io.EOF

		case phaseHistory:
			resp, ok, err := s.nextHistory(ctx)
			s.mu.Unlock()
			if err != nil {
				return types.BlockQueryResponse{}, err
			}
			if ok {
				s.p.metrics.streamResponses.Inc()
				return resp, nil
			}

		case phaseBacklog:
			if len(s.backlog) == 0 {
				s.backlog = nil
				s.phase = phaseLive
				s.mu.Unlock()
				continue
			}
			resp := s.backlog[0]
			s.backlog = s.backlog[1:]
			ok, err := s.accept(resp)
			s.mu.Unlock()
			if err != nil {
				return types.BlockQueryResponse{}, err
			}
			if ok {
				s.p.metrics.streamResponses.Inc()
				return resp, nil
			}

		case phaseLive:
			live := s.live
			s.mu.Unlock()

			resp, err := live.Next(ctx)

			s.mu.Lock()
			if s.guard.IsClosed() {
				s.mu.Unlock()
				return types.BlockQueryResponse{}, ledgerq.ErrStreamClosed
			}
			if err != nil {
				err = s.liveFailed(err)
				s.mu.Unlock()
				if err != nil {
					return types.BlockQueryResponse{}, err
				}
				continue
			}
			ok, err := s.accept(resp)
			s.mu.Unlock()
			if err != nil {
				return types.BlockQueryResponse{}, err
			}
			if ok {
				s.p.metrics.streamResponses.Inc()
				return resp, nil
			}
		}
	}
}

// nextHistory returns the next historical block. When history is
// exhausted or unreadable it splices the buffer into the live feed and
// returns ok == false. Must be called with mu held.
func (s *BlockStream) nextHistory(ctx context.Context) (types.BlockQueryResponse, bool, error) {
	if s.history == nil {
		it, err := s.p.storage.GetBlocksFrom(ctx, s.historyFrom)
		if err != nil {
			s.historyFailed(err, "historical read failed, continuing with buffered and live blocks")
			return types.BlockQueryResponse{}, false, s.splice()
		}
		s.history = it
	}

	block, ok, err := s.history.Next()
	if err != nil {
		s.historyFailed(err, "historical read interrupted, continuing with buffered and live blocks")
		return types.BlockQueryResponse{}, false, s.splice()
	}
	if !ok {
		return types.BlockQueryResponse{}, false, s.splice()
	}
	if block.Height <= s.last {
		s.p.metrics.duplicatesDropped.Inc()
		return types.BlockQueryResponse{}, false, nil
	}
	s.last = block.Height
	return s.p.responses.CreateBlockQueryResponse(block), true, nil
}

// historyFailed logs a failed historical read. NotFound means the start
// height is not committed yet, and the buffer will carry it. Any other
// failure leaves a hole the stream cannot fill, so it is no longer
// anchored and the next delivered height becomes the new floor.
func (s *BlockStream) historyFailed(err error, msg string) {
	if errors.Is(err, ledgerq.ErrBlockNotFound) {
		s.log.Warn().Err(err).Uint64("from_height", s.historyFrom).Msg(msg)
		return
	}
	s.log.Error().Err(err).Uint64("from_height", s.historyFrom).Msg(msg)
	s.anchored = false
}

// splice ends the history phase. The live subscription is opened before
// the buffer is drained and its error read, so every commit lands in the
// live feed or in the buffer, or it overflowed the buffer. The height
// filter in accept removes the overlap. Must be called with mu held.
func (s *BlockStream) splice() error {
	s.closeHistory()

	live, err := s.p.fanout.Subscribe(s.p.cfg.LiveCapacity)
	if err != nil {
		s.releaseBuffer()
		s.phase = phaseDone
		return fmt.Errorf("%w: %v", ledgerq.ErrServiceUnavailable, err)
	}
	s.live = live

	backlog := s.buffer.Drain()
	overflowed := errors.Is(s.buffer.Err(), pubsub.ErrOutOfCapacity)
	s.releaseBuffer()
	if overflowed {
		// Commits after the overflow were never buffered. Read them from
		// storage instead.
		return s.restartCatchup("buffer overflow during history replay")
	}
	s.backlog = backlog
	s.phase = phaseBacklog

	s.log.Debug().
		Uint64("last_height", s.last).
		Int("buffered", len(s.backlog)).
		Msg("history replayed, following live commits")
	return nil
}

// restartCatchup resumes the stream from storage at last+1 with a fresh
// buffer. Must be called with mu held.
func (s *BlockStream) restartCatchup(reason string) error {
	s.releaseBuffer()
	if s.live != nil {
		s.live.Unsubscribe()
		s.live = nil
	}
	buffer, err := s.p.fanout.Subscribe(s.p.cfg.BufferCapacity)
	if err != nil {
		s.phase = phaseDone
		return fmt.Errorf("%w: %v", ledgerq.ErrServiceUnavailable, err)
	}
	s.buffer = buffer
	s.backlog = nil
	s.historyFrom = s.last + 1
	s.phase = phaseHistory
	s.p.metrics.catchupRestarts.Inc()
	s.log.Warn().
		Uint64("from_height", s.historyFrom).
		Str("reason", reason).
		Msg("stream fell behind, resuming from storage")
	return nil
}

// liveFailed handles an error from the live subscription. It returns nil
// when the stream recovered. Must be called with mu held.
func (s *BlockStream) liveFailed(err error) error {
	switch {
	case errors.Is(err, pubsub.ErrOutOfCapacity) && s.anchored:
		return s.restartCatchup("live subscription overflow")
	case errors.Is(err, pubsub.ErrServerStopped):
		s.phase = phaseDone
		return fmt.Errorf("%w: %v", ledgerq.ErrServiceUnavailable, err)
	default:
		return err
	}
}

// accept applies the delivery filter to a buffered or live entry and
// records its height. A height past last+1 on an anchored stream means
// the feed skipped commits; the stream then resumes from storage and
// drops the entry. Must be called with mu held.
func (s *BlockStream) accept(resp types.BlockQueryResponse) (bool, error) {
	height, ok := resp.Height()
	if !ok {
		msg := "error response without payload"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		s.p.metrics.anomalies.Inc()
		s.log.Warn().
			Err(ledgerq.NewAnomalyError(s.last, msg)).
			Msg("commit feed returned error block response, dropped")
		return false, nil
	}
	if height <= s.last {
		s.p.metrics.duplicatesDropped.Inc()
		return false, nil
	}
	if s.anchored && height != s.last+1 {
		s.log.Error().
			Uint64("last_height", s.last).
			Uint64("height", height).
			Msg("gap in commit feed")
		return false, s.restartCatchup("gap in commit feed")
	}
	s.last, s.anchored = height, true
	return true, nil
}

// Close releases every subscription and the history snapshot held by
// the stream. It is safe to call more than once.
func (s *BlockStream) Close() error {
	prev, ok := s.guard.Close()
	if !ok {
		return nil
	}
	if s.stop != nil {
		s.stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseBuffer()
	if s.live != nil {
		s.live.Unsubscribe()
		s.live = nil
	}
	s.closeHistory()
	s.backlog = nil
	s.phase = phaseDone

	if prev != stateRejected && prev != stateAdmitting {
		s.p.metrics.activeStreams.Dec()
		s.log.Debug().Uint64("last_height", s.last).Msg("blocks query stream closed")
	}
	return nil
}

func (s *BlockStream) releaseBuffer() {
	if s.buffer != nil {
		s.buffer.Unsubscribe()
		s.buffer = nil
	}
}

func (s *BlockStream) closeHistory() {
	if s.history == nil {
		return
	}
	if err := s.history.Close(); err != nil {
		s.log.Error().Err(err).Msg("closing historical read")
	}
	s.history = nil
}
