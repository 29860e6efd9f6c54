// Package processor answers point queries and serves blocks-query
// streams on top of the ledger's storage, executor and commit notifier.
//
// A single pump goroutine forwards every committed block from the
// commit notifier into a process-wide fan-out. Streams hold only
// subscriptions into that fan-out.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/blockberries/ledgerq"
	"github.com/blockberries/ledgerq/pubsub"
	"github.com/blockberries/ledgerq/types"
)

// rejectionMessage is the payload of the single error response sent to
// a blocks-query that fails admission.
const rejectionMessage = "stateful invalid"

// Config bounds the per-stream queues.
type Config struct {
	// BufferCapacity bounds the live-commit buffer held while history is
	// replayed. Zero means unbounded.
	BufferCapacity int
	// LiveCapacity bounds how far a live stream may fall behind the
	// commit feed. Zero means unbounded.
	LiveCapacity int
}

// DefaultConfig returns the configuration used by the node.
func DefaultConfig() Config {
	return Config{
		BufferCapacity: 0,
		LiveCapacity:   1024,
	}
}

// Processor routes point queries to executors and blocks-queries to
// streams.
type Processor struct {
	storage   ledgerq.BlockStorage
	executors ledgerq.QueryExecutorFactory
	responses ledgerq.ResponseFactory
	fanout    *pubsub.Server[types.BlockQueryResponse]
	commits   *pubsub.Subscription[types.Block]
	cfg       Config
	metrics   *Metrics
	logger    zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithMetrics sets the processor metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithConfig sets the stream queue bounds.
func WithConfig(cfg Config) Option {
	return func(p *Processor) { p.cfg = cfg }
}

var _ ledgerq.QueryHandler = (*Processor)(nil)

// New creates a processor and subscribes it to notifier for the rest of
// its lifetime. Close releases the subscription.
func New(
	storage ledgerq.BlockStorage,
	executors ledgerq.QueryExecutorFactory,
	responses ledgerq.ResponseFactory,
	notifier ledgerq.CommitNotifier,
	opts ...Option,
) (*Processor, error) {
	p := &Processor{
		storage:   storage,
		executors: executors,
		responses: responses,
		fanout:    pubsub.NewServer[types.BlockQueryResponse](),
		cfg:       DefaultConfig(),
		logger:    zerolog.Nop(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	p.logger = p.logger.With().Str("component", "query_processor").Logger()

	commits, err := notifier.SubscribeCommits()
	if err != nil {
		return nil, fmt.Errorf("subscribe to commits: %w", err)
	}
	p.commits = commits

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.pump(ctx)
	return p, nil
}

// pump republishes every committed block onto the fan-out.
func (p *Processor) pump(ctx context.Context) {
	defer close(p.done)
	for {
		block, err := p.commits.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Error().Err(err).Msg("commit feed ended")
			}
			p.fanout.Stop()
			return
		}
		p.fanout.Publish(p.responses.CreateBlockQueryResponse(block))
	}
}

// Close stops the pump and cancels every open stream's subscription.
// Later blocks-queries fail with ErrServiceUnavailable.
func (p *Processor) Close() error {
	p.once.Do(func() {
		p.cancel()
		p.commits.Unsubscribe()
		<-p.done
	})
	return nil
}

// QueryHandle answers a point query. It returns ErrServiceUnavailable
// and no response when no executor can be created; every validation
// failure is reported inside the response.
func (p *Processor) QueryHandle(ctx context.Context, q types.Query) (*types.QueryResponse, error) {
	executor, err := p.executors.CreateQueryExecutor(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("cannot create query executor")
		p.metrics.queries.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", ledgerq.ErrServiceUnavailable, err)
	}

	resp := executor.ValidateAndExecute(ctx, q, true)
	if resp.IsError() {
		p.metrics.queries.WithLabelValues("error_response").Inc()
	} else {
		p.metrics.queries.WithLabelValues("ok").Inc()
	}
	return resp, nil
}

// BlocksQueryHandle admits a blocks-query and returns its stream.
//
// A query that fails admission gets a stream holding a single error
// response and no commit subscription. An admitted stream lives until
// ctx is canceled or the stream is closed. The only error returned is
// ErrServiceUnavailable after the processor was closed.
func (p *Processor) BlocksQueryHandle(ctx context.Context, q types.BlocksQuery) (*BlockStream, error) {
	s := newBlockStream(p)
	log := p.logger.With().Str("creator", string(q.CreatorAccountID)).Logger()

	executor, err := p.executors.CreateQueryExecutor(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot create query executor")
		return p.reject(s), nil
	}
	top, err := p.storage.TopBlockHeight(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot read top block height")
		return p.reject(s), nil
	}
	if !executor.ValidateBlocksQuery(ctx, q, top, true) {
		return p.reject(s), nil
	}
	if q.Height != nil && *q.Height == 0 {
		log.Warn().Msg("admitted blocks query with height 0")
		return p.reject(s), nil
	}

	if q.Height == nil {
		live, err := p.fanout.Subscribe(p.cfg.LiveCapacity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ledgerq.ErrServiceUnavailable, err)
		}
		s.guard.Admit(stateLiveOnly)
		s.live = live
		// Commits at or below top may still be on their way through the
		// pump. They predate the subscription and are dropped.
		s.last = top
		s.phase = phaseLive
		p.metrics.blocksQueries.WithLabelValues("live_only").Inc()
	} else {
		// The buffer must exist before history is read so that nothing
		// committed during the read is lost.
		buffer, err := p.fanout.Subscribe(p.cfg.BufferCapacity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ledgerq.ErrServiceUnavailable, err)
		}
		s.guard.Admit(stateCatchup)
		s.buffer = buffer
		s.historyFrom = *q.Height
		s.last, s.anchored = *q.Height-1, true
		s.phase = phaseHistory
		p.metrics.blocksQueries.WithLabelValues("catchup").Inc()
	}
	p.metrics.activeStreams.Inc()

	s.log = log.With().Str("stream", s.id).Logger()
	s.log.Debug().
		Uint64("top_height", top).
		Str("state", s.guard.State()).
		Msg("blocks query admitted")

	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })
	s.guard.BeginStreaming()
	return s, nil
}

func (p *Processor) reject(s *BlockStream) *BlockStream {
	s.guard.Admit(stateRejected)
	resp := p.responses.CreateBlockErrorResponse(rejectionMessage)
	s.rejection = &resp
	s.phase = phaseRejected
	p.metrics.blocksQueries.WithLabelValues("rejected").Inc()
	return s
}

// NumSubscriptions returns the number of fan-out subscriptions held by
// open streams. A stream holds one, or two while it splices its buffer
// into the live feed.
func (p *Processor) NumSubscriptions() int {
	return p.fanout.NumSubscriptions()
}
