// Package node assembles a ledger query node: block store, world state,
// query processor, gRPC service, metrics endpoint and the optional
// development block producer.
package node

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/blockberries/ledgerq/config"
	"github.com/blockberries/ledgerq/executor"
	ledgerqgrpc "github.com/blockberries/ledgerq/grpc"
	"github.com/blockberries/ledgerq/processor"
	"github.com/blockberries/ledgerq/response"
	"github.com/blockberries/ledgerq/state"
	"github.com/blockberries/ledgerq/store"
	"github.com/blockberries/ledgerq/types"
)

const metricsShutdownTimeout = 5 * time.Second

// Node owns every component of a running ledger query node.
type Node struct {
	conf     *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry

	state     *state.WorldState
	store     *store.Store
	processor *processor.Processor
	service   *ledgerqgrpc.GRPCServer

	producerKey ed25519.PrivateKey
}

// New opens the block store, loads the genesis world state and builds
// the query processor. On error everything opened so far is closed.
func New(conf *config.Config, logger zerolog.Logger) (_ *Node, err error) {
	n := &Node{
		conf:     conf,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			if cerr := n.Close(); cerr != nil {
				logger.Error().Err(cerr).Msg("closing partially started node")
			}
		}
	}()

	n.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if conf.GenesisFile != "" {
		g, err := state.LoadGenesis(conf.GenesisFile)
		if err != nil {
			return nil, err
		}
		if n.state, err = state.FromGenesis(g); err != nil {
			return nil, err
		}
	} else {
		logger.Warn().Msg("no genesis file, starting with an empty world state")
		n.state = state.New()
	}

	opts := store.Options{CacheSize: conf.CacheSize, Logger: logger}
	if conf.DBDir != "" {
		n.store, err = store.OpenFile(conf.DBDir, opts)
	} else {
		logger.Warn().Msg("no db_dir, blocks are kept in memory")
		n.store, err = store.OpenMem(opts)
	}
	if err != nil {
		return nil, err
	}

	responses := response.Factory{}
	n.processor, err = processor.New(
		n.store,
		executor.NewFactory(n.state, n.store, responses, logger),
		responses,
		n.store,
		processor.WithLogger(logger),
		processor.WithMetrics(processor.NewMetrics(n.registry)),
		processor.WithConfig(processor.Config{
			BufferCapacity: conf.Stream.BufferCapacity,
			LiveCapacity:   conf.Stream.LiveCapacity,
		}),
	)
	if err != nil {
		return nil, err
	}

	n.service = ledgerqgrpc.NewGRPCServer(n.processor, logger)
	n.registry.MustRegister(n.service.Collector())

	if conf.Dev.BlockInterval > 0 {
		if _, n.producerKey, err = ed25519.GenerateKey(nil); err != nil {
			return nil, fmt.Errorf("generate producer key: %w", err)
		}
	}
	return n, nil
}

// Store returns the block store.
func (n *Node) Store() *store.Store { return n.store }

// Processor returns the query processor.
func (n *Node) Processor() *processor.Processor { return n.processor }

// Registry returns the metrics registry served on the metrics endpoint.
func (n *Node) Registry() *prometheus.Registry { return n.registry }

// Run serves gRPC on lis until ctx is canceled or a component fails.
func (n *Node) Run(ctx context.Context, lis net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	gs := n.service.NewServer()
	g.Go(func() error {
		n.logger.Info().Str("addr", lis.Addr().String()).Msg("serving gRPC")
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		// Streams only end when their clients go away, so a graceful stop
		// would wait forever on a follower.
		gs.Stop()
		return nil
	})

	if n.conf.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              n.conf.MetricsAddr,
			Handler:           n.metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			n.logger.Info().Str("addr", srv.Addr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if n.producerKey != nil {
		g.Go(func() error { return n.produce(ctx) })
	}

	return g.Wait()
}

func (n *Node) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
	return mux
}

// produce commits an empty signed block every dev.block_interval.
func (n *Node) produce(ctx context.Context) error {
	log := n.logger.With().Str("component", "dev_producer").Logger()
	log.Info().Dur("interval", n.conf.Dev.BlockInterval).Msg("producing development blocks")

	ticker := time.NewTicker(n.conf.Dev.BlockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := n.CommitNext(ctx); err != nil {
				return fmt.Errorf("dev producer: %w", err)
			}
		}
	}
}

// CommitNext commits an empty block on top of the chain, signed by the
// development producer key when one is configured.
func (n *Node) CommitNext(ctx context.Context) error {
	var prev types.Hash
	height, err := n.store.TopBlockHeight(ctx)
	if err != nil {
		return err
	}
	if height > 0 {
		top, err := n.store.TopBlock(ctx)
		if err != nil {
			return err
		}
		prev = top.Hash()
	}
	b := types.Block{Height: height + 1, PrevHash: prev, CreatedTime: types.Now()}
	if n.producerKey != nil {
		b = types.SignBlock(b, n.producerKey)
	}
	return n.store.Commit(b)
}

// Close releases every component. It is safe to call on a node whose
// construction failed half way.
func (n *Node) Close() error {
	var result *multierror.Error
	if n.processor != nil {
		if err := n.processor.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close processor: %w", err))
		}
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close block store: %w", err))
		}
	}
	if n.state != nil {
		n.state.Close()
	}
	return result.ErrorOrNil()
}
