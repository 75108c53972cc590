package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vamos-labs/vamos-indexer/internal/chain"
	"github.com/vamos-labs/vamos-indexer/internal/crypto"
	"github.com/vamos-labs/vamos-indexer/internal/domain"
	"github.com/vamos-labs/vamos-indexer/internal/indexer"
	"github.com/vamos-labs/vamos-indexer/internal/server"
	"github.com/vamos-labs/vamos-indexer/internal/server/handler"
	"github.com/vamos-labs/vamos-indexer/internal/server/ws"
	"github.com/vamos-labs/vamos-indexer/internal/service"
	"github.com/vamos-labs/vamos-indexer/internal/worker"
)

// IndexMode runs one scan/decode/materialize pipeline per configured chain.
func (a *App) IndexMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting index mode",
		slog.Int("chains", len(a.cfg.Chains)),
	)

	pipelines, err := a.buildPipelines(ctx, deps)
	if err != nil {
		return fmt.Errorf("index mode: %w", err)
	}

	return indexer.RunAll(ctx, pipelines)
}

// ServeMode runs the read-only HTTP + WebSocket API over the indexed state.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// WorkerMode runs the resolution worker: it watches MarketResolved logs on
// one chain and submits distribute transactions.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	res, client, err := a.buildResolver(ctx, deps)
	if err != nil {
		return fmt.Errorf("worker mode: %w", err)
	}
	defer client.Close()

	return res.Run(ctx)
}

// ReplayMode streams the archived raw logs of every configured chain back
// through the decoder and materializer, then exits. It is a one-shot mode for
// rebuilding state after a schema change or data loss.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode")

	if deps.BlobReader == nil {
		return fmt.Errorf("replay mode: blob storage is not configured")
	}

	keyer := a.keyer()
	for _, chainCfg := range a.cfg.Chains {
		// Resolution events still need the authoritative getMarket read for
		// fee data, so replay dials the chain even though logs come from the
		// archive.
		client, err := chain.Dial(ctx, chainCfg.RPCURL)
		if err != nil {
			return fmt.Errorf("replay mode: dial chain %s: %w", chainCfg.Name, err)
		}
		a.closers = append(a.closers, client.Close)

		reader := chain.NewReader(client, common.HexToAddress(chainCfg.ContractAddress), a.logger)
		mat := indexer.NewMaterializer(
			deps.Stores, keyer, reader,
			deps.LockManager, deps.MarketCache, nil, deps.Notifier,
			a.logger,
		)
		rep := indexer.NewReplayer(
			deps.BlobReader,
			chain.NewDecoder(chainCfg.ChainID),
			chainCfg.ChainID,
			mat,
			a.logger,
		)
		if err := rep.Run(ctx); err != nil {
			return fmt.Errorf("replay mode: chain %s: %w", chainCfg.Name, err)
		}
	}

	a.logger.InfoContext(ctx, "replay complete")
	return nil
}

// FullMode runs the indexing pipelines, the API server, and (when enabled)
// the resolution worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	pipelines, err := a.buildPipelines(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	g.Go(func() error {
		return indexer.RunAll(ctx, pipelines)
	})

	if a.cfg.Worker.Enabled {
		res, client, err := a.buildResolver(ctx, deps)
		if err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
		g.Go(func() error {
			defer client.Close()
			return res.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	}

	return g.Wait()
}

// keyer returns the key derivation scheme shared by every pipeline. Keys are
// chain-qualified as soon as more than one chain is configured.
func (a *App) keyer() domain.Keyer {
	return domain.Keyer{MultiChain: len(a.cfg.Chains) > 1}
}

// buildPipelines dials every configured chain and assembles its pipeline.
// RPC clients are registered on the App's closer list.
func (a *App) buildPipelines(ctx context.Context, deps *Dependencies) ([]*indexer.Pipeline, error) {
	keyer := a.keyer()

	pipelines := make([]*indexer.Pipeline, 0, len(a.cfg.Chains))
	for _, chainCfg := range a.cfg.Chains {
		client, err := chain.Dial(ctx, chainCfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial chain %s: %w", chainCfg.Name, err)
		}
		a.closers = append(a.closers, client.Close)

		contract := common.HexToAddress(chainCfg.ContractAddress)

		scanner := chain.NewScanner(client, deps.Stores.Checkpoints(), chain.ScannerConfig{
			ChainID:       chainCfg.ChainID,
			Contract:      contract,
			StartBlock:    chainCfg.StartBlock,
			Confirmations: chainCfg.Confirmations,
			BatchSize:     chainCfg.BatchSize,
		}, a.logger)

		reader := chain.NewReader(client, contract, a.logger)
		reader.OnBreakerOpen = func(err error) {
			_ = deps.Notifier.Notify(context.Background(), "error",
				"RPC circuit open",
				fmt.Sprintf("chain %s: contract reads failing: %v", chainCfg.Name, err),
			)
		}

		mat := indexer.NewMaterializer(
			deps.Stores, keyer, reader,
			deps.LockManager, deps.MarketCache, deps.SignalBus, deps.Notifier,
			a.logger,
		)

		var archiver *indexer.Archiver
		if deps.BlobWriter != nil {
			archiver = indexer.NewArchiver(deps.BlobWriter, chainCfg.ChainID, a.logger)
		}

		pipelines = append(pipelines, indexer.NewPipeline(
			scanner,
			chain.NewDecoder(chainCfg.ChainID),
			mat,
			archiver,
			keyer,
			chainCfg.PollInterval.Duration,
			a.logger.With(slog.String("chain", chainCfg.Name)),
		))
	}
	return pipelines, nil
}

// buildResolver assembles the resolution worker for its configured chain. The
// caller owns the returned RPC client.
func (a *App) buildResolver(ctx context.Context, deps *Dependencies) (*worker.Resolver, *chain.Client, error) {
	chainCfg, ok := a.cfg.WorkerChain()
	if !ok {
		return nil, nil, fmt.Errorf("resolver: no chain configured for the worker")
	}

	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Worker.PrivateKey,
		EncryptedKeyPath: a.cfg.Worker.EncryptedKeyPath,
		KeyPassword:      a.cfg.Worker.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("resolver: load key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex, chainCfg.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolver: signer: %w", err)
	}

	client, err := chain.Dial(ctx, chainCfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("resolver: dial chain %s: %w", chainCfg.Name, err)
	}

	confirmations := a.cfg.Worker.Confirmations
	if confirmations == 0 {
		confirmations = chainCfg.Confirmations
	}

	res := worker.NewResolver(client, signer, worker.ResolverConfig{
		ChainID:       chainCfg.ChainID,
		Contract:      common.HexToAddress(chainCfg.ContractAddress),
		Confirmations: confirmations,
		PollInterval:  a.cfg.Worker.PollInterval.Duration,
		DedupTTL:      a.cfg.Worker.DedupTTL.Duration,
	}, deps.Notifier, a.logger.With(slog.String("chain", chainCfg.Name)))

	return res, client, nil
}

// startServer adds the API server and WebSocket hub goroutines to the given
// errgroup. The server is shut down gracefully when the context is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	querySvc := service.NewQueryService(deps.Stores, deps.MarketCache, a.logger)

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Markets: handler.NewMarketHandler(querySvc, a.logger),
		Bets:    handler.NewBetHandler(querySvc, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
