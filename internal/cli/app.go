package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/internal/action"
	"github.com/mesh-intelligence/journey/internal/history"
	"github.com/mesh-intelligence/journey/internal/llm"
	"github.com/mesh-intelligence/journey/internal/logging"
	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/internal/metrics"
	"github.com/mesh-intelligence/journey/internal/objects"
	"github.com/mesh-intelligence/journey/internal/orchestrator"
	"github.com/mesh-intelligence/journey/internal/paths"
	"github.com/mesh-intelligence/journey/internal/sqlite"
	"github.com/mesh-intelligence/journey/pkg/types"
)

// app is the wired core for one command.
type app struct {
	cfg      types.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	store    *sqlite.Backend
	objects  *objects.Store
	resolver *mention.Resolver
	history  *history.Manager
	actions  *action.Machine
}

// open loads config and opens storage. The caller must Close the app.
func (s *state) open() (*app, error) {
	configDir, err := s.configDir()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return nil, err
	}
	cfg.DataDir, err = paths.ResolveDataDir(s.flags.dataDir, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(cfg.DataDir, sqlite.WithLogger(logger.Named("sqlite")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	objs, err := objects.Open(cfg.DataDir, logger.Named("objects"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open object store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		store:   store,
		objects: objs,
	}
	a.resolver = mention.NewResolver(store, mention.NewAllocator(logger.Named("shortcodes")), logger.Named("mention"))
	a.history = history.NewManager(store, history.WithLogger(logger.Named("history")))
	a.actions = action.NewMachine(store,
		action.WithLogger(logger.Named("action")),
		action.WithMetrics(a.metrics),
		action.WithObjects(objs),
	)
	return a, nil
}

// orchestrator builds the model provider and the turn loop.
func (a *app) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	provider, err := llm.NewProvider(ctx, a.cfg.LLM, a.logger.Named("llm"))
	if err != nil {
		return nil, err
	}
	return orchestrator.New(a.store, provider,
		orchestrator.WithLogger(a.logger.Named("orchestrator")),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithResolver(a.resolver),
		orchestrator.WithHistory(a.history),
		orchestrator.WithLLMConfig(a.cfg.LLM),
		orchestrator.WithHistoryLimit(a.cfg.Chat.HistoryLimit),
	), nil
}

func (a *app) Close() error {
	err := errors.Join(a.objects.Close(), a.store.Close())
	_ = a.logger.Sync()
	return err
}
