package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polyswarm/internal/alerting"
	"polyswarm/internal/backend"
	"polyswarm/internal/config"
	"polyswarm/internal/filter"
	"polyswarm/internal/llm"
	"polyswarm/internal/model"
	"polyswarm/internal/queue"
	"polyswarm/internal/service"
	"polyswarm/internal/state"
	"polyswarm/internal/storage"
	"polyswarm/internal/stream"
	"polyswarm/internal/swarm"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFilter() *filter.Filter {
	var classifier llm.Provider
	if a.Config.Filter.AIEnabled && a.Config.Classifier.APIKey != "" {
		classifier = llm.NewOpenAICompatible(llm.OpenAIOptions{
			Label:   "classifier",
			BaseURL: a.Config.Classifier.BaseURL,
			APIKey:  a.Config.Classifier.APIKey,
			Model:   a.Config.Classifier.Model,
			Timeout: a.Config.Filter.AITimeout,
		})
	}

	return filter.New(filter.Options{
		MinTradeSize: decimal.NewFromFloat(a.Config.Filter.MinTradeSize),
		MinPrice:     decimal.NewFromFloat(a.Config.Filter.MinPrice),
		MaxPrice:     decimal.NewFromFloat(a.Config.Filter.MaxPrice),
		Keywords:     a.Config.Filter.ExcludeKeywords,
		AITimeout:    a.Config.Filter.AITimeout,
	}, classifier, a.Logger)
}

func (a *App) newSwarm() *swarm.Swarm {
	providers := llm.Registry(a.Config.Models, a.Config.Swarm.CallTimeout)
	return swarm.New(providers, swarm.Options{
		Concurrency:    a.Config.Swarm.Concurrency,
		CallTimeout:    a.Config.Swarm.CallTimeout,
		MaxAttempts:    a.Config.Swarm.MaxAttempts,
		RetryDelayBase: a.Config.Swarm.RetryDelayBase,
		RatePerSecond:  a.Config.Swarm.RatePerSecond,
	}, a.Logger)
}

func (a *App) newBackend() *backend.Client {
	if a.Config.Backend.BaseURL == "" {
		return nil
	}
	return backend.New(backend.Options{
		BaseURL:        a.Config.Backend.BaseURL,
		APIKey:         a.Config.Backend.APIKey,
		RequestTimeout: a.Config.Backend.RequestTimeout,
		MaxAttempts:    a.Config.Backend.MaxAttempts,
		RetryDelayBase: a.Config.Backend.RetryDelayBase,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newStore() *state.Store {
	return state.New(state.Options{
		DataDir:             a.Config.Store.DataDir,
		PickThreshold:       a.Config.Swarm.PickThreshold,
		PredictionRetention: a.Config.Store.PredictionRetention,
		MarketRetention:     a.Config.Store.MarketRetention,
	}, a.Logger)
}

func (a *App) openArchive(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	archive := storage.NewStore(pool)
	closer := func() {
		archive.Close()
	}
	return archive, closer, nil
}

// Run executes the long-running collector service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if archive == nil {
		a.Logger.Info().Msg("database.dsn not configured; pick archive disabled")
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	sw := a.newSwarm()
	if sw.Size() == 0 {
		a.Logger.Warn().Msg("no model credentials configured; consensus analysis disabled")
	}

	store := a.newStore()
	q := queue.New(a.Config.Queue.Capacity)

	var pickArchive storage.PickArchive
	if archive != nil {
		pickArchive = archive
	}

	var svc *service.Service
	client := stream.NewClient(stream.Options{
		URL:              a.Config.Stream.URL,
		ReconnectDelay:   a.Config.Stream.ReconnectDelay,
		HandshakeTimeout: a.Config.Stream.HandshakeTimeout,
		PingInterval:     a.Config.Stream.PingInterval,
	}, func(ev model.TradeEvent) { svc.HandleTrade(ev) }, a.Logger)

	svc = service.New(service.Options{
		SwarmEnabled:     a.Config.Swarm.Enabled && sw.Size() > 0,
		AnalysisMinSize:  decimal.NewFromFloat(a.Config.Swarm.AnalysisMinSize),
		SaveInterval:     a.Config.Store.SaveInterval,
		PruneInterval:    a.Config.Store.PruneInterval,
		ArchiveRetention: a.Config.Store.PredictionRetention,
	}, client, q, a.newFilter(), store, sw, a.newBackend(), pickArchive, a.newNotifier(), a.Logger)

	a.Logger.Info().Str("url", a.Config.Stream.URL).Msg("starting trade collector")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("collector terminated with error")
		return err
	}

	a.Logger.Info().Msg("trade collector stopped")
	return nil
}

// ExportOptions hold parameters for exporting archived picks.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
