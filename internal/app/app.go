package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"TubeDigest/internal/config"
	"TubeDigest/internal/httpapi"
	"TubeDigest/internal/infrastructure/asr"
	"TubeDigest/internal/infrastructure/gcs"
	"TubeDigest/internal/infrastructure/history"
	"TubeDigest/internal/infrastructure/llm"
	"TubeDigest/internal/infrastructure/scheduler"
	"TubeDigest/internal/infrastructure/telegram"
	"TubeDigest/internal/infrastructure/ytdlp"
	"TubeDigest/internal/logging"
	"TubeDigest/internal/ports"
	"TubeDigest/internal/proxy"
	"TubeDigest/internal/resultstore"
	"TubeDigest/internal/session"
	"TubeDigest/internal/source"
	"TubeDigest/internal/usecase"
)

// Application wires configuration into the bot's components and runs their
// lifecycles together.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	proxies    *proxy.Policy
	pipeline   *usecase.Pipeline
	dispatcher *usecase.Dispatcher
	poller     *telegram.Poller
	adminAPI   *httpapi.Server
	cleaner    *resultstore.Cleaner
	sweeper    *scheduler.IntervalScheduler
	histRepo   *history.SQLiteRepository
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	if cfg.Telegram.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	proxies := proxy.NewPolicy(proxy.Config{
		ExplicitURL: cfg.Proxy.URL,
		DisableAll:  cfg.Proxy.DisableAll,
	})

	transport := telegram.NewClient(cfg.Telegram.BotToken, proxies)

	var store session.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		store = session.NewRedisStore(client, cfg.Session.IdleTTL)
	} else {
		store = session.NewInMemoryStore(cfg.Session.IdleTTL)
	}
	sessions := session.NewController(store, source.Default(), baseLogger)

	var histRepo *history.SQLiteRepository
	if cfg.History.SQLitePath != "" {
		repo, err := history.Open(cfg.History.SQLitePath)
		if err != nil {
			return nil, err
		}
		histRepo = repo
	}

	pipeline, err := BuildPipeline(ctx, cfg, proxies, baseLogger)
	if err != nil {
		return nil, err
	}

	progress := usecase.NewProgressChannel(transport, cfg.Progress.MinInterval, baseLogger.With("component", "progress"))

	var histPort ports.HistoryRepository
	if histRepo != nil {
		histPort = histRepo
	}
	dispatcher := usecase.NewDispatcher(usecase.DispatcherDeps{
		Sessions:  sessions,
		Pipeline:  pipeline,
		Progress:  progress,
		Chat:      llm.NewClient(cfg.LLM, proxies),
		Transport: transport,
		History:   histPort,
		Allowed:   cfg.Telegram.AllowedUserSet(),
		Logger:    baseLogger,
	})

	poller := telegram.NewPoller(transport, dispatcher.Dispatch, cfg.Telegram.PollTimeout, baseLogger)

	var adminAPI *httpapi.Server
	if cfg.Admin.ListenAddr != "" {
		adminAPI = httpapi.NewServer(cfg.Admin.ListenAddr, cfg.Admin.Token, sessions, histPort, baseLogger)
	}

	cleaner := resultstore.NewCleaner(
		[]string{cfg.YTDLP.DownloadsDir, filepath.Clean(cfg.Results.TempDir)},
		cfg.Results.MaxTempAge,
		baseLogger,
	)

	return &Application{
		cfg:        cfg,
		logger:     baseLogger.With("component", "app"),
		proxies:    proxies,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		poller:     poller,
		adminAPI:   adminAPI,
		cleaner:    cleaner,
		sweeper:    scheduler.NewIntervalScheduler(cfg.Results.CleanupInterval),
		histRepo:   histRepo,
	}, nil
}

// BuildPipeline assembles the content pipeline on its own, without the bot
// transport. The process command uses it for one-off runs.
func BuildPipeline(ctx context.Context, cfg config.Config, proxies *proxy.Policy, baseLogger *slog.Logger) (*usecase.Pipeline, error) {
	var storage ports.Storage
	if cfg.Storage.Bucket != "" {
		gcsStorage, err := gcs.New(ctx, cfg.Storage.Bucket, cfg.Storage.SignTTL, baseLogger)
		if err != nil {
			return nil, err
		}
		storage = gcsStorage
	}

	var transcriber ports.Transcriber
	if cfg.ASR.APIKey != "" {
		client, err := asr.NewClient(cfg.ASR, proxies, baseLogger)
		if err != nil {
			return nil, err
		}
		transcriber = client
	}

	if storage == nil || transcriber == nil {
		baseLogger.Warn("object storage or transcription not configured, videos without captions will fail",
			"storage_configured", storage != nil, "transcriber_configured", transcriber != nil)
	}

	return usecase.NewPipeline(usecase.PipelineDeps{
		Subtitles:   ytdlp.NewSubtitleExtractor(cfg.YTDLP.Path, baseLogger),
		Downloader:  ytdlp.NewDownloader(cfg.YTDLP.Path, cfg.YTDLP.DownloadsDir, baseLogger),
		Storage:     storage,
		Transcriber: transcriber,
		Summarizer:  llm.NewClient(cfg.LLM, proxies),
		Results:     resultstore.New(cfg.Results.Dir, baseLogger),
		Proxies:     proxies,
		Retry: usecase.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     cfg.Retry.Backoff,
			Multiplier:  2,
		},
		Logger: baseLogger.With("component", "pipeline"),
	}), nil
}

// Pipeline exposes the content pipeline for one-off command runs.
func (a *Application) Pipeline() *usecase.Pipeline {
	return a.pipeline
}

// Proxies exposes the network policy so command flags can adjust it.
func (a *Application) Proxies() *proxy.Policy {
	return a.proxies
}

// Run serves the bot until the context is cancelled, then drains in-flight
// work.
func (a *Application) Run(ctx context.Context) error {
	a.sweeper.Start(ctx, func(time.Time) { a.cleaner.Sweep() })
	defer a.sweeper.Stop()

	errCh := make(chan error, 1)
	if a.adminAPI != nil {
		go func() {
			if err := a.adminAPI.Start(); err != nil {
				errCh <- fmt.Errorf("admin api: %w", err)
			}
		}()
	}

	pollErr := a.poller.Run(ctx)

	a.logger.Info("shutting down, waiting for in-flight work")
	a.dispatcher.Wait()

	if a.adminAPI != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.adminAPI.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("admin api shutdown", "error", err)
		}
	}
	if a.histRepo != nil {
		if err := a.histRepo.Close(); err != nil {
			a.logger.Warn("history close", "error", err)
		}
	}

	select {
	case err := <-errCh:
		return err
	default:
	}
	if pollErr != nil && !errors.Is(pollErr, context.Canceled) {
		return pollErr
	}
	return nil
}
