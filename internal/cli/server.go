package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video-quiz-engine/internal/config"
	"video-quiz-engine/internal/domain"
	"video-quiz-engine/internal/engine"
	"video-quiz-engine/internal/infra/jobservice"
	"video-quiz-engine/internal/infra/logger"
	"video-quiz-engine/internal/infra/memory"
	pgstore "video-quiz-engine/internal/infra/postgres"
	rediscache "video-quiz-engine/internal/infra/redis"
	transport "video-quiz-engine/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(slog.LevelInfo)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionLoader
	var questionStore *pgstore.QuestionStore
	if pool != nil {
		questionStore = pgstore.NewQuestionStore(pool)
		loader = questionStore
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, time.Hour)
	var cache engine.QuestionCache
	if redisClient != nil {
		cache = rediscache.NewQuestionCache(redisClient, loader, quizTTL)
	} else {
		cache = memory.NewQuestionCache(loader, quizTTL)
	}
	if questionStore != nil {
		cache = &persistentCache{cache: cache, store: questionStore}
	}

	var results engine.ResultStore
	if pool != nil {
		results = pgstore.NewResultStore(pool)
	} else {
		results = memory.NewResultStore()
	}

	baseURL := cfg.JobService.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	client := jobservice.NewClient(baseURL, config.TTLDuration(cfg.JobService.RequestTimeout, 10*time.Second))

	engineCfg := buildEngineConfig(cfg)
	factory := func(tr engine.Transport) *engine.Engine {
		return engine.New(engineCfg, engine.Deps{
			JobClient: client,
			Explainer: client,
			Cache:     cache,
			Results:   results,
			Transport: tr,
			Logger:    log,
		})
	}
	wsHandler := transport.NewWSHandler(factory, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quiz engine", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildEngineConfig(cfg config.Config) engine.Config {
	engineCfg := engine.DefaultConfig()
	engineCfg.SampleInterval = config.TTLDuration(cfg.Quiz.SampleInterval, engineCfg.SampleInterval)
	engineCfg.ResumeDelay = config.TTLDuration(cfg.Quiz.ResumeDelay, engineCfg.ResumeDelay)
	if cfg.Quiz.RewindSeconds > 0 {
		engineCfg.RewindSeconds = cfg.Quiz.RewindSeconds
	}
	if cfg.Quiz.ChoiceTolerance > 0 {
		engineCfg.Tolerances.MultipleChoiceSeconds = cfg.Quiz.ChoiceTolerance
	}
	if cfg.Quiz.RegionTolerance > 0 {
		engineCfg.Tolerances.DetectionSeconds = cfg.Quiz.RegionTolerance
	}
	engineCfg.Poller.Interval = config.TTLDuration(cfg.JobService.PollInterval, engineCfg.Poller.Interval)
	engineCfg.Poller.Timeout = config.TTLDuration(cfg.JobService.PollTimeout, engineCfg.Poller.Timeout)
	if cfg.JobService.MaxPollAttempts > 0 {
		engineCfg.Poller.MaxAttempts = cfg.JobService.MaxPollAttempts
	}
	if cfg.JobService.MaxConsecutiveErrors > 0 {
		engineCfg.Poller.MaxConsecutiveErrors = cfg.JobService.MaxConsecutiveErrors
	}
	if cfg.JobService.NumQuestions > 0 {
		engineCfg.Poller.Submit.NumQuestions = cfg.JobService.NumQuestions
	}
	if cfg.JobService.KeyframeInterval > 0 {
		engineCfg.Poller.Submit.KeyframeInterval = cfg.JobService.KeyframeInterval
	}
	if cfg.JobService.FullAnalysis != nil {
		engineCfg.Poller.Submit.FullAnalysis = *cfg.JobService.FullAnalysis
	}
	return engineCfg
}

// persistentCache writes generated question lists through to Postgres so
// they survive cache expiry; reads still go through the cache, whose
// loader is the same store.
type persistentCache struct {
	cache engine.QuestionCache
	store *pgstore.QuestionStore
}

func (c *persistentCache) Get(ctx context.Context, videoRef string) ([]domain.Question, bool, error) {
	return c.cache.Get(ctx, videoRef)
}

func (c *persistentCache) Put(ctx context.Context, videoRef string, questions []domain.Question) error {
	if err := c.store.SaveQuestions(ctx, videoRef, questions); err != nil {
		return err
	}
	return c.cache.Put(ctx, videoRef, questions)
}
