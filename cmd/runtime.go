package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/minutes/config"
	"github.com/otherjamesbrown/minutes/credentials"
	"github.com/otherjamesbrown/minutes/migrations"
	"github.com/otherjamesbrown/minutes/pkg/blob"
	"github.com/otherjamesbrown/minutes/pkg/db"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes/draft"
	"github.com/otherjamesbrown/minutes/pkg/minutes/extraction"
	"github.com/otherjamesbrown/minutes/pkg/minutes/jobs"
	"github.com/otherjamesbrown/minutes/pkg/minutes/locale"
	"github.com/otherjamesbrown/minutes/pkg/minutes/narration"
	"github.com/otherjamesbrown/minutes/pkg/minutes/observability"
	"github.com/otherjamesbrown/minutes/pkg/minutes/pipeline"
	"github.com/otherjamesbrown/minutes/pkg/minutes/queues"
	"github.com/otherjamesbrown/minutes/pkg/minutes/refinement"
	"github.com/otherjamesbrown/minutes/pkg/minutes/validation"
	"github.com/otherjamesbrown/minutes/pkg/minutes/workers"
	"github.com/otherjamesbrown/minutes/pkg/providers"
	"github.com/otherjamesbrown/minutes/pkg/providers/gemini"
	"github.com/otherjamesbrown/minutes/pkg/providers/languagetool"
	"github.com/otherjamesbrown/minutes/pkg/providers/openai"
)

const (
	connectAttempts   = 5
	connectRetryDelay = 2 * time.Second
	depthPollInterval = 15 * time.Second
	probeTimeout      = 3 * time.Second
)

// runtime is the assembled service: backends, stages and the orchestrator.
type runtime struct {
	cfg      *config.ServiceConfig
	logger   logging.Logger
	pool     *pgxpool.Pool
	redis    redis.UniversalClient
	store    jobs.Store
	queue    queues.Queue
	blobs    *blob.LocalStore
	registry *prometheus.Registry
	metrics  *observability.Metrics
	orch     *pipeline.Orchestrator
}

// buildRuntime connects the configured backends and wires the pipeline.
func buildRuntime(ctx context.Context, cfg *config.ServiceConfig, logger logging.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	if err := rt.assemble(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) assemble(ctx context.Context) error {
	cfg, logger := rt.cfg, rt.logger

	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = observability.NewMetrics(rt.registry)

	if err := rt.openStore(ctx); err != nil {
		return err
	}
	if err := rt.openQueue(ctx); err != nil {
		return err
	}

	creds, err := credentials.NewStore()
	if err != nil {
		logger.Debug("Credential store unavailable, using environment only", logging.Err(err))
	}

	if rt.blobs, err = openBlobs(cfg, creds, logger); err != nil {
		return err
	}

	stages, err := rt.buildStages(ctx, creds)
	if err != nil {
		return err
	}

	var publisher observability.Publisher = observability.NoOpPublisher{}
	if rt.redis != nil {
		publisher = observability.NewRedisPublisher(rt.redis)
	}
	rt.orch = pipeline.New(stages, rt.store, rt.queue,
		pipeline.WithLogger(logger),
		pipeline.WithPublisher(publisher),
		pipeline.WithMetrics(rt.metrics),
		pipeline.WithDefaultVoice(cfg.Pipeline.DefaultVoice),
	)
	return nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	switch rt.cfg.Backend.Store {
	case config.StoreMemory:
		rt.logger.Warn("Using in-memory job store; jobs are lost on restart")
		rt.store = jobs.NewMemoryStore()
		return nil
	case config.StorePostgres, "":
	default:
		return fmt.Errorf("unknown job store %q", rt.cfg.Backend.Store)
	}

	pool, err := db.ConnectWithRetry(ctx, &rt.cfg.Database, connectAttempts, connectRetryDelay)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	rt.pool = pool

	result, err := db.RunMigrations(ctx, pool, migrationFS(&rt.cfg.Database))
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	if len(result.Applied) > 0 {
		rt.logger.Info("Applied migrations", logging.F("versions", result.Applied))
	}

	if _, err := db.RegisterPoolCollector(rt.registry, pool, "minutes", "api"); err != nil {
		return fmt.Errorf("registering pool metrics: %w", err)
	}
	rt.store = jobs.NewPostgresStore(pool, rt.logger)
	return nil
}

func (rt *runtime) openQueue(ctx context.Context) error {
	switch rt.cfg.Backend.Queue {
	case config.QueueMemory:
		rt.logger.Warn("Using in-memory queue; workers must run in this process")
		rt.queue = queues.NewMemoryQueue(rt.cfg.Queue)
		return nil
	case config.QueueRedis, "":
	default:
		return fmt.Errorf("unknown queue %q", rt.cfg.Backend.Queue)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     rt.cfg.Redis.Addr,
		Password: rt.cfg.Redis.Password,
		DB:       rt.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("connecting to redis at %s: %w", rt.cfg.Redis.Addr, err)
	}
	rt.redis = rdb
	rt.queue = queues.NewRedisQueue(rdb, rt.cfg.Queue)
	return nil
}

// migrationFS returns the override directory, or the embedded migrations.
func migrationFS(cfg *db.Config) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return migrations.FS
}

func openBlobs(cfg *config.ServiceConfig, creds *credentials.Store, logger logging.Logger) (*blob.LocalStore, error) {
	key := cfg.Blob.SigningKey
	if key == "" {
		v, err := credentials.Resolve(creds, credentials.KeyBlobSigner)
		switch {
		case err == nil:
			key = v
		case errors.Is(err, credentials.ErrNotFound):
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return nil, fmt.Errorf("generating blob signing key: %w", err)
			}
			key = hex.EncodeToString(b)
			logger.Warn("No blob signing key configured; signed URLs will not survive a restart")
		default:
			return nil, fmt.Errorf("reading blob signing key: %w", err)
		}
	}
	return blob.NewLocalStore(blob.LocalConfig{
		Root:       cfg.Blob.Root,
		BaseURL:    cfg.Blob.BaseURL,
		SigningKey: key,
	})
}

// providerSet holds the fallback chains handed to the stages.
type providerSet struct {
	llm     *providers.LLMChain
	stt     *providers.STTChain
	tts     *providers.TTSChain
	ocr     *providers.OCRChain
	grammar providers.GrammarChecker
}

// buildProviders creates a client for each provider with an API key. OpenAI
// leads every chain it serves; Gemini is the fallback and the only OCR.
func buildProviders(ctx context.Context, cfg *config.ServiceConfig, creds *credentials.Store, opts providers.ChainOptions, logger logging.Logger) (*providerSet, error) {
	var (
		llms []providers.LLM
		stts []providers.SpeechToText
		ttss []providers.TextToSpeech
		ocrs []providers.OCR
	)

	oaiCfg := cfg.Providers.OpenAI
	if oaiCfg.APIKey == "" {
		oaiCfg.APIKey, _ = credentials.Resolve(creds, credentials.KeyOpenAI)
	}
	if oaiCfg.APIKey != "" {
		c, err := openai.NewClient(oaiCfg)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		llms = append(llms, c.LLM())
		stts = append(stts, c.STT())
		ttss = append(ttss, c.TTS())
	}

	gemCfg := cfg.Providers.Gemini
	if gemCfg.APIKey == "" {
		gemCfg.APIKey, _ = credentials.Resolve(creds, credentials.KeyGemini)
	}
	if gemCfg.APIKey != "" {
		c, err := gemini.NewClient(ctx, gemCfg)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		llms = append(llms, c.LLM())
		ttss = append(ttss, c.TTS())
		ocrs = append(ocrs, c.OCR())
	}

	if len(llms) == 0 {
		logger.Warn("No AI provider API key found; stages that call providers will fail",
			logging.F("hint", "run 'minutes keys set openai' or set OPENAI_API_KEY"))
	}

	set := &providerSet{
		llm: providers.NewLLMChain(opts, llms...),
		stt: providers.NewSTTChain(opts, stts...),
		tts: providers.NewTTSChain(opts, ttss...),
		ocr: providers.NewOCRChain(opts, ocrs...),
	}
	if cfg.Providers.LanguageTool.URL != "" {
		set.grammar = languagetool.New(cfg.Providers.LanguageTool)
	}
	return set, nil
}

func loadDictionary(path string) (*locale.Dictionary, error) {
	dict := locale.DefaultDictionary()
	if path == "" {
		return dict, nil
	}
	custom, err := locale.LoadDictionary(path)
	if err != nil {
		return nil, fmt.Errorf("loading dictionary: %w", err)
	}
	return dict.Merge(custom), nil
}

func (rt *runtime) buildStages(ctx context.Context, creds *credentials.Store) (pipeline.Stages, error) {
	cfg := rt.cfg
	set, err := buildProviders(ctx, cfg, creds, providers.ChainOptions{
		Retry:    cfg.Providers.Retry,
		Observer: rt.metrics,
		Logger:   rt.logger,
	}, rt.logger)
	if err != nil {
		return pipeline.Stages{}, err
	}

	dict, err := loadDictionary(cfg.Pipeline.DictionaryPath)
	if err != nil {
		return pipeline.Stages{}, err
	}

	return pipeline.Stages{
		Extractor: extraction.New(cfg.Pipeline.Extraction(), rt.blobs,
			extraction.WithOCR(set.ocr),
			extraction.WithEntityRecognizer(extraction.NewLLMRecognizer(set.llm, extraction.NewHeuristicRecognizer(dict), rt.logger)),
			extraction.WithLogger(rt.logger),
		),
		Drafter:   draft.New(cfg.Pipeline.Draft(""), rt.blobs, set.stt, set.llm, rt.logger),
		Validator: validation.New(cfg.Pipeline.Validation(), set.grammar, dict, rt.logger),
		Refiner:   refinement.New(cfg.Pipeline.Refinement(), set.llm, rt.logger),
		Narrator:  narration.New(cfg.Narration(), set.tts, rt.blobs, rt.logger),
	}, nil
}

// startWorkers recovers interrupted jobs and starts the pool.
func (rt *runtime) startWorkers(ctx context.Context) (*workers.Pool, error) {
	n, err := rt.orch.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovering jobs: %w", err)
	}
	if n > 0 {
		rt.logger.Info("Re-enqueued interrupted jobs", logging.F("count", n))
	}

	pool := workers.NewPool(rt.cfg.Workers, rt.queue, rt.orch.Handle, rt.logger)
	pool.Start(ctx)
	go rt.watchQueueDepth(ctx)
	return pool, nil
}

func (rt *runtime) watchQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(depthPollInterval)
	defer ticker.Stop()
	for {
		if depth, err := rt.queue.Depth(ctx); err == nil {
			rt.metrics.QueueDepth.Set(float64(depth))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthChecks returns the probes for the configured backends.
func (rt *runtime) healthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if rt.pool != nil {
		checks["database"] = db.Probe(rt.pool, probeTimeout)
	}
	if rt.redis != nil {
		rdb := rt.redis
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

// Close releases the backends in reverse order of opening.
func (rt *runtime) Close() {
	if rt.queue != nil {
		if err := rt.queue.Close(); err != nil {
			rt.logger.Warn("Closing queue", logging.Err(err))
		}
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	db.Close(rt.pool)
}
