package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/jobmail/internal/config"
	"github.com/ignite/jobmail/internal/ingest"
	"github.com/ignite/jobmail/internal/masters"
	"github.com/ignite/jobmail/internal/pipeline"
	"github.com/ignite/jobmail/internal/pkg/distlock"
	"github.com/ignite/jobmail/internal/pkg/logger"
	"github.com/ignite/jobmail/internal/popularity"
	"github.com/ignite/jobmail/internal/profile"
	"github.com/ignite/jobmail/internal/queue"
	"github.com/ignite/jobmail/internal/scorer"
	"github.com/ignite/jobmail/internal/store"
)

const pipelineVersion = "1.0.0"

func main() {
	var (
		configPath   = flag.String("config", "config.yaml", "path to YAML config")
		batchDateStr = flag.String("batch-date", "", "batch date YYYY-MM-DD, default today")
		csvPath      = flag.String("csv", "", "override the job feed CSV path")
	)
	flag.Parse()

	os.Exit(run(*configPath, *batchDateStr, *csvPath))
}

func run(configPath, batchDateStr, csvPath string) int {
	log.Println("Starting jobmail daily pipeline...")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Configuration error: %v", err)
		return pipeline.ExitConfig
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	if csvPath != "" {
		cfg.Ingest.CSVPath = csvPath
	}
	if cfg.Ingest.CSVPath == "" {
		log.Printf("Configuration error: no CSV path (flag --csv or JOBMAIL_CSV_PATH)")
		return pipeline.ExitConfig
	}

	batchDate := time.Now().UTC().Truncate(24 * time.Hour)
	if batchDateStr != "" {
		batchDate, err = time.Parse("2006-01-02", batchDateStr)
		if err != nil {
			log.Printf("Configuration error: bad --batch-date %q: %v", batchDateStr, err)
			return pipeline.ExitConfig
		}
	}
	batchID := fmt.Sprintf("%s-%s", batchDate.Format("20060102"), uuid.New().String()[:8])

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Printf("Database error: %v", err)
		return pipeline.ExitConfig
	}
	defer db.Close()
	log.Println("Connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, cancelling batch...", sig)
		cancel()
	}()

	cache, err := masters.Load(ctx, db)
	if err != nil {
		log.Printf("Master data error: %v", err)
		return pipeline.ExitConfig
	}

	deps := pipeline.Deps{
		Cfg:   cfg,
		Cache: cache,
	}

	// Redis carries the batch lock and ingest progress; the pipeline runs
	// without it when disabled.
	var progress ingest.ProgressReporter
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("Redis unavailable, continuing without lock/progress: %v", err)
		} else {
			lockTTL := time.Duration(cfg.Deadlines.HardTotal)*time.Second + 5*time.Minute
			deps.Lock = distlock.NewBatchLock(rdb, batchDate.Format("2006-01-02"), lockTTL)
			progress = store.NewRedisProgress(rdb)
		}
	}

	jobRepo := store.NewJobRepo(db)
	actionRepo := store.NewActionRepo(db)

	deps.Ingest = ingest.NewImporter(jobRepo, cache, progress, ingest.Options{
		ChunkSize:      cfg.Ingest.BatchSize,
		Workers:        cfg.Ingest.Workers,
		FeeMin:         cfg.Ingest.FeeMin,
		ValidTypes:     cfg.ValidEmploymentSet(),
		StaleGraceDays: cfg.Ingest.StaleGraceDays,
		RetryAttempts:  cfg.Ingest.RetryAttempts,
		RetryBase:      time.Duration(cfg.Ingest.RetryBaseSeconds) * time.Second,
		BatchID:        batchID,
		BatchDate:      batchDate,
	})
	deps.Popularity = popularity.NewAggregator(store.NewPopularityRepo(db), popularity.Options{
		WindowDays: cfg.Scoring.PopularityWindowDays,
		RateWeight: cfg.Scoring.PopularityRateWeight,
		RateCap:    cfg.Scoring.PopularityRateCap,
		VolumeCap:  cfg.Scoring.PopularityVolumeCap,
	})
	deps.Profiles = profile.NewBuilder(actionRepo, store.NewProfileRepo(db), profile.Options{
		WindowDays:       cfg.Matching.ProfileWindowDays,
		RecentWindowDays: cfg.Matching.RecentWindowDays,
		Workers:          cfg.Matching.Workers,
	})
	deps.Scorer = scorer.New(cache, actionRepo, store.NewEnrichmentRepo(db), scorer.Options{
		Workers:           cfg.Scoring.Workers,
		AreaMinJobs:       cfg.Scoring.AreaMinJobs,
		DefaultPopularity: cfg.Scoring.DefaultPopularity,
		PersonalizedK:     cfg.Scoring.PersonalizedK,
		SEOKeywordLimit:   cfg.Scoring.SEOKeywordLimit,
	})
	deps.Jobs = jobRepo
	deps.Users = actionRepo
	deps.Matches = store.NewMappingRepo(db)
	deps.Ledger = store.NewBatchRepo(db)
	deps.Partitions = store.NewPartitioner(db)
	deps.Cleanup = store.NewCleaner(db, cfg.Retention)

	builder, err := queue.NewBuilder(cfg.Queue, batchID, pipelineVersion)
	if err != nil {
		log.Printf("Configuration error: %v", err)
		return pipeline.ExitConfig
	}
	deps.Builder = builder
	deps.Queue = queue.NewWriter(store.NewQueueRepo(db), 1000)

	p := pipeline.New(deps, batchID, batchDate)
	if err := p.Run(ctx); err != nil {
		log.Printf("Batch failed: %v", err)
		return pipeline.ExitCode(err)
	}

	log.Printf("Batch %s completed", batchID)
	return pipeline.ExitOK
}
