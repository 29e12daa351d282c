// Package pipeline orchestrates the daily batch: ingest, popularity,
// profiles, scoring, per-user matching and allocation, and the delivery
// queue write. Stages run under a hard wall-clock deadline with per-stage
// soft deadlines that warn without aborting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/jobmail/internal/allocator"
	"github.com/ignite/jobmail/internal/config"
	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/ingest"
	"github.com/ignite/jobmail/internal/masters"
	"github.com/ignite/jobmail/internal/matcher"
	"github.com/ignite/jobmail/internal/pkg/logger"
	"github.com/ignite/jobmail/internal/queue"
	"github.com/ignite/jobmail/internal/scorer"
	"github.com/ignite/jobmail/internal/store"
)

// Exit codes reported to the scheduler.
const (
	ExitOK       = 0
	ExitConfig   = 1
	ExitIngest   = 2
	ExitScoring  = 3
	ExitDeadline = 4
)

// StageError carries the failing stage and the exit code the process
// should report.
type StageError struct {
	Stage string
	Code  int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ExitCode maps a pipeline error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExitDeadline
	}
	return ExitScoring
}

// Ingestor runs the CSV import stage.
type Ingestor interface {
	RunFile(ctx context.Context, path string) (*ingest.Result, error)
}

// PopularityStage computes the employer popularity map.
type PopularityStage interface {
	Run(ctx context.Context, now time.Time) (map[string]domain.EmployerPopularity, error)
}

// ProfileStage derives per-user profiles.
type ProfileStage interface {
	Run(ctx context.Context, now time.Time) (map[int32]*domain.UserProfile, error)
}

// ScoreStage enriches the eligible corpus.
type ScoreStage interface {
	Run(ctx context.Context, jobs []*domain.Job,
		popularity map[string]domain.EmployerPopularity, now time.Time) (map[int64]domain.JobEnrichment, error)
}

// JobSource loads the eligible corpus for matching.
type JobSource interface {
	LoadEligible(ctx context.Context, now time.Time, feeMin int, validTypes []int) ([]*domain.Job, error)
}

// UserSource lists today's recipients.
type UserSource interface {
	ActiveSubscribedUsers(ctx context.Context) ([]domain.User, error)
}

// MatchSink receives the matching stage's bulk writes.
type MatchSink interface {
	ClearBatch(ctx context.Context, batchDate time.Time) error
	InsertMappings(ctx context.Context, rows []domain.UserJobMapping) error
	InsertPicks(ctx context.Context, rows []domain.JobPick) error
}

// Ledger records batch lifecycle in import_batches.
type Ledger interface {
	Start(ctx context.Context, batchID string, batchDate time.Time) error
	Finish(ctx context.Context, batchID, status string, summary store.BatchSummary, runErr error) error
}

// Partitions ensures the batch's write partitions exist.
type Partitions interface {
	EnsureBatch(ctx context.Context, batchDate time.Time) error
}

// Cleanup purges aged data after a successful run.
type Cleanup interface {
	Run(ctx context.Context, now time.Time) error
}

// Locker serializes runs per batch date.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Deps wires the pipeline. Lock, Partitions, Ledger, Cleanup and
// QueueWriter may be nil in tests; stages may not.
type Deps struct {
	Cfg        *config.Config
	Cache      *masters.Cache
	Ingest     Ingestor
	Popularity PopularityStage
	Profiles   ProfileStage
	Scorer     ScoreStage
	Jobs       JobSource
	Users      UserSource
	Matches    MatchSink
	Queue      *queue.Writer
	Builder    *queue.Builder
	Ledger     Ledger
	Partitions Partitions
	Cleanup    Cleanup
	Lock       Locker
}

// Pipeline runs one batch end to end.
type Pipeline struct {
	deps      Deps
	batchID   string
	batchDate time.Time
}

// New creates a pipeline for one batch date.
func New(deps Deps, batchID string, batchDate time.Time) *Pipeline {
	return &Pipeline{deps: deps, batchID: batchID, batchDate: batchDate}
}

// Run executes the batch. The error's ExitCode tells the scheduler what
// happened; the ledger row and the batch_complete event carry the detail.
func (p *Pipeline) Run(ctx context.Context) error {
	cfg := p.deps.Cfg
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Deadlines.HardTotal)*time.Second)
	defer cancel()

	if p.deps.Lock != nil {
		ok, err := p.deps.Lock.Acquire(ctx)
		if err != nil {
			return &StageError{Stage: "lock", Code: ExitConfig, Err: err}
		}
		if !ok {
			return &StageError{Stage: "lock", Code: ExitConfig,
				Err: fmt.Errorf("batch %s already running", p.batchDate.Format("2006-01-02"))}
		}
		defer func() {
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer releaseCancel()
			if err := p.deps.Lock.Release(releaseCtx); err != nil {
				logger.Warn("batch lock release failed", "error", err.Error())
			}
		}()
	}

	if p.deps.Ledger != nil {
		if err := p.deps.Ledger.Start(ctx, p.batchID, p.batchDate); err != nil {
			return &StageError{Stage: "ledger", Code: ExitConfig, Err: err}
		}
	}

	summary, runErr := p.runStages(ctx)

	status := "completed"
	if runErr != nil {
		status = "failed"
		if errors.Is(runErr, context.DeadlineExceeded) {
			runErr = &StageError{Stage: "deadline", Code: ExitDeadline, Err: runErr}
			status = "deadline_exceeded"
		}
	}

	if p.deps.Ledger != nil {
		finishCtx, finishCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer finishCancel()
		if err := p.deps.Ledger.Finish(finishCtx, p.batchID, status, summary, runErr); err != nil {
			logger.Warn("batch ledger finish failed", "error", err.Error())
		}
	}

	logger.Info("batch_complete",
		"batch_id", p.batchID,
		"batch_date", p.batchDate.Format("2006-01-02"),
		"status", status,
		"duration_ms", time.Since(started).Milliseconds(),
		"users_processed", summary.UsersProcessed,
		"jobs_scored", summary.JobsScored,
		"picks_written", summary.PicksWritten,
		"queue_rows", summary.QueueRows,
		"low_inventory_users", summary.LowInventoryUsers,
		"skipped_users", summary.SkippedUsers,
	)

	if runErr == nil && p.deps.Cleanup != nil {
		if err := p.deps.Cleanup.Run(ctx, time.Now()); err != nil {
			logger.Warn("retention cleanup failed", "error", err.Error())
		}
	}
	return runErr
}

func (p *Pipeline) runStages(ctx context.Context) (store.BatchSummary, error) {
	cfg := p.deps.Cfg
	var summary store.BatchSummary
	now := time.Now()

	if p.deps.Partitions != nil {
		if err := p.deps.Partitions.EnsureBatch(ctx, p.batchDate); err != nil {
			return summary, &StageError{Stage: "partitions", Code: ExitConfig, Err: err}
		}
	}

	// Stage 1: ingest.
	ingestStart := time.Now()
	res, err := p.deps.Ingest.RunFile(ctx, cfg.Ingest.CSVPath)
	if res != nil {
		summary.JobsRead = res.Read
		summary.JobsAccepted = res.Accepted
		summary.JobsRejected = res.Rejected
	}
	if err != nil {
		return summary, &StageError{Stage: "ingest", Code: ExitIngest, Err: err}
	}
	p.warnSoftDeadline("ingest", ingestStart, cfg.Deadlines.Ingest)

	// Stage 2: popularity and profiles, independent of each other.
	var (
		wg         sync.WaitGroup
		popErr     error
		profErr    error
		popularity map[string]domain.EmployerPopularity
		profiles   map[int32]*domain.UserProfile
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		popularity, popErr = p.deps.Popularity.Run(ctx, now)
		p.warnSoftDeadline("popularity", start, cfg.Deadlines.Popularity)
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		profiles, profErr = p.deps.Profiles.Run(ctx, now)
		p.warnSoftDeadline("profile", start, cfg.Deadlines.Profile)
	}()
	wg.Wait()
	if popErr != nil {
		return summary, &StageError{Stage: "popularity", Code: ExitScoring, Err: popErr}
	}
	if profErr != nil {
		return summary, &StageError{Stage: "profile", Code: ExitScoring, Err: profErr}
	}

	// Stage 3: score the eligible corpus.
	scoreStart := time.Now()
	jobs, err := p.deps.Jobs.LoadEligible(ctx, now, cfg.Ingest.FeeMin, cfg.Ingest.ValidEmployment)
	if err != nil {
		return summary, &StageError{Stage: "scorer", Code: ExitScoring, Err: err}
	}
	enrichments, err := p.deps.Scorer.Run(ctx, jobs, popularity, now)
	if err != nil {
		return summary, &StageError{Stage: "scorer", Code: ExitScoring, Err: err}
	}
	summary.JobsScored = len(enrichments)
	p.warnSoftDeadline("scorer", scoreStart, cfg.Deadlines.Scorer)

	// Stage 4: match, allocate and enqueue.
	matchStart := time.Now()
	if err := p.match(ctx, jobs, enrichments, profiles, &summary, now); err != nil {
		return summary, &StageError{Stage: "match", Code: ExitScoring, Err: err}
	}
	p.warnSoftDeadline("match", matchStart, cfg.Deadlines.Match)

	return summary, nil
}

// matchResult is one worker's output for a user shard.
type matchResult struct {
	mappings  []domain.UserJobMapping
	picks     []domain.JobPick
	queueRows []*domain.QueueRow
	lowInv    int
	processed int
	skipped   int
}

// match shards users across workers, scores and allocates each, then bulk
// writes mappings, picks and queue rows. A panic while matching one user
// skips that user; it never takes the batch down.
func (p *Pipeline) match(ctx context.Context, jobs []*domain.Job,
	enrichments map[int64]domain.JobEnrichment,
	profiles map[int32]*domain.UserProfile,
	summary *store.BatchSummary, now time.Time) error {

	cfg := p.deps.Cfg

	users, err := p.deps.Users.ActiveSubscribedUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if p.deps.Matches != nil {
		if err := p.deps.Matches.ClearBatch(ctx, p.batchDate); err != nil {
			return fmt.Errorf("clear batch: %w", err)
		}
	}

	engine := matcher.NewEngine(jobs, enrichments, p.deps.Cache, matcher.Options{
		TopK:           cfg.Matching.TopK,
		JobWeight:      cfg.Matching.JobWeight,
		AffinityWeight: cfg.Matching.AffinityWeight,
		RecentPenalty:  cfg.Matching.RecentPenalty,
	})
	// Area salary context for the high-income widening step.
	areas := scorer.BuildAreaStats(jobs, cfg.Scoring.AreaMinJobs)
	alloc := allocator.New(p.deps.Cache, areas, allocator.Options{
		Quotas: allocator.Quotas{
			Editorial:  cfg.Sections.Editorial,
			Top5:       cfg.Sections.Top5,
			Regional:   cfg.Sections.Regional,
			Nearby:     cfg.Sections.Nearby,
			HighIncome: cfg.Sections.HighIncome,
			New:        cfg.Sections.New,
		},
		Loc: allocator.LocWeights{
			SameCity: cfg.Sections.LocSameCity,
			Adjacent: cfg.Sections.LocAdjacent,
			SamePref: cfg.Sections.LocSamePref,
			Other:    cfg.Sections.LocOther,
		},
		NewWindowDays: cfg.Sections.NewWindowDays,
	})

	workers := cfg.Matching.Workers
	shards := make([][]domain.User, workers)
	for _, u := range users {
		w := int(uint32(u.UserID)) % workers
		shards[w] = append(shards[w], u)
	}

	results := make([]matchResult, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		if len(shards[w]) == 0 {
			continue
		}
		wg.Add(1)
		go func(w int, shard []domain.User) {
			defer wg.Done()
			r := &results[w]
			for i := range shard {
				if ctx.Err() != nil {
					return
				}
				p.matchUser(&shard[i], profiles, engine, alloc, now, r)
			}
		}(w, shards[w])
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		allMappings []domain.UserJobMapping
		allPicks    []domain.JobPick
		allRows     []*domain.QueueRow
	)
	for _, r := range results {
		allMappings = append(allMappings, r.mappings...)
		allPicks = append(allPicks, r.picks...)
		allRows = append(allRows, r.queueRows...)
		summary.UsersProcessed += r.processed
		summary.LowInventoryUsers += r.lowInv
		summary.SkippedUsers += r.skipped
	}

	if p.deps.Matches != nil {
		if err := p.deps.Matches.InsertMappings(ctx, allMappings); err != nil {
			return fmt.Errorf("write mappings: %w", err)
		}
		if err := p.deps.Matches.InsertPicks(ctx, allPicks); err != nil {
			return fmt.Errorf("write picks: %w", err)
		}
	}
	summary.PicksWritten = len(allPicks)

	if p.deps.Queue != nil {
		n, err := p.deps.Queue.Write(ctx, allRows)
		if err != nil {
			return fmt.Errorf("write queue: %w", err)
		}
		summary.QueueRows = n
	} else {
		summary.QueueRows = len(allRows)
	}
	return nil
}

// matchUser handles one user end to end. recover keeps a corrupt profile
// or candidate from failing the whole batch; the user is skipped and gets
// no queue row.
func (p *Pipeline) matchUser(user *domain.User, profiles map[int32]*domain.UserProfile,
	engine *matcher.Engine, alloc *allocator.Allocator, now time.Time, r *matchResult) {

	defer func() {
		if rec := recover(); rec != nil {
			r.skipped++
			logger.Error("user matching failed, skipped",
				"user_id", user.UserID, "panic", fmt.Sprintf("%v", rec))
		}
	}()

	profile := profiles[user.UserID]
	if profile == nil {
		profile = &domain.UserProfile{UserID: user.UserID, RecentEmployers: map[string]bool{}}
	}

	all := engine.ScoreAll(profile)
	topK := all
	if k := p.deps.Cfg.Matching.TopK; len(topK) > k {
		topK = topK[:k]
	}

	res := alloc.Allocate(user, profile, topK, all, now, p.batchDate)

	// Nothing is recorded until allocation succeeds: a user skipped by the
	// recover above leaves no mappings, picks or queue row behind.
	r.mappings = append(r.mappings, matcher.Mappings(user.UserID, topK, p.batchDate)...)
	r.picks = append(r.picks, res.Picks...)
	if res.LowInventory {
		r.lowInv++
	}
	r.processed++

	if p.deps.Builder != nil {
		if row, ok := p.deps.Builder.Row(user, res, p.batchDate, now); ok {
			r.queueRows = append(r.queueRows, row)
		}
	}
}

func (p *Pipeline) warnSoftDeadline(stage string, started time.Time, softSeconds int) {
	if softSeconds <= 0 {
		return
	}
	elapsed := time.Since(started)
	if elapsed > time.Duration(softSeconds)*time.Second {
		logger.Warn("stage soft deadline exceeded",
			"stage", stage,
			"elapsed_ms", elapsed.Milliseconds(),
			"soft_deadline_s", softSeconds)
	}
}
