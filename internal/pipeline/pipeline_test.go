package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmail/internal/allocator"
	"github.com/ignite/jobmail/internal/config"
	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/ingest"
	"github.com/ignite/jobmail/internal/masters"
	"github.com/ignite/jobmail/internal/matcher"
	"github.com/ignite/jobmail/internal/queue"
	"github.com/ignite/jobmail/internal/store"
)

var batchDate = time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

type fakeIngest struct {
	res *ingest.Result
	err error
}

func (f *fakeIngest) RunFile(ctx context.Context, path string) (*ingest.Result, error) {
	return f.res, f.err
}

// slowIngest never finishes on its own; it returns only when the run's
// deadline cancels the context.
type slowIngest struct{}

func (s *slowIngest) RunFile(ctx context.Context, path string) (*ingest.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakePopularity struct{ err error }

func (f *fakePopularity) Run(ctx context.Context, now time.Time) (map[string]domain.EmployerPopularity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]domain.EmployerPopularity{"E1": {EndclCd: "E1", PopularityScore: 60}}, nil
}

type fakeProfiles struct{ profiles map[int32]*domain.UserProfile }

func (f *fakeProfiles) Run(ctx context.Context, now time.Time) (map[int32]*domain.UserProfile, error) {
	return f.profiles, nil
}

type fakeScorer struct{}

func (f *fakeScorer) Run(ctx context.Context, jobs []*domain.Job,
	popularity map[string]domain.EmployerPopularity, now time.Time) (map[int64]domain.JobEnrichment, error) {
	out := make(map[int64]domain.JobEnrichment, len(jobs))
	for _, j := range jobs {
		out[j.JobID] = domain.JobEnrichment{JobID: j.JobID, CompositeScore: float64(j.JobID % 90), Applications30d: 2}
	}
	return out, nil
}

type fakeJobs struct{ jobs []*domain.Job }

func (f *fakeJobs) LoadEligible(ctx context.Context, now time.Time, feeMin int, validTypes []int) ([]*domain.Job, error) {
	return f.jobs, nil
}

type fakeUsers struct{ users []domain.User }

func (f *fakeUsers) ActiveSubscribedUsers(ctx context.Context) ([]domain.User, error) {
	return f.users, nil
}

type fakeMatchSink struct {
	cleared  bool
	mappings []domain.UserJobMapping
	picks    []domain.JobPick
}

func (f *fakeMatchSink) ClearBatch(ctx context.Context, d time.Time) error {
	f.cleared = true
	return nil
}
func (f *fakeMatchSink) InsertMappings(ctx context.Context, rows []domain.UserJobMapping) error {
	f.mappings = append(f.mappings, rows...)
	return nil
}
func (f *fakeMatchSink) InsertPicks(ctx context.Context, rows []domain.JobPick) error {
	f.picks = append(f.picks, rows...)
	return nil
}

type fakeQueueStore struct{ rows []*domain.QueueRow }

func (f *fakeQueueStore) UpsertRows(ctx context.Context, rows []*domain.QueueRow) (int, error) {
	f.rows = append(f.rows, rows...)
	return len(rows), nil
}

type fakeLedger struct {
	started bool
	status  string
	summary store.BatchSummary
}

func (f *fakeLedger) Start(ctx context.Context, batchID string, d time.Time) error {
	f.started = true
	return nil
}
func (f *fakeLedger) Finish(ctx context.Context, batchID, status string, summary store.BatchSummary, runErr error) error {
	f.status = status
	f.summary = summary
	return nil
}

type fakeLock struct {
	held     bool
	released bool
}

func (f *fakeLock) Acquire(ctx context.Context) (bool, error) { return !f.held, nil }
func (f *fakeLock) Release(ctx context.Context) error {
	f.released = true
	return nil
}

func pipelineCache() *masters.Cache {
	return masters.NewStatic(
		[]masters.Prefecture{{Code: "13", Region: "関東"}},
		[]masters.City{{Code: "13101", PrefCd: "13", AdjacentCityCodes: []string{"13102"}}, {Code: "13102", PrefCd: "13"}},
		[]masters.Occupation{{Code: "100"}},
		[]masters.EmploymentType{{Code: 1}},
		[]masters.Feature{{Code: "D01"}},
		nil,
	)
}

func corpus(n int) []*domain.Job {
	out := make([]*domain.Job, n)
	for i := range out {
		min, max := 1200, 1500
		out[i] = &domain.Job{
			JobID: int64(i + 1), EndclCd: "E1", PrefCd: "13", CityCd: "13101",
			MinSalary: &min, MaxSalary: &max, SalaryType: domain.SalaryHourly,
			Fee: 2000, EmploymentType: 1, IsActive: true,
			PostingDate:   batchDate.AddDate(0, 0, -(i % 10)),
			HasHighIncome: i%3 == 0,
		}
	}
	return out
}

func testDeps(t *testing.T) (Deps, *fakeMatchSink, *fakeQueueStore, *fakeLedger) {
	t.Helper()
	cfg := config.Default()
	cfg.Matching.Workers = 2

	builder, err := queue.NewBuilder(cfg.Queue, "batch-1", "1.0.0")
	require.NoError(t, err)

	sink := &fakeMatchSink{}
	qs := &fakeQueueStore{}
	ledger := &fakeLedger{}

	users := []domain.User{
		{UserID: 1, ContactRef: "u1@example.com", PrefCd: "13", CityCd: "13101", IsActive: true, IsSubscribed: true},
		{UserID: 2, ContactRef: "u2@example.com", PrefCd: "13", CityCd: "13102", IsActive: true, IsSubscribed: true},
	}

	return Deps{
		Cfg:        cfg,
		Cache:      pipelineCache(),
		Ingest:     &fakeIngest{res: &ingest.Result{Read: 100, Accepted: 95, Rejected: 5}},
		Popularity: &fakePopularity{},
		Profiles:   &fakeProfiles{profiles: map[int32]*domain.UserProfile{}},
		Scorer:     &fakeScorer{},
		Jobs:       &fakeJobs{jobs: corpus(60)},
		Users:      &fakeUsers{users: users},
		Matches:    sink,
		Queue:      queue.NewWriter(qs, 0),
		Builder:    builder,
		Ledger:     ledger,
	}, sink, qs, ledger
}

func TestRunHappyPath(t *testing.T) {
	deps, sink, qs, ledger := testDeps(t)
	p := New(deps, "batch-1", batchDate)

	err := p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, ledger.started)
	assert.Equal(t, "completed", ledger.status)
	assert.Equal(t, 2, ledger.summary.UsersProcessed)
	assert.Equal(t, int64(100), ledger.summary.JobsRead)
	assert.Equal(t, 60, ledger.summary.JobsScored)
	assert.Equal(t, 80, ledger.summary.PicksWritten, "40 picks per user")
	assert.Equal(t, 2, ledger.summary.QueueRows)

	assert.True(t, sink.cleared)
	assert.Len(t, sink.mappings, 120, "top-K candidates per user, capped by corpus")
	require.Len(t, qs.rows, 2)
	assert.Equal(t, 40, qs.rows[0].PickCount)
}

func TestRunLockConflict(t *testing.T) {
	deps, _, _, ledger := testDeps(t)
	deps.Lock = &fakeLock{held: true}
	p := New(deps, "batch-1", batchDate)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))
	assert.False(t, ledger.started, "a held lock stops the run before the ledger")
}

func TestRunReleasesLock(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	lock := &fakeLock{}
	deps.Lock = lock
	p := New(deps, "batch-1", batchDate)

	require.NoError(t, p.Run(context.Background()))
	assert.True(t, lock.released)
}

func TestRunIngestFailure(t *testing.T) {
	deps, _, _, ledger := testDeps(t)
	deps.Ingest = &fakeIngest{
		res: &ingest.Result{Read: 10, Rejected: 10},
		err: errors.New("csv truncated"),
	}
	p := New(deps, "batch-1", batchDate)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitIngest, ExitCode(err))
	assert.Equal(t, "failed", ledger.status)
	assert.Equal(t, int64(10), ledger.summary.JobsRead, "partial counts still reach the ledger")
}

func TestRunScoringFailure(t *testing.T) {
	deps, _, _, ledger := testDeps(t)
	deps.Popularity = &fakePopularity{err: errors.New("scan failed")}
	p := New(deps, "batch-1", batchDate)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitScoring, ExitCode(err))
	assert.Equal(t, "failed", ledger.status)
}

func TestRunHardDeadlineAborts(t *testing.T) {
	deps, sink, qs, ledger := testDeps(t)
	deps.Cfg.Deadlines.HardTotal = 1
	deps.Ingest = &slowIngest{}
	p := New(deps, "batch-1", batchDate)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitDeadline, ExitCode(err))
	assert.Equal(t, "deadline_exceeded", ledger.status)
	assert.Empty(t, qs.rows, "no queue rows after a hard deadline abort")
	assert.Empty(t, sink.picks)
}

func TestSkippedUserWritesNothing(t *testing.T) {
	deps, _, _, _ := testDeps(t)
	p := New(deps, "batch-1", batchDate)

	engine := matcher.NewEngine(nil, nil, deps.Cache, matcher.Options{TopK: 10})
	// A nil master cache makes allocation blow up; the recovery path must
	// leave no mappings, picks or queue row behind for that user.
	alloc := allocator.New(nil, nil, allocator.Options{Quotas: allocator.Quotas{Top5: 5}})

	user := domain.User{UserID: 7, ContactRef: "u7@example.com", IsActive: true, IsSubscribed: true}
	var r matchResult
	p.matchUser(&user, map[int32]*domain.UserProfile{}, engine, alloc, time.Now(), &r)

	assert.Equal(t, 1, r.skipped)
	assert.Zero(t, r.processed)
	assert.Empty(t, r.mappings)
	assert.Empty(t, r.picks)
	assert.Empty(t, r.queueRows)
}

func TestExitCodeMapping(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitIngest, ExitCode(&StageError{Stage: "ingest", Code: ExitIngest, Err: errors.New("x")}))
	assert.Equal(t, ExitDeadline, ExitCode(context.DeadlineExceeded))
	assert.Equal(t, ExitScoring, ExitCode(errors.New("unclassified")))
}
