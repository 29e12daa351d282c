package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/masters"
	"github.com/ignite/jobmail/internal/pkg/logger"
)

// JobStore is the persistence surface the importer needs. A chunk is
// written in a single transaction; partial chunks never commit.
type JobStore interface {
	UpsertJobs(ctx context.Context, jobs []*domain.Job, batchDate time.Time) error
	DeactivateStale(ctx context.Context, batchDate time.Time, graceDays int) (int64, error)
}

// ProgressReporter receives row-count checkpoints during the run. The Redis
// implementation lives in internal/store; a nil reporter disables tracking.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, batchID string, rowsRead, accepted, rejected int64)
}

// Result summarizes one ingest run.
type Result struct {
	Read             int64
	Accepted         int64
	Rejected         int64
	Deactivated      int64
	RejectionReasons map[string]int64
}

// Reasons returns the rejection histogram as stable "reason=count" pairs
// for logging.
func (r *Result) Reasons() []string {
	keys := make([]string, 0, len(r.RejectionReasons))
	for k := range r.RejectionReasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%d", k, r.RejectionReasons[k]))
	}
	return out
}

// Options control one importer run.
type Options struct {
	ChunkSize      int
	Workers        int
	FeeMin         int
	ValidTypes     map[int]bool
	StaleGraceDays int
	RetryAttempts  int
	RetryBase      time.Duration
	BatchID        string
	BatchDate      time.Time
}

// Importer streams the daily job CSV through validation into the job store.
// One reader goroutine chunks the file onto a bounded channel; N workers
// parse, validate and upsert. Backpressure comes from the channel bound.
type Importer struct {
	store    JobStore
	cache    *masters.Cache
	progress ProgressReporter
	opts     Options

	read     atomic.Int64
	accepted atomic.Int64
	rejected atomic.Int64

	mu      sync.Mutex
	reasons map[string]int64
}

// NewImporter creates an importer. progress may be nil.
func NewImporter(store JobStore, cache *masters.Cache, progress ProgressReporter, opts Options) *Importer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	return &Importer{
		store:    store,
		cache:    cache,
		progress: progress,
		opts:     opts,
		reasons:  make(map[string]int64),
	}
}

type chunk struct {
	records [][]string
	seq     int
}

// RunFile opens path and runs the import against it.
func (im *Importer) RunFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()
	return im.Run(ctx, f)
}

// Run streams the CSV from r. The returned Result is valid even on error,
// reflecting whatever committed before the failure.
func (im *Importer) Run(ctx context.Context, r io.Reader) (*Result, error) {
	started := time.Now()

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headRecord, err := reader.Read()
	if err != nil {
		return im.result(), fmt.Errorf("read csv header: %w", err)
	}
	head, err := parseHeader(headRecord)
	if err != nil {
		return im.result(), fmt.Errorf("csv header: %w", err)
	}

	parser := NewParser(im.cache, im.opts.FeeMin, im.opts.ValidTypes, im.opts.BatchDate)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan chunk, 2*im.opts.Workers)
	errCh := make(chan error, im.opts.Workers+1)

	var wg sync.WaitGroup
	for w := 0; w < im.opts.Workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for c := range chunks {
				if err := im.processChunk(ctx, parser, head, c); err != nil {
					select {
					case errCh <- fmt.Errorf("worker %d chunk %d: %w", workerID, c.seq, err):
					default:
					}
					cancel()
					return
				}
			}
		}(w)
	}

	// Reader: stream fixed-size chunks, blocking on the bounded channel.
	go func() {
		defer close(chunks)
		seq := 0
		buf := make([][]string, 0, im.opts.ChunkSize)
		for {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				// Malformed line: count it as a rejected row, keep reading.
				im.read.Add(1)
				im.reject(ReasonBadRow)
				continue
			}
			im.read.Add(1)
			buf = append(buf, record)
			if len(buf) >= im.opts.ChunkSize {
				select {
				case chunks <- chunk{records: buf, seq: seq}:
				case <-ctx.Done():
					return
				}
				seq++
				buf = make([][]string, 0, im.opts.ChunkSize)
			}
		}
		if len(buf) > 0 {
			select {
			case chunks <- chunk{records: buf, seq: seq}:
			case <-ctx.Done():
			}
		}
	}()

	wg.Wait()

	select {
	case err := <-errCh:
		return im.result(), err
	default:
	}
	if err := ctx.Err(); err != nil {
		return im.result(), err
	}

	deactivated, err := im.store.DeactivateStale(ctx, im.opts.BatchDate, im.opts.StaleGraceDays)
	if err != nil {
		return im.result(), fmt.Errorf("deactivate stale jobs: %w", err)
	}

	res := im.result()
	res.Deactivated = deactivated
	logger.Stage("ingest", started, time.Now(), int(res.Read), int(res.Accepted),
		"rejections", res.Reasons(), "deactivated", deactivated, "batch_id", im.opts.BatchID)
	return res, nil
}

// processChunk parses and validates a chunk, then upserts the accepted jobs
// in one transaction, retrying transient store failures with exponential
// backoff.
func (im *Importer) processChunk(ctx context.Context, parser *Parser, head header, c chunk) error {
	jobs := make([]*domain.Job, 0, len(c.records))
	for _, record := range c.records {
		job, err := parser.ParseRow(head, record)
		if err != nil {
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				im.reject(rowErr.Reason)
				logger.Debug("row rejected", "reason", rowErr.Reason, "detail", rowErr.Detail)
				continue
			}
			return err
		}
		jobs = append(jobs, job)
	}

	if len(jobs) > 0 {
		if err := im.upsertWithRetry(ctx, jobs); err != nil {
			return err
		}
	}
	im.accepted.Add(int64(len(jobs)))

	if im.progress != nil {
		im.progress.ReportProgress(ctx, im.opts.BatchID,
			im.read.Load(), im.accepted.Load(), im.rejected.Load())
	}
	return nil
}

// upsertWithRetry writes one chunk, retrying transient failures
// RetryAttempts times beyond the initial try with backoffs of
// RetryBase·2^n (1s, 2s, 4s at the defaults).
func (im *Importer) upsertWithRetry(ctx context.Context, jobs []*domain.Job) error {
	var err error
	for attempt := 0; attempt <= im.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := im.opts.RetryBase << (attempt - 1)
			log.Printf("[Ingest] Chunk upsert retry %d/%d after %s: %v",
				attempt, im.opts.RetryAttempts, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = im.store.UpsertJobs(ctx, jobs, im.opts.BatchDate)
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("chunk upsert failed after %d attempts: %w", im.opts.RetryAttempts+1, err)
}

func (im *Importer) reject(reason string) {
	im.rejected.Add(1)
	im.mu.Lock()
	im.reasons[reason]++
	im.mu.Unlock()
}

func (im *Importer) result() *Result {
	im.mu.Lock()
	reasons := make(map[string]int64, len(im.reasons))
	for k, v := range im.reasons {
		reasons[k] = v
	}
	im.mu.Unlock()
	return &Result{
		Read:             im.read.Load(),
		Accepted:         im.accepted.Load(),
		Rejected:         im.rejected.Load(),
		RejectionReasons: reasons,
	}
}
