// Package popularity computes per-employer engagement aggregates over the
// rolling popularity window. The output map keys employer codes (endcl_cd)
// and feeds the scorer's basic score.
package popularity

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/pkg/logger"
)

// ActionStore supplies the raw engagement counts. The single scan groups by
// employer with 7d/30d/window buckets; the SQL lives in internal/store.
type ActionStore interface {
	EmployerEngagement(ctx context.Context, since time.Time, now time.Time) ([]domain.EmployerPopularity, error)
	UpsertEmployerPopularity(ctx context.Context, rows []domain.EmployerPopularity) error
}

// Options are the popularity tunables. The shape of the score — a
// saturating blend of quality (application rate) and volume — is the
// contract; the numbers are configuration.
type Options struct {
	WindowDays int     // rolling window, default 360
	RateWeight float64 // blend weight on the rate term, default 0.6
	RateCap    float64 // rate saturation point, default 0.5
	VolumeCap  int     // application volume saturation point, default 500
}

// Aggregator walks the action history once and produces the popularity map.
type Aggregator struct {
	store ActionStore
	opts  Options
}

// NewAggregator creates an aggregator with defaults filled in.
func NewAggregator(store ActionStore, opts Options) *Aggregator {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 360
	}
	if opts.RateWeight <= 0 {
		opts.RateWeight = 0.6
	}
	if opts.RateCap <= 0 {
		opts.RateCap = 0.5
	}
	if opts.VolumeCap <= 0 {
		opts.VolumeCap = 500
	}
	return &Aggregator{store: store, opts: opts}
}

// Run computes and persists the popularity aggregates, returning them keyed
// by employer code for the scorer.
func (a *Aggregator) Run(ctx context.Context, now time.Time) (map[string]domain.EmployerPopularity, error) {
	started := time.Now()
	since := now.AddDate(0, 0, -a.opts.WindowDays)

	rows, err := a.store.EmployerEngagement(ctx, since, now)
	if err != nil {
		return nil, fmt.Errorf("employer engagement scan: %w", err)
	}

	out := make(map[string]domain.EmployerPopularity, len(rows))
	for i := range rows {
		r := &rows[i]
		r.ApplicationRate = Rate(r.Applications360d, r.Clicks360d)
		r.PopularityScore = a.Score(r.ApplicationRate, r.Applications360d)
		out[r.EndclCd] = *r
	}

	if err := a.store.UpsertEmployerPopularity(ctx, rows); err != nil {
		return nil, fmt.Errorf("persist employer popularity: %w", err)
	}

	logger.Stage("popularity", started, time.Now(), len(rows), len(out),
		"window_days", a.opts.WindowDays)
	return out, nil
}

// Rate is applications over clicks, with a floor of one click so employers
// with applications but no recorded clicks still rate.
func Rate(applications, clicks int) float64 {
	denom := clicks
	if denom < 1 {
		denom = 1
	}
	return float64(applications) / float64(denom)
}

// Score blends application quality and volume into [0, 100]. The rate term
// saturates at RateCap, the volume term at VolumeCap applications.
func (a *Aggregator) Score(rate float64, applications int) float64 {
	r := rate
	if r < 0 {
		r = 0
	}
	if r > a.opts.RateCap {
		r = a.opts.RateCap
	}
	quality := 100 * a.opts.RateWeight * (r / a.opts.RateCap)

	v := float64(applications) / float64(a.opts.VolumeCap)
	if v > 1 {
		v = 1
	}
	volume := 100 * (1 - a.opts.RateWeight) * v

	return quality + volume
}
