package popularity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmail/internal/domain"
)

type fakeActionStore struct {
	rows     []domain.EmployerPopularity
	upserted []domain.EmployerPopularity
	since    time.Time
}

func (f *fakeActionStore) EmployerEngagement(_ context.Context, since, _ time.Time) ([]domain.EmployerPopularity, error) {
	f.since = since
	return f.rows, nil
}

func (f *fakeActionStore) UpsertEmployerPopularity(_ context.Context, rows []domain.EmployerPopularity) error {
	f.upserted = rows
	return nil
}

func TestScoreShape(t *testing.T) {
	a := NewAggregator(nil, Options{})

	// Zero engagement scores zero.
	assert.InDelta(t, 0, a.Score(0, 0), 1e-9)

	// Rate saturates at the cap: 0.5 and anything above both max the
	// quality term.
	atCap := a.Score(0.5, 0)
	aboveCap := a.Score(0.9, 0)
	assert.InDelta(t, 60, atCap, 1e-9)
	assert.InDelta(t, atCap, aboveCap, 1e-9)

	// Volume saturates at 500 applications.
	assert.InDelta(t, 40, a.Score(0, 500), 1e-9)
	assert.InDelta(t, 40, a.Score(0, 5000), 1e-9)

	// Both terms maxed: 100.
	assert.InDelta(t, 100, a.Score(0.5, 500), 1e-9)

	// Midpoints are linear.
	assert.InDelta(t, 30, a.Score(0.25, 0), 1e-9)
	assert.InDelta(t, 20, a.Score(0, 250), 1e-9)
}

func TestRate(t *testing.T) {
	assert.InDelta(t, 0.25, Rate(25, 100), 1e-9)
	assert.InDelta(t, 0, Rate(0, 0), 1e-9)
	// Clicks floor at one: applications without clicks still rate.
	assert.InDelta(t, 5, Rate(5, 0), 1e-9)
}

func TestRunFillsScoresAndPersists(t *testing.T) {
	store := &fakeActionStore{rows: []domain.EmployerPopularity{
		{EndclCd: "E1", Applications360d: 100, Clicks360d: 400},
		{EndclCd: "E2", Applications360d: 0, Clicks360d: 50},
	}}
	a := NewAggregator(store, Options{})
	now := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	got, err := a.Run(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, got, 2)

	e1 := got["E1"]
	assert.InDelta(t, 0.25, e1.ApplicationRate, 1e-9)
	// quality 0.25/0.5*60=30, volume 100/500*40=8
	assert.InDelta(t, 38, e1.PopularityScore, 1e-9)

	e2 := got["E2"]
	assert.InDelta(t, 0, e2.ApplicationRate, 1e-9)
	assert.InDelta(t, 0, e2.PopularityScore, 1e-9)

	require.Len(t, store.upserted, 2)
	assert.InDelta(t, 38, store.upserted[0].PopularityScore, 1e-9)

	assert.Equal(t, now.AddDate(0, 0, -360), store.since)
}
