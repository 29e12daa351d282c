// Package profile derives per-user preference state from action history:
// weighted frequency maps, salary statistics and the recent applied-employer
// set the matcher penalizes against.
package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/pkg/logger"
)

// Action weights for the frequency maps. Applications dominate; clicks and
// email clicks contribute a light signal. Views carry no preference weight.
const (
	weightApplication = 3
	weightClick       = 1
	weightEmailClick  = 1
)

// ActionDetail is one action joined with the job attributes the frequency
// maps count. Job fields are empty when the action carries no job.
type ActionDetail struct {
	UserID         int32
	ActionType     domain.ActionType
	ActionAt       time.Time
	EndclCd        string
	PrefCd         string
	CityCd         string
	OccupationCd1  string
	EmploymentType int
	MinSalary      *int
	MaxSalary      *int
}

// Source supplies the users to profile and their joined action history.
type Source interface {
	ActiveSubscribedUsers(ctx context.Context) ([]domain.User, error)
	ActionsForUsers(ctx context.Context, userIDs []int32, since time.Time) ([]ActionDetail, error)
}

// Sink persists the derived profiles.
type Sink interface {
	SaveProfiles(ctx context.Context, profiles []*domain.UserProfile) error
}

// Options control the profile build.
type Options struct {
	WindowDays       int // action lookback for frequencies, default 180
	RecentWindowDays int // applied-employer window, default 14
	Workers          int // shard count, default 8
	FetchBatch       int // users per ActionsForUsers call, default 500
}

// Builder shards users across workers and derives one profile per user.
// Each user is handled entirely by one worker; no cross-user state.
type Builder struct {
	source Source
	sink   Sink
	opts   Options
}

// NewBuilder creates a profile builder with defaults filled in.
func NewBuilder(source Source, sink Sink, opts Options) *Builder {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 180
	}
	if opts.RecentWindowDays <= 0 {
		opts.RecentWindowDays = 14
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.FetchBatch <= 0 {
		opts.FetchBatch = 500
	}
	return &Builder{source: source, sink: sink, opts: opts}
}

// Run builds and persists profiles for every active, subscribed user and
// returns them keyed by user ID. Users without actions get an empty profile;
// the matcher substitutes the neutral affinity for those.
func (b *Builder) Run(ctx context.Context, now time.Time) (map[int32]*domain.UserProfile, error) {
	started := time.Now()

	users, err := b.source.ActiveSubscribedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	shards := make([][]domain.User, b.opts.Workers)
	for _, u := range users {
		w := int(uint32(u.UserID)) % b.opts.Workers
		shards[w] = append(shards[w], u)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		profiles = make(map[int32]*domain.UserProfile, len(users))
		firstErr error
	)
	for w := 0; w < b.opts.Workers; w++ {
		if len(shards[w]) == 0 {
			continue
		}
		wg.Add(1)
		go func(shard []domain.User) {
			defer wg.Done()
			built, err := b.buildShard(ctx, shard, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			for id, p := range built {
				profiles[id] = p
			}
		}(shards[w])
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	flat := make([]*domain.UserProfile, 0, len(profiles))
	for _, p := range profiles {
		flat = append(flat, p)
	}
	if err := b.sink.SaveProfiles(ctx, flat); err != nil {
		return nil, fmt.Errorf("save profiles: %w", err)
	}

	logger.Stage("profile", started, time.Now(), len(users), len(profiles))
	return profiles, nil
}

// acc carries the in-flight salary sums that do not belong on the final
// profile shape.
type acc struct {
	profile   *domain.UserProfile
	salarySum float64
	salaryN   int
}

func (b *Builder) buildShard(ctx context.Context, users []domain.User, now time.Time) (map[int32]*domain.UserProfile, error) {
	since := now.AddDate(0, 0, -b.opts.WindowDays)
	accs := make(map[int32]*acc, len(users))

	for start := 0; start < len(users); start += b.opts.FetchBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + b.opts.FetchBatch
		if end > len(users) {
			end = len(users)
		}
		batch := users[start:end]

		ids := make([]int32, len(batch))
		for i, u := range batch {
			ids[i] = u.UserID
			accs[u.UserID] = &acc{profile: newEmptyProfile(u.UserID)}
		}

		actions, err := b.source.ActionsForUsers(ctx, ids, since)
		if err != nil {
			return nil, fmt.Errorf("actions for %d users: %w", len(ids), err)
		}
		for i := range actions {
			if a, ok := accs[actions[i].UserID]; ok {
				b.apply(a, &actions[i], now)
			}
		}
	}

	out := make(map[int32]*domain.UserProfile, len(accs))
	for id, a := range accs {
		if a.salaryN > 0 {
			a.profile.Salary.Avg = a.salarySum / float64(a.salaryN)
		}
		out[id] = a.profile
	}
	return out, nil
}

func newEmptyProfile(userID int32) *domain.UserProfile {
	return &domain.UserProfile{
		UserID:          userID,
		PrefFreq:        domain.FreqMap{},
		CityFreq:        domain.FreqMap{},
		OccupationFreq:  domain.FreqMap{},
		EmploymentFreq:  domain.FreqMap{},
		EmployerFreq:    domain.FreqMap{},
		RecentEmployers: map[string]bool{},
	}
}

func (b *Builder) apply(ac *acc, a *ActionDetail, now time.Time) {
	p := ac.profile
	weight := 0
	switch {
	case a.ActionType.IsApplication():
		weight = weightApplication
		p.ApplicationCount++
		if p.LastApplication == nil || a.ActionAt.After(*p.LastApplication) {
			t := a.ActionAt
			p.LastApplication = &t
		}
		if a.EndclCd != "" && !a.ActionAt.Before(now.AddDate(0, 0, -b.opts.RecentWindowDays)) {
			p.RecentEmployers[a.EndclCd] = true
		}
		// Salary stats come from applied jobs only.
		if a.MinSalary != nil && a.MaxSalary != nil {
			mid := float64(*a.MinSalary+*a.MaxSalary) / 2
			if p.Salary == nil {
				p.Salary = &domain.SalaryStats{Min: mid, Max: mid}
			}
			ac.salarySum += mid
			ac.salaryN++
			if mid < p.Salary.Min {
				p.Salary.Min = mid
			}
			if mid > p.Salary.Max {
				p.Salary.Max = mid
			}
		}
	case a.ActionType == domain.ActionClick:
		weight = weightClick
		p.ClickCount++
	case a.ActionType == domain.ActionEmailClick:
		weight = weightEmailClick
		p.ClickCount++
	case a.ActionType == domain.ActionView:
		p.ViewCount++
	}
	if weight == 0 {
		return
	}

	if a.PrefCd != "" {
		p.PrefFreq[a.PrefCd] += weight
	}
	if a.CityCd != "" {
		p.CityFreq[a.CityCd] += weight
	}
	if a.OccupationCd1 != "" {
		p.OccupationFreq[a.OccupationCd1] += weight
	}
	if a.EmploymentType != 0 {
		p.EmploymentFreq[fmt.Sprintf("%d", a.EmploymentType)] += weight
	}
	if a.EndclCd != "" {
		p.EmployerFreq[a.EndclCd] += weight
	}
}
