package scorer

import (
	"strconv"
	"strings"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/masters"
)

// Field weights for keyword matches. A keyword hitting the title is worth
// five times one hitting the hours text.
const (
	seoWeightTitle    = 1.5
	seoWeightCompany  = 1.5
	seoWeightSalary   = 0.3
	seoWeightHours    = 0.3
	seoWeightStation  = 0.5
	seoWeightFeatures = 0.8
)

// Search-volume tiers and their base points.
const (
	seoTierHighVolume = 10000
	seoTierMidVolume  = 5000
	seoTierLowVolume  = 1000
)

// seoBase maps a keyword's search volume to its base points.
func seoBase(searchVolume int) float64 {
	switch {
	case searchVolume >= seoTierHighVolume:
		return 15
	case searchVolume >= seoTierMidVolume:
		return 10
	case searchVolume >= seoTierLowVolume:
		return 7
	default:
		return 3
	}
}

// SEOScorer scores a job's text surface against the imported keyword table.
type SEOScorer struct {
	keywords     []masters.Keyword
	keywordLimit int
}

// NewSEOScorer builds a scorer over the cache's keywords, which arrive
// ordered by search volume descending. keywordLimit caps how many distinct
// matched keywords contribute (default 7).
func NewSEOScorer(cache *masters.Cache, keywordLimit int) *SEOScorer {
	if keywordLimit <= 0 {
		keywordLimit = 7
	}
	return &SEOScorer{keywords: cache.Keywords(), keywordLimit: keywordLimit}
}

type seoField struct {
	text   string
	weight float64
}

// Score sums base·field_weight over the first keywordLimit matched distinct
// keywords, clamped to [0, 100]. Keywords are considered highest search
// volume first, so the cap keeps the strongest signals.
func (s *SEOScorer) Score(j *domain.Job) float64 {
	fields := []seoField{
		{j.ApplicationName, seoWeightTitle},
		{j.CompanyName, seoWeightCompany},
		{salaryText(j), seoWeightSalary},
		{j.Hours, seoWeightHours},
		{j.StationName, seoWeightStation},
		{strings.Join(j.FeatureCodes, " "), seoWeightFeatures},
	}

	total := 0.0
	matched := 0
	for _, kw := range s.keywords {
		if matched >= s.keywordLimit {
			break
		}
		if kw.Keyword == "" {
			continue
		}
		base := seoBase(kw.SearchVolume)
		hit := false
		for _, f := range fields {
			if f.text != "" && strings.Contains(f.text, kw.Keyword) {
				total += base * f.weight
				hit = true
			}
		}
		if hit {
			matched++
		}
	}

	if total > 100 {
		return 100
	}
	return total
}

// salaryText renders the salary bounds for keyword matching, mirroring how
// the posting displays them.
func salaryText(j *domain.Job) string {
	if j.MinSalary == nil || j.MaxSalary == nil {
		return ""
	}
	var unit string
	switch j.SalaryType {
	case domain.SalaryHourly:
		unit = "時給"
	case domain.SalaryDaily:
		unit = "日給"
	case domain.SalaryMonthly:
		unit = "月給"
	}
	return unit + strconv.Itoa(*j.MinSalary) + "円〜" + strconv.Itoa(*j.MaxSalary) + "円"
}
