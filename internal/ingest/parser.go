package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/masters"
)

// Rejection reason codes. These appear verbatim in the import ledger and
// the stage event, so renaming one is a reporting change.
const (
	ReasonBadRow         = "bad_row"
	ReasonSalaryBounds   = "salary_bounds"
	ReasonFeeTooLow      = "fee_too_low"
	ReasonEmploymentType = "employment_type"
	ReasonExpired        = "expired"
	ReasonBadPref        = "bad_pref"
	ReasonBadCity        = "bad_city"
)

// RowError is a row-level rejection: the row is dropped, the chunk goes on.
type RowError struct {
	Reason string
	Detail string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row rejected (%s): %s", e.Reason, e.Detail)
}

var errMissingColumn = errors.New("required column missing")

// requiredColumns must all be present in the CSV header. Unknown extras are
// ignored.
var requiredColumns = []string{
	"job_id", "endcl_cd", "company_name", "application_name",
	"pref_cd", "city_cd", "min_salary", "max_salary", "salary_type",
	"fee", "occupation_cd1", "employment_type_cd", "feature_codes",
	"posting_date",
}

// header maps CSV column names to their indexes.
type header map[string]int

func parseHeader(record []string) (header, error) {
	h := make(header, len(record))
	for i, name := range record {
		h[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := h[col]; !ok {
			return nil, fmt.Errorf("%w: %s", errMissingColumn, col)
		}
	}
	return h, nil
}

func (h header) get(record []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// Parser converts validated CSV records into domain jobs.
type Parser struct {
	cache      *masters.Cache
	feeMin     int
	validTypes map[int]bool
	now        time.Time
}

// NewParser builds a row parser bound to the run's master cache and
// validation thresholds.
func NewParser(cache *masters.Cache, feeMin int, validTypes map[int]bool, now time.Time) *Parser {
	return &Parser{cache: cache, feeMin: feeMin, validTypes: validTypes, now: now}
}

// ParseRow converts one CSV record into a Job. A *RowError means the row is
// rejected but the chunk continues; any other error is malformed input.
func (p *Parser) ParseRow(h header, record []string) (*domain.Job, error) {
	jobID, err := strconv.ParseInt(h.get(record, "job_id"), 10, 64)
	if err != nil {
		return nil, &RowError{Reason: ReasonBadRow, Detail: "job_id not numeric"}
	}

	endclCd := h.get(record, "endcl_cd")
	if endclCd == "" {
		return nil, &RowError{Reason: ReasonBadRow, Detail: fmt.Sprintf("job %d: empty endcl_cd", jobID)}
	}

	prefCd := h.get(record, "pref_cd")
	if _, ok := p.cache.Prefecture(prefCd); !ok {
		return nil, &RowError{Reason: ReasonBadPref, Detail: fmt.Sprintf("job %d: pref %q", jobID, prefCd)}
	}
	cityCd := h.get(record, "city_cd")
	if _, ok := p.cache.City(cityCd); !ok {
		return nil, &RowError{Reason: ReasonBadCity, Detail: fmt.Sprintf("job %d: city %q", jobID, cityCd)}
	}

	fee, err := strconv.Atoi(h.get(record, "fee"))
	if err != nil {
		return nil, &RowError{Reason: ReasonBadRow, Detail: fmt.Sprintf("job %d: fee not numeric", jobID)}
	}
	if fee <= p.feeMin {
		return nil, &RowError{Reason: ReasonFeeTooLow, Detail: fmt.Sprintf("job %d: fee %d", jobID, fee)}
	}

	empType, err := strconv.Atoi(h.get(record, "employment_type_cd"))
	if err != nil || !p.validTypes[empType] {
		return nil, &RowError{Reason: ReasonEmploymentType, Detail: fmt.Sprintf("job %d: employment_type_cd %q", jobID, h.get(record, "employment_type_cd"))}
	}

	minSalary, maxSalary, salaryType, err := parseSalary(
		h.get(record, "min_salary"), h.get(record, "max_salary"), h.get(record, "salary_type"))
	if err != nil {
		return nil, &RowError{Reason: ReasonSalaryBounds, Detail: fmt.Sprintf("job %d: %v", jobID, err)}
	}

	postingDate, err := parseDate(h.get(record, "posting_date"))
	if err != nil {
		return nil, &RowError{Reason: ReasonBadRow, Detail: fmt.Sprintf("job %d: posting_date %q", jobID, h.get(record, "posting_date"))}
	}

	var endAt *time.Time
	if raw := h.get(record, "end_at"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return nil, &RowError{Reason: ReasonBadRow, Detail: fmt.Sprintf("job %d: end_at %q", jobID, raw)}
		}
		if !t.After(p.now) {
			return nil, &RowError{Reason: ReasonExpired, Detail: fmt.Sprintf("job %d: ended %s", jobID, t.Format("2006-01-02"))}
		}
		endAt = &t
	}

	features := splitFeatureCodes(h.get(record, "feature_codes"))

	job := &domain.Job{
		JobID:           jobID,
		EndclCd:         endclCd,
		CompanyName:     h.get(record, "company_name"),
		ApplicationName: h.get(record, "application_name"),
		PrefCd:          prefCd,
		CityCd:          cityCd,
		StationName:     h.get(record, "station_name_eki"),
		MinSalary:       minSalary,
		MaxSalary:       maxSalary,
		SalaryType:      salaryType,
		Fee:             fee,
		Hours:           h.get(record, "hours"),
		WorkDays:        h.get(record, "work_days"),
		Description:     h.get(record, "description"),
		Benefits:        h.get(record, "benefits"),
		OccupationCd1:   h.get(record, "occupation_cd1"),
		OccupationCd2:   h.get(record, "occupation_cd2"),
		EmploymentType:  empType,
		FeatureCodes:    features,
		PostingDate:     postingDate,
		EndAt:           endAt,
		IsActive:        true,
	}
	deriveFlags(job)
	return job, nil
}

// deriveFlags materializes the boolean flags from feature codes and salary.
func deriveFlags(j *domain.Job) {
	for _, code := range j.FeatureCodes {
		switch code {
		case domain.FeatureDailyPayment:
			j.HasDailyPayment = true
		case domain.FeatureWeeklyPayment:
			j.HasWeeklyPayment = true
		case domain.FeatureNoExperience:
			j.HasNoExperience = true
		case domain.FeatureStudentWelcome:
			j.HasStudentWelcome = true
		case domain.FeatureRemoteWork:
			j.HasRemoteWork = true
		case domain.FeatureTransportation:
			j.HasTransportation = true
		}
	}
	j.HasHighIncome = domain.DeriveHighIncome(j.SalaryType, j.MinSalary)
}

var salaryReplacer = strings.NewReplacer("¥", "", "￥", "", ",", "", "円", "", " ", "", "　", "")

// parseSalary normalizes the salary triple. Values may arrive as plain
// integers or as formatted strings ("¥1,200"); suffixes on the raw value
// ("/時", "/日", "/月") override an absent salary_type column. If either
// bound is present both must be; max must not undercut min.
func parseSalary(rawMin, rawMax, rawType string) (*int, *int, domain.SalaryType, error) {
	salaryType := normalizeSalaryType(rawType)

	minVal, minType, err := parseSalaryValue(rawMin)
	if err != nil {
		return nil, nil, salaryType, err
	}
	maxVal, maxType, err := parseSalaryValue(rawMax)
	if err != nil {
		return nil, nil, salaryType, err
	}

	if salaryType == "" {
		if minType != "" {
			salaryType = minType
		} else if maxType != "" {
			salaryType = maxType
		}
	}

	if (minVal == nil) != (maxVal == nil) {
		return nil, nil, salaryType, errors.New("salary bounds must both be present or both absent")
	}
	if minVal != nil && *maxVal < *minVal {
		return nil, nil, salaryType, fmt.Errorf("max_salary %d < min_salary %d", *maxVal, *minVal)
	}
	if minVal != nil && salaryType == "" {
		salaryType = domain.SalaryHourly
	}
	return minVal, maxVal, salaryType, nil
}

func parseSalaryValue(raw string) (*int, domain.SalaryType, error) {
	if raw == "" {
		return nil, "", nil
	}

	var salaryType domain.SalaryType
	switch {
	case strings.HasSuffix(raw, "/時"), strings.HasSuffix(raw, "/h"):
		salaryType = domain.SalaryHourly
	case strings.HasSuffix(raw, "/日"):
		salaryType = domain.SalaryDaily
	case strings.HasSuffix(raw, "/月"):
		salaryType = domain.SalaryMonthly
	}
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		raw = raw[:i]
	}

	cleaned := salaryReplacer.Replace(raw)
	// A range in a single cell ("1200-1500", "1,200–1,500") contributes its
	// first bound; the other bound arrives in its own column.
	for _, sep := range []string{"–", "-", "~", "〜"} {
		if i := strings.Index(cleaned, sep); i > 0 {
			cleaned = cleaned[:i]
			break
		}
	}

	v, err := strconv.Atoi(cleaned)
	if err != nil {
		return nil, salaryType, fmt.Errorf("salary value %q not numeric", raw)
	}
	if v < 0 {
		return nil, salaryType, fmt.Errorf("salary value %d negative", v)
	}
	return &v, salaryType, nil
}

func normalizeSalaryType(raw string) domain.SalaryType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "hourly", "1", "時給":
		return domain.SalaryHourly
	case "daily", "2", "日給":
		return domain.SalaryDaily
	case "monthly", "3", "月給":
		return domain.SalaryMonthly
	}
	return ""
}

// splitFeatureCodes splits the comma-separated feature column, trimming
// whitespace and dropping empties.
func splitFeatureCodes(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}
