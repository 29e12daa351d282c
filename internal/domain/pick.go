package domain

import "time"

// Section enumerates the six themed blocks of the daily mail, in the fixed
// allocation priority order.
type Section string

const (
	SectionEditorial  Section = "editorial_picks"
	SectionTop5       Section = "top5"
	SectionRegional   Section = "regional"
	SectionNearby     Section = "nearby"
	SectionHighIncome Section = "high_income"
	SectionNew        Section = "new"
)

// SectionOrder is the allocation priority. Earlier sections claim jobs
// first; a claimed job never reappears in a later section.
var SectionOrder = []Section{
	SectionEditorial,
	SectionTop5,
	SectionRegional,
	SectionNearby,
	SectionHighIncome,
	SectionNew,
}

// PickReasonFallback marks a pick borrowed outside its section's predicate
// after the widening ladder was exhausted.
const PickReasonFallback = "fallback"

// UserJobMapping is one row of today's per-user scoring matrix, written for
// the top-K candidates only. Partitioned by batch_date.
type UserJobMapping struct {
	UserID         int32     `json:"user_id" db:"user_id"`
	JobID          int64     `json:"job_id" db:"job_id"`
	BatchDate      time.Time `json:"batch_date" db:"batch_date"`
	Score          float64   `json:"score" db:"score"`
	AffinityScore  float64   `json:"affinity_score" db:"affinity_score"`
	Rank           int       `json:"rank" db:"rank"`
	RecentEmployer bool      `json:"recent_employer" db:"recent_employer"`
}

// JobPick is one of the (up to) 40 picks for a user on a given date.
type JobPick struct {
	UserID         int32     `json:"user_id" db:"user_id"`
	JobID          int64     `json:"job_id" db:"job_id"`
	PickDate       time.Time `json:"pick_date" db:"pick_date"`
	Section        Section   `json:"section" db:"section"`
	SectionRank    int       `json:"section_rank" db:"section_rank"`
	CompositeScore float64   `json:"composite_score" db:"composite_score"`
	PickReason     string    `json:"pick_reason,omitempty" db:"pick_reason"`
}

// QueueStatus enumerates delivery queue row states. The pipeline only ever
// writes pending; the sender owns the rest of the lifecycle.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueSent       QueueStatus = "sent"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

// QueueRow is the per-user delivery order handed to the external renderer.
// Unique per (user_id, scheduled_date); re-running a batch upserts in place.
type QueueRow struct {
	ID              string      `json:"id" db:"id"`
	UserID          int32       `json:"user_id" db:"user_id"`
	ScheduledDate   time.Time   `json:"scheduled_date" db:"scheduled_date"`
	SubjectTemplate string      `json:"subject_template" db:"subject_template"`
	Recipient       string      `json:"recipient" db:"recipient"`
	PickJobIDs      []int64     `json:"pick_job_ids"`
	PickCount       int         `json:"pick_count" db:"pick_count"`
	GeneratorMeta   QueueMeta   `json:"generator_meta"`
	Status          QueueStatus `json:"status" db:"status"`
	RetryCount      int         `json:"retry_count" db:"retry_count"`
	LowInventory    bool        `json:"low_inventory" db:"low_inventory"`
	GeneratedAt     time.Time   `json:"generated_at" db:"generated_at"`
}

// QueueMeta records how a queue row was generated, for the renderer and for
// audits.
type QueueMeta struct {
	BatchID         string `json:"batch_id"`
	PipelineVersion string `json:"pipeline_version"`
	TemplateVersion string `json:"template_version"`
	UsedFallback    bool   `json:"used_fallback"`
}
