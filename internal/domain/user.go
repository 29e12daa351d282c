package domain

import "time"

// User is one mail recipient. Contact identity is opaque to the pipeline;
// the renderer resolves it.
type User struct {
	UserID       int32     `json:"user_id" db:"user_id"`
	ContactRef   string    `json:"contact_ref" db:"contact_ref"`
	PrefCd       string    `json:"pref_cd" db:"pref_cd"`
	CityCd       string    `json:"city_cd" db:"city_cd"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	IsSubscribed bool      `json:"is_subscribed" db:"is_subscribed"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ActionType enumerates the user action events the pipeline understands.
// Extending it is a deliberate code change, not a data migration.
type ActionType string

const (
	ActionView        ActionType = "view"
	ActionClick       ActionType = "click"
	ActionApply       ActionType = "apply"
	ActionApplication ActionType = "application"
	ActionEmailOpen   ActionType = "email_open"
	ActionEmailClick  ActionType = "email_click"
	ActionFavorite    ActionType = "favorite"
	ActionSave        ActionType = "save"
	ActionShare       ActionType = "share"
)

// IsApplication reports whether the action counts as an application event.
// The feed historically used both "apply" and "application".
func (a ActionType) IsApplication() bool {
	return a == ActionApply || a == ActionApplication
}

// UserAction is one row of the append-only action history, partitioned by
// month and retained for at least a year.
type UserAction struct {
	UserID     int32      `json:"user_id" db:"user_id"`
	JobID      *int64     `json:"job_id,omitempty" db:"job_id"`
	EndclCd    string     `json:"endcl_cd" db:"endcl_cd"`
	ActionType ActionType `json:"action_type" db:"action_type"`
	ActionAt   time.Time  `json:"action_at" db:"action_at"`
}
