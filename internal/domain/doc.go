// Package domain holds the typed entities shared across the matching
// pipeline: jobs, users, action history, derived profiles, scoring results
// and the daily picks that feed the delivery queue. Persistence shape lives
// in internal/store; these types are the in-memory contract between stages.
package domain
