// Package queue turns each user's allocation into a delivery queue row for
// the external mail renderer. The pipeline writes pending rows only; the
// sender owns the rest of the row lifecycle.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/ignite/jobmail/internal/allocator"
	"github.com/ignite/jobmail/internal/config"
	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/pkg/logger"
)

// Store persists queue rows, upserting on (user_id, scheduled_date).
type Store interface {
	UpsertRows(ctx context.Context, rows []*domain.QueueRow) (int, error)
}

// Builder assembles queue rows for one batch. The subject template is
// parsed once at construction; a broken template fails the batch before
// any user is processed.
type Builder struct {
	subject         string
	tmpl            *liquid.Template
	templateVersion string
	pipelineVersion string
	batchID         string
}

// NewBuilder validates the configured subject template and returns a
// builder bound to this batch.
func NewBuilder(cfg config.QueueConfig, batchID, pipelineVersion string) (*Builder, error) {
	engine := liquid.NewEngine()
	tmpl, err := engine.ParseString(cfg.SubjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	return &Builder{
		subject:         cfg.SubjectTemplate,
		tmpl:            tmpl,
		templateVersion: cfg.TemplateVersion,
		pipelineVersion: pipelineVersion,
		batchID:         batchID,
	}, nil
}

// Row builds the queue row for one user's allocation. Users with zero
// picks get no row at all; the renderer never sees an empty mail.
func (b *Builder) Row(user *domain.User, res allocator.Result,
	scheduledDate, now time.Time) (*domain.QueueRow, bool) {

	if len(res.Picks) == 0 {
		return nil, false
	}

	jobIDs := make([]int64, len(res.Picks))
	for i, p := range res.Picks {
		jobIDs[i] = p.JobID
	}

	return &domain.QueueRow{
		ID:              uuid.New().String(),
		UserID:          user.UserID,
		ScheduledDate:   scheduledDate,
		SubjectTemplate: b.subject,
		Recipient:       user.ContactRef,
		PickJobIDs:      jobIDs,
		PickCount:       len(jobIDs),
		GeneratorMeta: domain.QueueMeta{
			BatchID:         b.batchID,
			PipelineVersion: b.pipelineVersion,
			TemplateVersion: b.templateVersion,
			UsedFallback:    res.UsedFallback,
		},
		Status:       domain.QueuePending,
		LowInventory: res.LowInventory,
		GeneratedAt:  now,
	}, true
}

// RenderSubject expands the template the way the renderer will, used to
// validate bindings and in previews.
func (b *Builder) RenderSubject(pickCount int, date time.Time) (string, error) {
	out, err := b.tmpl.RenderString(map[string]interface{}{
		"pick_count": pickCount,
		"date":       date.Format("2006-01-02"),
	})
	if err != nil {
		return "", fmt.Errorf("render subject: %w", err)
	}
	return out, nil
}

// Writer flushes assembled rows to the store in chunks.
type Writer struct {
	store Store
	chunk int
}

// NewWriter creates a writer. chunk <= 0 means one flush per call.
func NewWriter(store Store, chunk int) *Writer {
	return &Writer{store: store, chunk: chunk}
}

// Write upserts the rows and returns how many landed. Recipients never
// reach the log; only counts do.
func (w *Writer) Write(ctx context.Context, rows []*domain.QueueRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	size := w.chunk
	if size <= 0 {
		size = len(rows)
	}

	written := 0
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		n, err := w.store.UpsertRows(ctx, rows[start:end])
		written += n
		if err != nil {
			return written, fmt.Errorf("upsert queue rows [%d:%d]: %w", start, end, err)
		}
	}

	logger.Info("queue rows written", "rows", written)
	return written, nil
}
