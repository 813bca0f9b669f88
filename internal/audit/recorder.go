package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"netcrew.io/internal/auth"
	"netcrew.io/internal/ids"
	"netcrew.io/internal/obs"
)

// Store persists audit entries.
type Store interface {
	AppendAudit(ctx context.Context, e Entry) error
	ListAudit(ctx context.Context, f Filter) ([]Entry, int, error)
}

// Dispatcher runs work detached from the request.
type Dispatcher interface {
	Submit(name string, fn func(ctx context.Context) error) error
}

// Recorder writes the audit trail. Writing never fails the caller: errors
// are logged and counted.
type Recorder struct {
	store Store
	tasks Dispatcher
	now   func() time.Time
}

func NewRecorder(store Store, tasks Dispatcher) (*Recorder, error) {
	if store == nil || tasks == nil {
		return nil, errors.New("audit: store and dispatcher are required")
	}
	return &Recorder{store: store, tasks: tasks, now: time.Now}, nil
}

// Record persists e before returning. Use it for security-relevant events.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	e = r.complete(ctx, e)
	logEntry(e)
	if err := r.store.AppendAudit(ctx, e); err != nil {
		r.failed(ctx, e, err)
	}
}

// RecordAsync hands e to the task queue and returns immediately.
func (r *Recorder) RecordAsync(ctx context.Context, e Entry) {
	e = r.complete(ctx, e)
	logEntry(e)
	log := obs.From(ctx)
	err := r.tasks.Submit("audit.write", func(taskCtx context.Context) error {
		return r.store.AppendAudit(obs.WithLogger(taskCtx, log), e)
	})
	if err != nil {
		r.failed(ctx, e, err)
	}
}

// List returns a page of entries matching f, newest first.
func (r *Recorder) List(ctx context.Context, f Filter) (Page, error) {
	f, err := f.Normalize()
	if err != nil {
		return Page{}, err
	}
	items, total, err := r.store.ListAudit(ctx, f)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Entry{}
	}
	return Page{Items: items, Total: total, Limit: f.Limit, Skip: f.Skip}, nil
}

func (r *Recorder) complete(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	if e.ActorID == "" {
		if p, ok := auth.PrincipalFromContext(ctx); ok {
			e.ActorID = p.User.ID
			e.ActorEmail = p.User.Email
		}
	}
	e.ResourceType = strings.TrimSpace(e.ResourceType)
	return e
}

func (r *Recorder) failed(ctx context.Context, e Entry, err error) {
	obs.AuditWriteFailures.Inc()
	obs.From(ctx).Error("audit write failed",
		zap.String("event", string(e.Action)), zap.String("audit_id", e.ID), obs.Err(err))
}
