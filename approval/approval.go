// Package approval implements the Approval Task Repository: the
// human-in-the-loop "MAN Mode" gate that persists RED-lane action intents
// as ManTask records awaiting an operator decision, and resolves them
// idempotently once a decision arrives.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/store"
)

// ErrAlreadyResolved is returned by Resolve when the task is no longer
// PENDING; the caller should treat the returned task as authoritative.
var ErrAlreadyResolved = errors.New("approval: task already resolved")

// Clock abstracts time for deterministic tests; defaults to time.Now.
type Clock func() time.Time

// Repository is the Approval Task Repository backed by a generic
// persistence Capability.
type Repository struct {
	tasks store.Capability
	now   Clock
}

// New constructs a Repository over the given store.Capability (one
// collection dedicated to ManTask documents, e.g. "man_tasks").
func New(tasks store.Capability) *Repository {
	return &Repository{tasks: tasks, now: time.Now}
}

// WithClock overrides the repository's time source, for deterministic tests.
func (r *Repository) WithClock(c Clock) *Repository {
	r.now = c
	return r
}

// IdempotencyKey computes the deterministic idempotency key for an
// ActionIntent: tenant_id|workflow_id|step_id|tool_name|canonical_json(tool_params).
func IdempotencyKey(intent manmodel.ActionIntent) (string, error) {
	params, err := manmodel.CanonicalJSON(intent.ToolParams)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		intent.TenantID,
		intent.WorkflowID,
		intent.StepID,
		intent.ToolName,
		params,
	}, "|"), nil
}

// Create persists a new ManTask for a RED-lane action intent. Create is
// only ever called by the coordinator when triage.Lane == manmodel.LaneRed.
// The upsert keyed on (tenant_id, idempotency_key) guarantees at-most-one
// PENDING task per logical attempt: concurrent callers racing to create
// the same task observe the same row.
func (r *Repository) Create(ctx context.Context, intent manmodel.ActionIntent, triage manmodel.RiskTriageResult) (manmodel.ManTask, error) {
	key, err := IdempotencyKey(intent)
	if err != nil {
		return manmodel.ManTask{}, err
	}

	now := r.now()
	task := manmodel.ManTask{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		TenantID:       intent.TenantID,
		WorkflowID:     intent.WorkflowID,
		RunID:          intent.RunID,
		StepID:         intent.StepID,
		ToolName:       intent.ToolName,
		Status:         manmodel.TaskPending,
		RiskScore:      triage.RiskScore,
		RiskReasons:    triage.Reasons,
		Intent:         intent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	filter := store.Filter{"tenant_id": intent.TenantID, "idempotency_key": key}

	var existing manmodel.ManTask
	err = r.tasks.SelectOne(ctx, filter, &existing)
	switch {
	case err == nil:
		return existing, nil
	case errors.Is(err, store.ErrNotFound):
		// fall through and insert below
	default:
		return manmodel.ManTask{}, err
	}

	if err := r.tasks.Upsert(ctx, filter, task); err != nil {
		return manmodel.ManTask{}, err
	}
	// Re-read in case a concurrent caller's upsert won the race.
	if err := r.tasks.SelectOne(ctx, filter, &task); err != nil {
		return manmodel.ManTask{}, err
	}
	return task, nil
}

// Resolve applies an operator decision to a pending task. It is idempotent:
// the underlying store.Capability.Update call is guarded by status =
// PENDING, so only the first decision to arrive takes effect. Subsequent
// calls observe the task already in a terminal state and return it
// unchanged along with ErrAlreadyResolved.
func (r *Repository) Resolve(ctx context.Context, taskID string, decision manmodel.ManDecisionPayload) (manmodel.ManTask, error) {
	existing, err := r.Get(ctx, taskID)
	if err != nil {
		return manmodel.ManTask{}, err
	}
	if existing.Status.IsTerminal() {
		return existing, ErrAlreadyResolved
	}

	status, err := statusFor(decision.Decision)
	if err != nil {
		return manmodel.ManTask{}, err
	}

	updated := existing
	updated.Status = status
	updated.ReviewerID = decision.ReviewerID
	updated.Decision = &decision
	updated.UpdatedAt = r.now()

	filter := store.Filter{"id": taskID}
	guard := store.Filter{"status": string(manmodel.TaskPending)}
	if err := r.tasks.Update(ctx, filter, guard, updated); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost the race: re-read and report the winner's outcome.
			current, getErr := r.Get(ctx, taskID)
			if getErr != nil {
				return manmodel.ManTask{}, getErr
			}
			return current, ErrAlreadyResolved
		}
		return manmodel.ManTask{}, err
	}
	return updated, nil
}

func statusFor(decision manmodel.ManDecisionKind) (manmodel.ManTaskStatus, error) {
	switch decision {
	case manmodel.DecisionApprove:
		return manmodel.TaskApproved, nil
	case manmodel.DecisionDeny:
		return manmodel.TaskDenied, nil
	case manmodel.DecisionModify:
		return manmodel.TaskModified, nil
	case manmodel.DecisionCancelWorkflow:
		return manmodel.TaskCancelled, nil
	default:
		return "", fmt.Errorf("approval: unknown decision kind %q", decision)
	}
}

// Get returns the task with the given id.
func (r *Repository) Get(ctx context.Context, taskID string) (manmodel.ManTask, error) {
	var task manmodel.ManTask
	if err := r.tasks.SelectOne(ctx, store.Filter{"id": taskID}, &task); err != nil {
		return manmodel.ManTask{}, err
	}
	return task, nil
}

// ListFilters narrows a List call. Zero-valued fields are not applied.
type ListFilters struct {
	TenantID   string
	WorkflowID string
	Status     manmodel.ManTaskStatus
}

func (f ListFilters) toStoreFilter() store.Filter {
	sf := store.Filter{}
	if f.TenantID != "" {
		sf["tenant_id"] = f.TenantID
	}
	if f.WorkflowID != "" {
		sf["workflow_id"] = f.WorkflowID
	}
	if f.Status != "" {
		sf["status"] = string(f.Status)
	}
	return sf
}

// List returns tasks matching filters, paginated.
func (r *Repository) List(ctx context.Context, filters ListFilters, limit, offset int) ([]manmodel.ManTask, error) {
	var tasks []manmodel.ManTask
	if err := r.tasks.Select(ctx, filters.toStoreFilter(), limit, offset, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountPending returns the number of PENDING tasks for a tenant, used by
// the coordinator's backlog check against max_pending_per_tenant.
func (r *Repository) CountPending(ctx context.Context, tenantID string) (int, error) {
	return r.tasks.Count(ctx, store.Filter{"tenant_id": tenantID, "status": string(manmodel.TaskPending)})
}

// DecisionLog is the append-only audit trail of operator decisions,
// backed by a store.Capability dedicated to man_decision_events. It is
// independent of Repository: Resolve only needs the PENDING-guarded
// update to enforce idempotency, while the audit trail records every
// decision attempt (including ones that lost the idempotency race) for
// operator-facing history.
type DecisionLog struct {
	events store.Capability
	now    Clock
}

// NewDecisionLog constructs a DecisionLog over the given store.Capability.
func NewDecisionLog(events store.Capability) *DecisionLog {
	return &DecisionLog{events: events, now: time.Now}
}

// WithClock overrides the log's time source, for deterministic tests.
func (l *DecisionLog) WithClock(c Clock) *DecisionLog {
	l.now = c
	return l
}

// Record appends a decision event for taskID.
func (l *DecisionLog) Record(ctx context.Context, taskID string, decision manmodel.ManDecisionPayload) (manmodel.DecisionEvent, error) {
	event := manmodel.DecisionEvent{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		Decision:   decision,
		RecordedAt: l.now(),
	}
	if err := l.events.Insert(ctx, event); err != nil {
		return manmodel.DecisionEvent{}, err
	}
	return event, nil
}

// List returns every decision event recorded for taskID, in insertion
// order as returned by the underlying store.
func (l *DecisionLog) List(ctx context.Context, taskID string) ([]manmodel.DecisionEvent, error) {
	var events []manmodel.DecisionEvent
	if err := l.events.Select(ctx, store.Filter{"task_id": taskID}, 0, 0, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ExpireOverdue promotes PENDING tasks older than ttl to EXPIRED and
// returns the number of tasks expired. The one ttl applies to every
// tenant's tasks: per-tenant TaskTTLMinutes from policy is not looked up
// here, and no workflow, activity or ticker in this module calls it.
func (r *Repository) ExpireOverdue(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := r.now().Add(-ttl)

	var pending []manmodel.ManTask
	if err := r.tasks.Select(ctx, store.Filter{"status": string(manmodel.TaskPending)}, 0, 0, &pending); err != nil {
		return 0, err
	}

	expired := 0
	for _, task := range pending {
		if task.CreatedAt.After(cutoff) {
			continue
		}
		updated := task
		updated.Status = manmodel.TaskExpired
		updated.UpdatedAt = r.now()

		filter := store.Filter{"id": task.ID}
		guard := store.Filter{"status": string(manmodel.TaskPending)}
		if err := r.tasks.Update(ctx, filter, guard, updated); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Already resolved by a concurrent caller; not an error.
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}
