// Package reminder decides which recurring reminders are due, claims them
// in the dispatch ledger and hands them to push delivery.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pathakanu/pushminder/internal/ledger"
	"github.com/pathakanu/pushminder/internal/model"
	"github.com/pathakanu/pushminder/internal/push"
)

// Schedules is the read side of the schedule store.
type Schedules interface {
	Active(ctx context.Context, scope *model.Scope) ([]model.RecurringSchedule, error)
}

// Ledger is the dispatch ledger.
type Ledger interface {
	ClaimedOn(ctx context.Context, day time.Time, scope *model.Scope) (map[string]struct{}, error)
	Claim(ctx context.Context, schedule *model.RecurringSchedule, scheduledFor time.Time) (ledger.ClaimResult, error)
	Finalize(ctx context.Context, dispatchID string, sentCount int, status model.DispatchStatus, errSummary string) error
}

// Deliverer pushes to every subscription of an owner.
type Deliverer interface {
	Deliver(ctx context.Context, owner model.Owner) (push.Summary, error)
}

// BatchResult aggregates one resolver pass. Every processed schedule is
// counted in exactly one of Due, Skipped or Errored.
type BatchResult struct {
	Processed                     int      `json:"processed"`
	Due                           int      `json:"due"`
	Sent                          int      `json:"sent"`
	Skipped                       int      `json:"skipped"`
	SkippedNotDueYet              int      `json:"skipped_not_due_yet"`
	SkippedAlreadyDispatchedToday int      `json:"skipped_already_dispatched_today"`
	Errored                       int      `json:"errored"`
	PushAttempted                 int      `json:"push_attempted"`
	PushFailed                    int      `json:"push_failed"`
	PushDeactivated               int      `json:"push_deactivated"`
	FailureCount                  int      `json:"failure_count"`
	Failures                      []string `json:"failures"`
}

// Summary renders the one-line message shown after a manual run.
func (r BatchResult) Summary() string {
	return fmt.Sprintf("Processed %d reminder(s): %d due, %d sent, %d skipped (%d not due yet, %d already sent today), %d failure(s).",
		r.Processed, r.Due, r.Sent, r.Skipped, r.SkippedNotDueYet, r.SkippedAlreadyDispatchedToday, r.FailureCount)
}

func (r *BatchResult) fail(format string, args ...interface{}) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
	r.FailureCount = len(r.Failures)
}

// Resolver runs stateless resolver passes. Passes may run concurrently in
// any number of processes; the ledger claim keeps delivery at most once per
// schedule per day.
type Resolver struct {
	schedules Schedules
	ledger    Ledger
	deliverer Deliverer
	location  *time.Location
	logger    *slog.Logger
}

// NewResolver wires a resolver. loc defines calendar days and schedule wall-clock times.
func NewResolver(schedules Schedules, l Ledger, deliverer Deliverer, loc *time.Location, logger *slog.Logger) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{
		schedules: schedules,
		ledger:    l,
		deliverer: deliverer,
		location:  loc,
		logger:    logger,
	}
}

// ResolveDue delivers every active schedule in scope that is due at now and
// not yet dispatched today. A nil scope covers every owner.
//
// Failures of a single schedule are recorded in the result and the pass
// continues. An error is returned only when the pass cannot start, or with
// the partial result when ctx ends first.
func (r *Resolver) ResolveDue(ctx context.Context, now time.Time, scope *model.Scope) (BatchResult, error) {
	result := BatchResult{Failures: []string{}}
	now = now.In(r.location)

	schedules, err := r.schedules.Active(ctx, scope)
	if err != nil {
		return result, fmt.Errorf("load schedules: %w", err)
	}
	claimed, err := r.ledger.ClaimedOn(ctx, now, scope)
	if err != nil {
		return result, err
	}

	r.logger.Info("reminder pass started", "schedules", len(schedules), "claimed_today", len(claimed), "now", now.Format(time.RFC3339))

	for i := range schedules {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("reminder pass interrupted", "processed", result.Processed, "remaining", len(schedules)-i, "error", err)
			return result, err
		}
		result.Processed++
		r.process(ctx, &schedules[i], now, claimed, &result)
	}

	r.logger.Info("reminder pass finished",
		"processed", result.Processed,
		"due", result.Due,
		"sent", result.Sent,
		"skipped_not_due_yet", result.SkippedNotDueYet,
		"skipped_already_dispatched_today", result.SkippedAlreadyDispatchedToday,
		"failures", result.FailureCount,
	)
	return result, nil
}

func (r *Resolver) process(ctx context.Context, sched *model.RecurringSchedule, now time.Time, claimed map[string]struct{}, result *BatchResult) {
	logger := r.logger.With("schedule_id", sched.ID, "owner", sched.Owner.String())

	if _, ok := claimed[sched.ID]; ok {
		result.Skipped++
		result.SkippedAlreadyDispatchedToday++
		return
	}

	scheduledFor := sched.OccurrenceOn(now, r.location)
	if scheduledFor.After(now) {
		result.Skipped++
		result.SkippedNotDueYet++
		return
	}

	claim, err := r.ledger.Claim(ctx, sched, scheduledFor)
	if err != nil {
		result.Errored++
		result.fail("schedule %s: %v", sched.ID, err)
		logger.Error("claim failed", "error", err)
		return
	}
	if !claim.Claimed {
		result.Skipped++
		result.SkippedAlreadyDispatchedToday++
		logger.Debug("claim lost to a concurrent pass")
		return
	}

	result.Due++
	logger = logger.With("dispatch_id", claim.DispatchID)
	logger.Info("reminder claimed", "scheduled_for", scheduledFor.Format(time.RFC3339))

	summary, err := r.deliverer.Deliver(ctx, sched.Owner)
	status := model.DispatchFailed
	var errSummary string
	switch {
	case err != nil:
		errSummary = err.Error()
		result.fail("schedule %s: %v", sched.ID, err)
	case summary.Sent > 0:
		status = model.DispatchSent
		result.Sent++
		errSummary = describeFailures(summary.Failures)
	case summary.Attempted == 0:
		errSummary = "no active push subscriptions"
		result.fail("schedule %s: %s", sched.ID, errSummary)
	default:
		errSummary = describeFailures(summary.Failures)
		result.fail("schedule %s: all %d push deliveries failed", sched.ID, summary.Attempted)
	}
	result.PushAttempted += summary.Attempted
	result.PushFailed += summary.Failed
	result.PushDeactivated += summary.Deactivated

	// The pass context may already be done; the outcome must still be written.
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.ledger.Finalize(finalizeCtx, claim.DispatchID, summary.Sent, status, errSummary); err != nil {
		result.fail("schedule %s: finalize: %v", sched.ID, err)
		logger.Error("finalize failed", "error", err)
		return
	}

	logger.Info("reminder dispatched",
		"status", status,
		"attempted", summary.Attempted,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"deactivated", summary.Deactivated,
	)
}

func describeFailures(failures []push.Failure) string {
	if len(failures) == 0 {
		return ""
	}
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		part := f.Transport
		if f.Host != "" {
			part += " " + f.Host
		}
		if f.Status != 0 {
			part += fmt.Sprintf(" %d", f.Status)
		}
		if f.Error != "" {
			part += ": " + f.Error
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
