package services

import (
	"context"
	"fmt"
	"time"

	"badgeforge/internal/models"
	"badgeforge/internal/repositories"
)

// Evaluator decides whether a user's history satisfies one badge template's
// criteria. Implementations are pure with respect to engine state: they read
// the completion ledger and return a verdict, never writing anything.
type Evaluator interface {
	Kind() models.BadgeKind
	Evaluate(ctx context.Context, event *models.CompletionEvent, template *models.BadgeTemplate) (bool, error)
}

// NewEvaluators builds the full evaluator set keyed by kind. maxStreakDays
// caps the history window a streak template may demand; templates above the
// cap are configuration errors rather than unbounded ledger scans.
func NewEvaluators(ledger repositories.CompletionLedger, maxStreakDays int) map[models.BadgeKind]Evaluator {
	aggregator := NewDayBucketAggregator(ledger)
	return map[models.BadgeKind]Evaluator{
		models.KindConsecutiveDayStreak: &consecutiveDayEvaluator{aggregator: aggregator, maxDays: maxStreakDays},
		models.KindFullDayStreak:        &fullDayEvaluator{aggregator: aggregator, maxDays: maxStreakDays},
		models.KindLifetimePoints:       &lifetimePointsEvaluator{ledger: ledger},
		models.KindMonthly:              &monthlyEvaluator{ledger: ledger},
	}
}

// ===============================
// STREAK EVALUATORS
// ===============================

// consecutiveDayEvaluator checks presence streaks: a gap-free trailing
// window ending on the event's assigned date where every day has at least
// one achieved completion.
type consecutiveDayEvaluator struct {
	aggregator *DayBucketAggregator
	maxDays    int
}

func (e *consecutiveDayEvaluator) Kind() models.BadgeKind {
	return models.KindConsecutiveDayStreak
}

func (e *consecutiveDayEvaluator) Evaluate(ctx context.Context, event *models.CompletionEvent, template *models.BadgeTemplate) (bool, error) {
	if err := checkStreakCriteria(template, e.maxDays); err != nil {
		return false, err
	}

	buckets, endDay, err := e.aggregator.trailingWindow(ctx, event, template.Streak.RequiredDays)
	if err != nil {
		return false, err
	}
	return HasPresenceStreak(buckets, endDay, template.Streak.RequiredDays), nil
}

// fullDayEvaluator checks full-day streaks: every day in the trailing window
// has achieved completions across all expected categories.
type fullDayEvaluator struct {
	aggregator *DayBucketAggregator
	maxDays    int
}

func (e *fullDayEvaluator) Kind() models.BadgeKind {
	return models.KindFullDayStreak
}

func (e *fullDayEvaluator) Evaluate(ctx context.Context, event *models.CompletionEvent, template *models.BadgeTemplate) (bool, error) {
	if err := checkStreakCriteria(template, e.maxDays); err != nil {
		return false, err
	}

	buckets, endDay, err := e.aggregator.trailingWindow(ctx, event, template.Streak.RequiredDays)
	if err != nil {
		return false, err
	}
	return HasFullDayStreak(buckets, endDay, template.Streak.RequiredDays), nil
}

// checkStreakCriteria validates a streak template against the configured
// history window before any ledger query happens.
func checkStreakCriteria(template *models.BadgeTemplate, maxDays int) error {
	if template.Streak == nil {
		return NewConfigurationError(
			fmt.Sprintf("badge %q has no streak criteria", template.Slug), nil)
	}
	if maxDays > 0 && template.Streak.RequiredDays > maxDays {
		return NewConfigurationError(
			fmt.Sprintf("badge %q requires %d days, above the %d-day history window",
				template.Slug, template.Streak.RequiredDays, maxDays), nil)
	}
	return nil
}

// trailingWindow loads buckets for the D-day window ending on the event's
// assigned date.
func (a *DayBucketAggregator) trailingWindow(ctx context.Context, event *models.CompletionEvent, days int) ([]*DayBucket, DayKey, error) {
	end := event.AssignedDate
	start := end.AddDate(0, 0, -(days - 1))
	buckets, err := a.Buckets(ctx, event.UserID, start, end)
	if err != nil {
		return nil, DayKey{}, err
	}
	return buckets, NewDayKey(end), nil
}

// ===============================
// LIFETIME POINTS EVALUATOR
// ===============================

// lifetimePointsEvaluator checks cumulative point totals. The predicate is
// monotonic: once true it stays true on every later event, so the ledger
// writer's once multiplicity is what prevents repeat awards.
type lifetimePointsEvaluator struct {
	ledger repositories.CompletionLedger
}

func (e *lifetimePointsEvaluator) Kind() models.BadgeKind {
	return models.KindLifetimePoints
}

func (e *lifetimePointsEvaluator) Evaluate(ctx context.Context, event *models.CompletionEvent, template *models.BadgeTemplate) (bool, error) {
	if template.Points == nil {
		return false, NewConfigurationError(
			fmt.Sprintf("badge %q has no points criteria", template.Slug), nil)
	}

	total, err := e.ledger.TotalPoints(ctx, event.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to load lifetime points: %w", err)
	}
	return total >= template.Points.PointThreshold, nil
}

// ===============================
// MONTHLY EVALUATOR
// ===============================

// monthlyEvaluator checks calendar-month badges. Completions are restricted
// to the badge's month window (and category if configured); meeting any one
// configured threshold is sufficient. Events outside the badge's month never
// satisfy it.
type monthlyEvaluator struct {
	ledger repositories.CompletionLedger
}

func (e *monthlyEvaluator) Kind() models.BadgeKind {
	return models.KindMonthly
}

func (e *monthlyEvaluator) Evaluate(ctx context.Context, event *models.CompletionEvent, template *models.BadgeTemplate) (bool, error) {
	criteria := template.Monthly
	if criteria == nil {
		return false, NewConfigurationError(
			fmt.Sprintf("badge %q has no monthly criteria", template.Slug), nil)
	}

	// The dispatcher filters monthly templates to the event's month, but the
	// evaluator still refuses out-of-window events so it stays safe to call
	// directly.
	if !criteria.Covers(event.AssignedDate) {
		return false, nil
	}

	start, end := monthBounds(criteria.Year, time.Month(criteria.Month))
	completions, err := e.ledger.Query(ctx, event.UserID, start, end, criteria.Category)
	if err != nil {
		return false, fmt.Errorf("failed to load monthly completions: %w", err)
	}

	if criteria.ExpectedCount != nil && len(completions) >= *criteria.ExpectedCount {
		return true, nil
	}
	if criteria.ExpectedPointSum != nil {
		sum := 0
		for _, c := range completions {
			sum += c.Points
		}
		if sum >= *criteria.ExpectedPointSum {
			return true, nil
		}
	}
	if criteria.UniqueDayCount != nil && UniqueDayCount(completions) >= *criteria.UniqueDayCount {
		return true, nil
	}
	return false, nil
}

// monthBounds returns the first and last day of a calendar month.
func monthBounds(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return start, end
}
