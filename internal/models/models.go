package models

import (
	"fmt"
	"strings"
	"time"
)

// ===============================
// BADGE TEMPLATES
// ===============================

// BadgeKind identifies the evaluator family a template belongs to.
type BadgeKind string

const (
	KindConsecutiveDayStreak BadgeKind = "consecutive-day-streak"
	KindFullDayStreak        BadgeKind = "full-day-streak"
	KindLifetimePoints       BadgeKind = "lifetime-points"
	KindMonthly              BadgeKind = "monthly"
	// KindFirstAccess badges are awarded by an explicit service call on
	// onboarding, never by completion events.
	KindFirstAccess BadgeKind = "first-access"
)

// Valid reports whether the kind is one of the known families.
func (k BadgeKind) Valid() bool {
	switch k {
	case KindConsecutiveDayStreak, KindFullDayStreak, KindLifetimePoints, KindMonthly, KindFirstAccess:
		return true
	}
	return false
}

// Multiplicity governs how often a badge can be earned.
type Multiplicity string

const (
	// MultiplicityOnce allows at most one earned row per (user, badge) ever.
	MultiplicityOnce Multiplicity = "once"
	// MultiplicityOncePerDay allows at most one earned row per (user, badge, calendar day).
	MultiplicityOncePerDay Multiplicity = "once-per-day"
)

// Valid reports whether the multiplicity is a known policy.
func (m Multiplicity) Valid() bool {
	return m == MultiplicityOnce || m == MultiplicityOncePerDay
}

// StreakCriteria configures both streak evaluator families.
type StreakCriteria struct {
	RequiredDays int `json:"required_days"`
}

// PointsCriteria configures the lifetime points evaluator.
type PointsCriteria struct {
	PointThreshold int `json:"point_threshold"`
}

// MonthlyCriteria configures a monthly badge. At least one threshold must be
// populated; meeting any one of them is sufficient.
type MonthlyCriteria struct {
	Month            int     `json:"month"` // 1-12
	Year             int     `json:"year"`
	Category         *string `json:"category,omitempty"`
	ExpectedCount    *int    `json:"expected_count,omitempty"`
	ExpectedPointSum *int    `json:"expected_point_sum,omitempty"`
	UniqueDayCount   *int    `json:"unique_day_count,omitempty"`
}

// HasThreshold reports whether at least one threshold is configured.
func (c *MonthlyCriteria) HasThreshold() bool {
	return c.ExpectedCount != nil || c.ExpectedPointSum != nil || c.UniqueDayCount != nil
}

// Covers reports whether the given date falls inside the badge's month window.
func (c *MonthlyCriteria) Covers(d time.Time) bool {
	return int(d.Month()) == c.Month && d.Year() == c.Year
}

// BadgeTemplate is an immutable badge definition loaded from the catalog.
// Exactly one criteria field is populated, matching Kind.
type BadgeTemplate struct {
	ID           int64        `json:"id" db:"id"`
	Name         string       `json:"name" db:"name"`
	Slug         string       `json:"slug" db:"slug"`
	Description  string       `json:"description" db:"description"`
	PreText      string       `json:"pre_text" db:"pre_text"`
	PostText     string       `json:"post_text" db:"post_text"`
	Kind         BadgeKind    `json:"kind" db:"kind"`
	Level        int          `json:"level" db:"level"`
	Priority     int          `json:"priority" db:"priority"`
	Multiplicity Multiplicity `json:"multiplicity" db:"multiplicity"`

	Streak  *StreakCriteria  `json:"streak_criteria,omitempty"`
	Points  *PointsCriteria  `json:"points_criteria,omitempty"`
	Monthly *MonthlyCriteria `json:"monthly_criteria,omitempty"`

	ImageEarned    string    `json:"image_earned" db:"image_earned"`
	ImageNotEarned string    `json:"image_not_earned" db:"image_not_earned"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ValidateCriteria checks that the template carries exactly the criteria
// variant its kind requires. A failure here is a catalog configuration error,
// never a caller error.
func (t *BadgeTemplate) ValidateCriteria() error {
	if !t.Kind.Valid() {
		return fmt.Errorf("badge %q: unknown kind %q", t.Slug, t.Kind)
	}
	if !t.Multiplicity.Valid() {
		return fmt.Errorf("badge %q: unknown multiplicity %q", t.Slug, t.Multiplicity)
	}

	switch t.Kind {
	case KindConsecutiveDayStreak, KindFullDayStreak:
		if t.Streak == nil || t.Points != nil || t.Monthly != nil {
			return fmt.Errorf("badge %q: kind %s requires streak criteria only", t.Slug, t.Kind)
		}
		if t.Streak.RequiredDays <= 0 {
			return fmt.Errorf("badge %q: required_days must be positive, got %d", t.Slug, t.Streak.RequiredDays)
		}
	case KindLifetimePoints:
		if t.Points == nil || t.Streak != nil || t.Monthly != nil {
			return fmt.Errorf("badge %q: kind %s requires points criteria only", t.Slug, t.Kind)
		}
		if t.Points.PointThreshold <= 0 {
			return fmt.Errorf("badge %q: point_threshold must be positive, got %d", t.Slug, t.Points.PointThreshold)
		}
	case KindMonthly:
		if t.Monthly == nil || t.Streak != nil || t.Points != nil {
			return fmt.Errorf("badge %q: kind %s requires monthly criteria only", t.Slug, t.Kind)
		}
		if t.Monthly.Month < 1 || t.Monthly.Month > 12 {
			return fmt.Errorf("badge %q: month must be 1-12, got %d", t.Slug, t.Monthly.Month)
		}
		if t.Monthly.Year <= 0 {
			return fmt.Errorf("badge %q: year must be positive, got %d", t.Slug, t.Monthly.Year)
		}
		if !t.Monthly.HasThreshold() {
			return fmt.Errorf("badge %q: monthly criteria needs at least one threshold", t.Slug)
		}
	case KindFirstAccess:
		if t.Streak != nil || t.Points != nil || t.Monthly != nil {
			return fmt.Errorf("badge %q: kind %s takes no criteria", t.Slug, t.Kind)
		}
	}
	return nil
}

// ===============================
// DARE COMPLETIONS
// ===============================

// Dare categories. Every user is assigned one dare per category per day.
const (
	CategoryActivity  = "Activity"
	CategoryNutrition = "Nutrition"
	CategorySleep     = "Sleep"
	CategoryWellness  = "Wellness"
)

// DailyCategoryCount is the number of dares assigned per user per day; a
// full day means achieved completions across all of them.
const DailyCategoryCount = 4

// DailyCategories returns the expected daily categories.
func DailyCategories() []string {
	return []string{CategoryActivity, CategoryNutrition, CategorySleep, CategoryWellness}
}

// CompletionEvent is the inbound message consumed by the evaluation engine.
// AssignedDate is the user-local calendar date the dare belonged to, not the
// wall-clock receipt time.
type CompletionEvent struct {
	UserID       int64     `json:"user_id" validate:"required,gt=0"`
	Achieved     bool      `json:"achieved"`
	AssignedDate time.Time `json:"assigned_date" validate:"required"`
	Category     string    `json:"category" validate:"required"`
	Points       int       `json:"points" validate:"gte=0"`
}

// Completion is one dare outcome as stored in the completion ledger.
type Completion struct {
	ID           int64     `json:"id" db:"id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	AssignedDate time.Time `json:"assigned_date" db:"assigned_date"`
	Category     string    `json:"category" db:"category"`
	Points       int       `json:"points" db:"points"`
	Achieved     bool      `json:"achieved" db:"achieved"`
	CompletedAt  time.Time `json:"completed_at" db:"completed_at"`
}

// CategoryMatches compares dare categories case-insensitively.
func CategoryMatches(a, b string) bool {
	return strings.EqualFold(a, b)
}

// ===============================
// EARNED BADGES
// ===============================

// EarnedBadge is one row of the append-only award ledger. EarnedDay is set
// only for once-per-day badges and is the calendar day the award is scoped to.
type EarnedBadge struct {
	ID        int64      `json:"id" db:"id"`
	UserID    int64      `json:"user_id" db:"user_id"`
	BadgeSlug string     `json:"badge_slug" db:"badge_slug"`
	EarnedAt  time.Time  `json:"earned_at" db:"earned_at"`
	EarnedDay *time.Time `json:"earned_day,omitempty" db:"earned_day"`
}

// EarnedDate returns the calendar day the award is scoped to: the explicit
// earned day for once-per-day badges, otherwise the earn timestamp's day.
func (e *EarnedBadge) EarnedDate() time.Time {
	if e.EarnedDay != nil {
		return *e.EarnedDay
	}
	return e.EarnedAt
}

// UserBadgeSummary is the dashboard read model: one entry per distinct badge
// a user has earned, with earn counts and first/last timestamps.
type UserBadgeSummary struct {
	Slug          string    `json:"slug"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Kind          BadgeKind `json:"kind"`
	Level         int       `json:"level"`
	ImageEarned   string    `json:"image_earned"`
	TimesEarned   int       `json:"times_earned"`
	FirstEarnedAt time.Time `json:"first_earned_at"`
	LastEarnedAt  time.Time `json:"last_earned_at"`
}
