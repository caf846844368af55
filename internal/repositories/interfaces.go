package repositories

import (
	"context"
	"time"

	"badgeforge/internal/models"
)

// BadgeCatalog is read access to badge template definitions. The engine
// never mutates the catalog.
type BadgeCatalog interface {
	// List returns all active templates.
	List(ctx context.Context) ([]*models.BadgeTemplate, error)
	// GetBySlug returns a single template, or a not-found error.
	GetBySlug(ctx context.Context, slug string) (*models.BadgeTemplate, error)
	// GetMonthly returns monthly templates covering the given month/year.
	GetMonthly(ctx context.Context, month, year int) ([]*models.BadgeTemplate, error)
}

// CompletionLedger is read access to a user's dare completion history.
// Owned by the dare subsystem; the engine only reads it.
type CompletionLedger interface {
	// Query returns achieved completions in [start, end] (inclusive,
	// calendar dates), optionally filtered by category. Ordered by
	// assigned date ascending.
	Query(ctx context.Context, userID int64, start, end time.Time, category *string) ([]*models.Completion, error)
	// TotalPoints returns the lifetime point sum across all achieved
	// completions for the user.
	TotalPoints(ctx context.Context, userID int64) (int, error)
}

// EarnedBadgeStore is the append-only award ledger. TryInsert is the only
// write path in the whole engine.
type EarnedBadgeStore interface {
	// TryInsert appends an award row. earnedDay is nil for once badges and
	// the scoped calendar day for once-per-day badges. Returns false when a
	// conflicting row already exists (duplicate delivery or lost race).
	TryInsert(ctx context.Context, userID int64, badgeSlug string, earnedAt time.Time, earnedDay *time.Time) (bool, error)
	// Latest returns the most recent award for (user, badge), or nil.
	Latest(ctx context.Context, userID int64, badgeSlug string) (*models.EarnedBadge, error)
	// ListForUser returns every award for a user, newest first.
	ListForUser(ctx context.Context, userID int64) ([]*models.EarnedBadge, error)
	// SummarizeForUser returns the dashboard read model: per-badge earn
	// counts joined with template metadata.
	SummarizeForUser(ctx context.Context, userID int64) ([]*models.UserBadgeSummary, error)
}
