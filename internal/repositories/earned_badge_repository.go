package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"badgeforge/internal/database"
	"badgeforge/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// pgUniqueViolation is the Postgres error code for unique constraint
// violations. A violation here means another worker won the insert race,
// which the engine treats as not-awarded, not as an error.
const pgUniqueViolation = "23505"

// earnedBadgeRepository implements EarnedBadgeStore. Rows are append-only:
// there is no update or delete path anywhere in this repository.
type earnedBadgeRepository struct {
	db     *database.Manager
	logger *zap.Logger
}

// NewEarnedBadgeRepository creates a new award ledger store.
func NewEarnedBadgeRepository(db *database.Manager, logger *zap.Logger) EarnedBadgeStore {
	return &earnedBadgeRepository{
		db:     db,
		logger: logger,
	}
}

// TryInsert appends an award row, relying on the partial unique indexes on
// earned_badges to make concurrent and duplicate attempts collapse into a
// single row. earnedDay nil means a once badge (unique per user+badge ever);
// non-nil means once-per-day (unique per user+badge+day).
func (r *earnedBadgeRepository) TryInsert(ctx context.Context, userID int64, badgeSlug string, earnedAt time.Time, earnedDay *time.Time) (bool, error) {
	query := `
		INSERT INTO earned_badges (user_id, badge_slug, earned_at, earned_day)
		VALUES ($1, $2, $3, $4::date)
		ON CONFLICT DO NOTHING`

	var dayArg interface{}
	if earnedDay != nil {
		dayArg = earnedDay.Format("2006-01-02")
	}

	result, err := r.db.ExecContext(ctx, query, userID, badgeSlug, earnedAt, dayArg)
	if err != nil {
		// ON CONFLICT DO NOTHING covers the indexes, but a concurrent
		// insert can still surface as a unique violation under
		// serializable isolation or through the FK on badge_slug racing a
		// reseed. Either way: lost race, not awarded.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			r.logger.Debug("Award insert lost race",
				zap.Int64("user_id", userID),
				zap.String("badge_slug", badgeSlug),
			)
			return false, nil
		}
		return false, fmt.Errorf("failed to insert earned badge %q for user %d: %w", badgeSlug, userID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result for badge %q: %w", badgeSlug, err)
	}
	return affected == 1, nil
}

// Latest returns the most recent award for (user, badge), or nil when the
// badge has never been earned.
func (r *earnedBadgeRepository) Latest(ctx context.Context, userID int64, badgeSlug string) (*models.EarnedBadge, error) {
	query := `
		SELECT id, user_id, badge_slug, earned_at, earned_day
		FROM earned_badges
		WHERE user_id = $1 AND badge_slug = $2
		ORDER BY earned_at DESC
		LIMIT 1`

	var (
		eb  models.EarnedBadge
		day sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID, badgeSlug).
		Scan(&eb.ID, &eb.UserID, &eb.BadgeSlug, &eb.EarnedAt, &day)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest earned badge %q for user %d: %w", badgeSlug, userID, err)
	}
	if day.Valid {
		eb.EarnedDay = &day.Time
	}
	return &eb, nil
}

// ListForUser returns every award for a user, newest first.
func (r *earnedBadgeRepository) ListForUser(ctx context.Context, userID int64) ([]*models.EarnedBadge, error) {
	query := `
		SELECT id, user_id, badge_slug, earned_at, earned_day
		FROM earned_badges
		WHERE user_id = $1
		ORDER BY earned_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list earned badges for user %d: %w", userID, err)
	}
	defer rows.Close()

	var badges []*models.EarnedBadge
	for rows.Next() {
		var (
			eb  models.EarnedBadge
			day sql.NullTime
		)
		if err := rows.Scan(&eb.ID, &eb.UserID, &eb.BadgeSlug, &eb.EarnedAt, &day); err != nil {
			return nil, fmt.Errorf("failed to scan earned badge row: %w", err)
		}
		if day.Valid {
			eb.EarnedDay = &day.Time
		}
		badges = append(badges, &eb)
	}
	return badges, rows.Err()
}

// SummarizeForUser builds the dashboard read model: one entry per distinct
// badge with earn counts, joined with template metadata.
func (r *earnedBadgeRepository) SummarizeForUser(ctx context.Context, userID int64) ([]*models.UserBadgeSummary, error) {
	query := `
		SELECT bt.slug, bt.name, COALESCE(bt.description, ''), bt.kind, COALESCE(bt.level, 0),
		       COALESCE(bt.image_earned, ''),
		       COUNT(eb.id), MIN(eb.earned_at), MAX(eb.earned_at)
		FROM earned_badges eb
		JOIN badge_templates bt ON bt.slug = eb.badge_slug
		WHERE eb.user_id = $1
		GROUP BY bt.slug, bt.name, bt.description, bt.kind, bt.level, bt.image_earned, bt.priority
		ORDER BY bt.priority ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize badges for user %d: %w", userID, err)
	}
	defer rows.Close()

	var summaries []*models.UserBadgeSummary
	for rows.Next() {
		var s models.UserBadgeSummary
		if err := rows.Scan(
			&s.Slug, &s.Name, &s.Description, &s.Kind, &s.Level,
			&s.ImageEarned, &s.TimesEarned, &s.FirstEarnedAt, &s.LastEarnedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan badge summary row: %w", err)
		}
		summaries = append(summaries, &s)
	}
	return summaries, rows.Err()
}
