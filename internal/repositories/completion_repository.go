package repositories

import (
	"context"
	"fmt"
	"time"

	"badgeforge/internal/database"
	"badgeforge/internal/models"

	"go.uber.org/zap"
)

// completionRepository implements CompletionLedger. The dare_completions
// table is owned by the dare-assignment subsystem; this engine only reads it.
type completionRepository struct {
	db     *database.Manager
	logger *zap.Logger
}

// NewCompletionRepository creates a new completion ledger reader.
func NewCompletionRepository(db *database.Manager, logger *zap.Logger) CompletionLedger {
	return &completionRepository{
		db:     db,
		logger: logger,
	}
}

// Query returns achieved completions in the inclusive date range, ordered by
// assigned date ascending. Dates are compared as calendar days.
func (r *completionRepository) Query(ctx context.Context, userID int64, start, end time.Time, category *string) ([]*models.Completion, error) {
	query := `
		SELECT id, user_id, assigned_date, category, points, achieved, completed_at
		FROM dare_completions
		WHERE user_id = $1
		  AND achieved = TRUE
		  AND assigned_date >= $2::date
		  AND assigned_date <= $3::date`
	args := []interface{}{userID, start, end}

	if category != nil {
		query += ` AND LOWER(category) = LOWER($4)`
		args = append(args, *category)
	}
	query += ` ORDER BY assigned_date ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query completions for user %d: %w", userID, err)
	}
	defer rows.Close()

	var completions []*models.Completion
	for rows.Next() {
		var c models.Completion
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.AssignedDate, &c.Category,
			&c.Points, &c.Achieved, &c.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan completion row: %w", err)
		}
		completions = append(completions, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate completion rows: %w", err)
	}
	return completions, nil
}

// TotalPoints returns the lifetime point sum across all achieved completions.
func (r *completionRepository) TotalPoints(ctx context.Context, userID int64) (int, error) {
	query := `
		SELECT COALESCE(SUM(points), 0)
		FROM dare_completions
		WHERE user_id = $1 AND achieved = TRUE`

	var total int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum points for user %d: %w", userID, err)
	}
	return total, nil
}
