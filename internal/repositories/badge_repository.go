package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"badgeforge/internal/cache"
	"badgeforge/internal/database"
	"badgeforge/internal/models"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const badgeTemplateColumns = `
	id, name, slug, COALESCE(description, ''), COALESCE(pre_text, ''), COALESCE(post_text, ''),
	kind, COALESCE(level, 0), COALESCE(priority, 0), multiplicity,
	month, year, criteria_category, criteria_required_days, criteria_point_threshold,
	criteria_expected_count, criteria_expected_point_sum, criteria_unique_day_count,
	COALESCE(image_earned, ''), COALESCE(image_not_earned, ''), is_active, created_at`

// badgeRepository implements BadgeCatalog over Postgres with an optional
// Redis read-through cache. Templates whose criteria columns don't satisfy
// the declared kind are configuration errors: logged and skipped, never
// returned to evaluators.
type badgeRepository struct {
	db     *database.Manager
	cache  *cache.CatalogCache
	logger *zap.Logger
}

// NewBadgeRepository creates a new catalog repository. cache may be nil.
func NewBadgeRepository(db *database.Manager, catalogCache *cache.CatalogCache, logger *zap.Logger) BadgeCatalog {
	return &badgeRepository{
		db:     db,
		cache:  catalogCache,
		logger: logger,
	}
}

// List returns all active templates, ordered by priority.
func (r *badgeRepository) List(ctx context.Context) ([]*models.BadgeTemplate, error) {
	if r.cache != nil {
		if templates, ok := r.cache.GetTemplates(ctx); ok {
			return templates, nil
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM badge_templates WHERE is_active = TRUE`, badgeTemplateColumns)
	templates, err := r.queryTemplates(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list badge templates: %w", err)
	}

	slices.SortStableFunc(templates, func(a, b *models.BadgeTemplate) int {
		return a.Priority - b.Priority
	})

	if r.cache != nil {
		r.cache.SetTemplates(ctx, templates)
	}
	return templates, nil
}

// GetBySlug returns one template by its stable identifier.
func (r *badgeRepository) GetBySlug(ctx context.Context, slug string) (*models.BadgeTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM badge_templates WHERE slug = $1`, badgeTemplateColumns)

	row := r.db.QueryRowContext(ctx, query, slug)
	template, err := scanBadgeTemplate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("badge template %q not found", slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get badge template %q: %w", slug, err)
	}
	if err := template.ValidateCriteria(); err != nil {
		return nil, fmt.Errorf("badge template %q misconfigured: %w", slug, err)
	}
	return template, nil
}

// GetMonthly returns active monthly templates covering the given window.
func (r *badgeRepository) GetMonthly(ctx context.Context, month, year int) ([]*models.BadgeTemplate, error) {
	if r.cache != nil {
		if templates, ok := r.cache.GetMonthly(ctx, month, year); ok {
			return templates, nil
		}
	}

	query := fmt.Sprintf(
		`SELECT %s FROM badge_templates WHERE is_active = TRUE AND kind = $1 AND month = $2 AND year = $3`,
		badgeTemplateColumns,
	)
	templates, err := r.queryTemplates(ctx, query, models.KindMonthly, month, year)
	if err != nil {
		return nil, fmt.Errorf("failed to get monthly badge templates for %d-%02d: %w", year, month, err)
	}

	if r.cache != nil {
		r.cache.SetMonthly(ctx, month, year, templates)
	}
	return templates, nil
}

func (r *badgeRepository) queryTemplates(ctx context.Context, query string, args ...interface{}) ([]*models.BadgeTemplate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*models.BadgeTemplate
	for rows.Next() {
		template, err := scanBadgeTemplate(rows)
		if err != nil {
			return nil, err
		}
		if err := template.ValidateCriteria(); err != nil {
			r.logger.Error("Skipping misconfigured badge template",
				zap.String("slug", template.Slug),
				zap.String("kind", string(template.Kind)),
				zap.Error(err),
			)
			continue
		}
		templates = append(templates, template)
	}
	return templates, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanBadgeTemplate projects a row's flat criteria columns into the tagged
// criteria variant matching the declared kind.
func scanBadgeTemplate(s scanner) (*models.BadgeTemplate, error) {
	var (
		t                models.BadgeTemplate
		month, year      sql.NullInt64
		category         sql.NullString
		requiredDays     sql.NullInt64
		pointThreshold   sql.NullInt64
		expectedCount    sql.NullInt64
		expectedPointSum sql.NullInt64
		uniqueDayCount   sql.NullInt64
	)

	err := s.Scan(
		&t.ID, &t.Name, &t.Slug, &t.Description, &t.PreText, &t.PostText,
		&t.Kind, &t.Level, &t.Priority, &t.Multiplicity,
		&month, &year, &category, &requiredDays, &pointThreshold,
		&expectedCount, &expectedPointSum, &uniqueDayCount,
		&t.ImageEarned, &t.ImageNotEarned, &t.IsActive, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	switch t.Kind {
	case models.KindConsecutiveDayStreak, models.KindFullDayStreak:
		if requiredDays.Valid {
			t.Streak = &models.StreakCriteria{RequiredDays: int(requiredDays.Int64)}
		}
	case models.KindLifetimePoints:
		if pointThreshold.Valid {
			t.Points = &models.PointsCriteria{PointThreshold: int(pointThreshold.Int64)}
		}
	case models.KindMonthly:
		if month.Valid && year.Valid {
			criteria := &models.MonthlyCriteria{
				Month: int(month.Int64),
				Year:  int(year.Int64),
			}
			if category.Valid {
				criteria.Category = &category.String
			}
			if expectedCount.Valid {
				v := int(expectedCount.Int64)
				criteria.ExpectedCount = &v
			}
			if expectedPointSum.Valid {
				v := int(expectedPointSum.Int64)
				criteria.ExpectedPointSum = &v
			}
			if uniqueDayCount.Valid {
				v := int(uniqueDayCount.Int64)
				criteria.UniqueDayCount = &v
			}
			t.Monthly = criteria
		}
	}

	return &t, nil
}
