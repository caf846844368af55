package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"badgeforge/internal/models"
)

// ===============================
// FAKE COMPLETION LEDGER
// ===============================

type fakeLedger struct {
	mu          sync.Mutex
	completions []*models.Completion
	queryErr    error
}

func (f *fakeLedger) add(completions ...*models.Completion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, completions...)
}

func (f *fakeLedger) Query(_ context.Context, userID int64, start, end time.Time, category *string) ([]*models.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	startKey := NewDayKey(start)
	endKey := NewDayKey(end)

	var out []*models.Completion
	for _, c := range f.completions {
		if c.UserID != userID || !c.Achieved {
			continue
		}
		key := NewDayKey(c.AssignedDate)
		if key.Compare(startKey) < 0 || key.Compare(endKey) > 0 {
			continue
		}
		if category != nil && !models.CategoryMatches(c.Category, *category) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeLedger) TotalPoints(_ context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return 0, f.queryErr
	}

	total := 0
	for _, c := range f.completions {
		if c.UserID == userID && c.Achieved {
			total += c.Points
		}
	}
	return total, nil
}

// ===============================
// FAKE EARNED BADGE STORE
// ===============================

// fakeStore mimics the partial unique indexes on earned_badges: one row per
// (user, badge) when earnedDay is nil, one per (user, badge, day) otherwise.
type fakeStore struct {
	mu     sync.Mutex
	rows   []*models.EarnedBadge
	nextID int64
}

func (f *fakeStore) TryInsert(_ context.Context, userID int64, badgeSlug string, earnedAt time.Time, earnedDay *time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, row := range f.rows {
		if row.UserID != userID || row.BadgeSlug != badgeSlug {
			continue
		}
		if earnedDay == nil && row.EarnedDay == nil {
			return false, nil
		}
		if earnedDay != nil && row.EarnedDay != nil && row.EarnedDay.Equal(*earnedDay) {
			return false, nil
		}
	}

	f.nextID++
	f.rows = append(f.rows, &models.EarnedBadge{
		ID:        f.nextID,
		UserID:    userID,
		BadgeSlug: badgeSlug,
		EarnedAt:  earnedAt,
		EarnedDay: earnedDay,
	})
	return true, nil
}

func (f *fakeStore) Latest(_ context.Context, userID int64, badgeSlug string) (*models.EarnedBadge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *models.EarnedBadge
	for _, row := range f.rows {
		if row.UserID == userID && row.BadgeSlug == badgeSlug {
			if latest == nil || row.ID > latest.ID {
				latest = row
			}
		}
	}
	return latest, nil
}

func (f *fakeStore) ListForUser(_ context.Context, userID int64) ([]*models.EarnedBadge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.EarnedBadge
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].UserID == userID {
			out = append(out, f.rows[i])
		}
	}
	return out, nil
}

func (f *fakeStore) SummarizeForUser(_ context.Context, userID int64) ([]*models.UserBadgeSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bySlug := make(map[string]*models.UserBadgeSummary)
	var order []string
	for _, row := range f.rows {
		if row.UserID != userID {
			continue
		}
		summary, ok := bySlug[row.BadgeSlug]
		if !ok {
			summary = &models.UserBadgeSummary{
				Slug:          row.BadgeSlug,
				FirstEarnedAt: row.EarnedAt,
				LastEarnedAt:  row.EarnedAt,
			}
			bySlug[row.BadgeSlug] = summary
			order = append(order, row.BadgeSlug)
		}
		summary.TimesEarned++
		if row.EarnedAt.After(summary.LastEarnedAt) {
			summary.LastEarnedAt = row.EarnedAt
		}
	}

	out := make([]*models.UserBadgeSummary, 0, len(order))
	for _, slug := range order {
		out = append(out, bySlug[slug])
	}
	return out, nil
}

// count returns rows for (user, badge), used by idempotency assertions.
func (f *fakeStore) count(userID int64, badgeSlug string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, row := range f.rows {
		if row.UserID == userID && row.BadgeSlug == badgeSlug {
			n++
		}
	}
	return n
}

// ===============================
// FAKE BADGE CATALOG
// ===============================

type fakeCatalog struct {
	mu        sync.Mutex
	templates []*models.BadgeTemplate
	listErr   error
}

func (f *fakeCatalog) List(_ context.Context) ([]*models.BadgeTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]*models.BadgeTemplate(nil), f.templates...), nil
}

func (f *fakeCatalog) GetBySlug(_ context.Context, slug string) (*models.BadgeTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.templates {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, fmt.Errorf("badge template %q not found", slug)
}

func (f *fakeCatalog) GetMonthly(_ context.Context, month, year int) ([]*models.BadgeTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.BadgeTemplate
	for _, t := range f.templates {
		if t.Kind == models.KindMonthly && t.Monthly != nil && t.Monthly.Month == month && t.Monthly.Year == year {
			out = append(out, t)
		}
	}
	return out, nil
}

// ===============================
// TEMPLATE BUILDERS
// ===============================

func streakTemplate(slug string, kind models.BadgeKind, days int, multiplicity models.Multiplicity) *models.BadgeTemplate {
	return &models.BadgeTemplate{
		Slug:         slug,
		Name:         slug,
		Kind:         kind,
		Multiplicity: multiplicity,
		Streak:       &models.StreakCriteria{RequiredDays: days},
		IsActive:     true,
	}
}

func pointsTemplate(slug string, threshold int) *models.BadgeTemplate {
	return &models.BadgeTemplate{
		Slug:         slug,
		Name:         slug,
		Kind:         models.KindLifetimePoints,
		Multiplicity: models.MultiplicityOnce,
		Points:       &models.PointsCriteria{PointThreshold: threshold},
		IsActive:     true,
	}
}

func monthlyTemplate(slug string, month, year int, configure func(*models.MonthlyCriteria)) *models.BadgeTemplate {
	criteria := &models.MonthlyCriteria{Month: month, Year: year}
	if configure != nil {
		configure(criteria)
	}
	return &models.BadgeTemplate{
		Slug:         slug,
		Name:         slug,
		Kind:         models.KindMonthly,
		Multiplicity: models.MultiplicityOnce,
		Monthly:      criteria,
		IsActive:     true,
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func achievedEvent(userID int64, date time.Time, category string, points int) *models.CompletionEvent {
	return &models.CompletionEvent{
		UserID:       userID,
		Achieved:     true,
		AssignedDate: date,
		Category:     category,
		Points:       points,
	}
}
