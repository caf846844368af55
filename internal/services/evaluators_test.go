package services

import (
	"context"
	"testing"
	"time"

	"badgeforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillDays(ledger *fakeLedger, userID int64, from time.Time, days int, categories []string, points int) {
	for d := 0; d < days; d++ {
		date := from.AddDate(0, 0, d)
		for _, cat := range categories {
			ledger.add(completion(userID, date, cat, points))
		}
	}
}

func TestConsecutiveDayEvaluator(t *testing.T) {
	ctx := context.Background()

	t.Run("met on gap-free window", func(t *testing.T) {
		ledger := &fakeLedger{}
		fillDays(ledger, 1, day(2025, time.March, 1), 5, []string{models.CategoryActivity}, 1)

		evaluator := NewEvaluators(ledger, 365)[models.KindConsecutiveDayStreak]
		event := achievedEvent(1, day(2025, time.March, 5), models.CategoryActivity, 1)

		met, err := evaluator.Evaluate(ctx, event, streakTemplate("strong-start2", models.KindConsecutiveDayStreak, 5, models.MultiplicityOncePerDay))
		require.NoError(t, err)
		assert.True(t, met)
	})

	t.Run("not met with missing day", func(t *testing.T) {
		ledger := &fakeLedger{}
		for _, d := range []int{1, 2, 3, 5} {
			ledger.add(completion(1, day(2025, time.March, d), models.CategoryActivity, 1))
		}

		evaluator := NewEvaluators(ledger, 365)[models.KindConsecutiveDayStreak]
		event := achievedEvent(1, day(2025, time.March, 5), models.CategoryActivity, 1)

		met, err := evaluator.Evaluate(ctx, event, streakTemplate("strong-start2", models.KindConsecutiveDayStreak, 5, models.MultiplicityOncePerDay))
		require.NoError(t, err)
		assert.False(t, met)
	})

	t.Run("misconfigured template fails", func(t *testing.T) {
		evaluator := NewEvaluators(&fakeLedger{}, 365)[models.KindConsecutiveDayStreak]
		broken := &models.BadgeTemplate{Slug: "broken", Kind: models.KindConsecutiveDayStreak}
		event := achievedEvent(1, day(2025, time.March, 5), models.CategoryActivity, 1)

		_, err := evaluator.Evaluate(ctx, event, broken)
		assert.True(t, IsConfiguration(err))
	})

	t.Run("history window caps required days", func(t *testing.T) {
		ledger := &fakeLedger{}
		fillDays(ledger, 1, day(2025, time.March, 1), 5, models.DailyCategories(), 1)
		event := achievedEvent(1, day(2025, time.March, 5), models.CategoryActivity, 1)

		for _, kind := range []models.BadgeKind{models.KindConsecutiveDayStreak, models.KindFullDayStreak} {
			evaluator := NewEvaluators(ledger, 90)[kind]
			template := streakTemplate("marathon", kind, 180, models.MultiplicityOncePerDay)

			_, err := evaluator.Evaluate(ctx, event, template)
			require.Error(t, err)
			assert.True(t, IsConfiguration(err))
			assert.Contains(t, err.Error(), "90-day history window")

			// A template inside the window still evaluates.
			met, err := evaluator.Evaluate(ctx, event,
				streakTemplate("short", kind, 3, models.MultiplicityOncePerDay))
			require.NoError(t, err)
			assert.True(t, met)
		}
	})
}

func TestFullDayEvaluator_DistinctFromPresence(t *testing.T) {
	ctx := context.Background()

	// One category per day for 5 days: presence holds, full-day does not.
	ledger := &fakeLedger{}
	fillDays(ledger, 1, day(2025, time.March, 1), 5, []string{models.CategoryActivity}, 1)

	evaluators := NewEvaluators(ledger, 365)
	event := achievedEvent(1, day(2025, time.March, 5), models.CategoryActivity, 1)

	met, err := evaluators[models.KindConsecutiveDayStreak].Evaluate(ctx, event,
		streakTemplate("presence5", models.KindConsecutiveDayStreak, 5, models.MultiplicityOncePerDay))
	require.NoError(t, err)
	assert.True(t, met, "presence streak should hold")

	met, err = evaluators[models.KindFullDayStreak].Evaluate(ctx, event,
		streakTemplate("fullday5", models.KindFullDayStreak, 5, models.MultiplicityOncePerDay))
	require.NoError(t, err)
	assert.False(t, met, "full-day streak needs all categories")

	// All four categories each day flips the full-day verdict.
	full := &fakeLedger{}
	fillDays(full, 1, day(2025, time.March, 1), 5, models.DailyCategories(), 1)
	met, err = NewEvaluators(full, 365)[models.KindFullDayStreak].Evaluate(ctx, event,
		streakTemplate("fullday5", models.KindFullDayStreak, 5, models.MultiplicityOncePerDay))
	require.NoError(t, err)
	assert.True(t, met)
}

func TestLifetimePointsEvaluator_InclusiveThreshold(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{}
	ledger.add(
		completion(1, day(2025, time.March, 1), models.CategoryActivity, 40),
		completion(1, day(2025, time.March, 2), models.CategorySleep, 60),
	)

	evaluator := NewEvaluators(ledger, 365)[models.KindLifetimePoints]
	event := achievedEvent(1, day(2025, time.March, 2), models.CategorySleep, 60)

	met, err := evaluator.Evaluate(ctx, event, pointsTemplate("century", 100))
	require.NoError(t, err)
	assert.True(t, met, "sum of exactly 100 meets a 100 threshold")

	met, err = evaluator.Evaluate(ctx, event, pointsTemplate("millenium", 101))
	require.NoError(t, err)
	assert.False(t, met)
}

func TestMonthlyEvaluator(t *testing.T) {
	ctx := context.Background()

	t.Run("event outside the badge month never matches", func(t *testing.T) {
		ledger := &fakeLedger{}
		fillDays(ledger, 1, day(2025, time.April, 1), 10, models.DailyCategories(), 1)

		evaluator := NewEvaluators(ledger, 365)[models.KindMonthly]
		april := monthlyTemplate("april-2025", 4, 2025, func(c *models.MonthlyCriteria) {
			c.ExpectedCount = intPtr(10)
		})
		marchEvent := achievedEvent(1, day(2025, time.March, 31), models.CategoryActivity, 1)

		met, err := evaluator.Evaluate(ctx, marchEvent, april)
		require.NoError(t, err)
		assert.False(t, met, "March event must not satisfy an April badge")
	})

	t.Run("count threshold", func(t *testing.T) {
		ledger := &fakeLedger{}
		fillDays(ledger, 1, day(2025, time.March, 1), 5, models.DailyCategories(), 1) // 20 completions

		evaluator := NewEvaluators(ledger, 365)[models.KindMonthly]
		event := achievedEvent(1, day(2025, time.March, 5), models.CategoryActivity, 1)

		badge := monthlyTemplate("march-2025", 3, 2025, func(c *models.MonthlyCriteria) {
			c.ExpectedCount = intPtr(20)
		})
		met, err := evaluator.Evaluate(ctx, event, badge)
		require.NoError(t, err)
		assert.True(t, met)

		badge = monthlyTemplate("march-2025-b", 3, 2025, func(c *models.MonthlyCriteria) {
			c.ExpectedCount = intPtr(21)
		})
		met, err = evaluator.Evaluate(ctx, event, badge)
		require.NoError(t, err)
		assert.False(t, met)
	})

	t.Run("any one threshold suffices", func(t *testing.T) {
		ledger := &fakeLedger{}
		fillDays(ledger, 1, day(2025, time.March, 1), 3, []string{models.CategorySleep}, 5) // 3 completions, 15 points, 3 days

		evaluator := NewEvaluators(ledger, 365)[models.KindMonthly]
		event := achievedEvent(1, day(2025, time.March, 3), models.CategorySleep, 5)

		badge := monthlyTemplate("sleep-march", 3, 2025, func(c *models.MonthlyCriteria) {
			c.ExpectedCount = intPtr(50)      // not met
			c.ExpectedPointSum = intPtr(15)   // met
			c.UniqueDayCount = intPtr(30)     // not met
		})
		met, err := evaluator.Evaluate(ctx, event, badge)
		require.NoError(t, err)
		assert.True(t, met)
	})

	t.Run("category filter restricts completions", func(t *testing.T) {
		ledger := &fakeLedger{}
		fillDays(ledger, 1, day(2025, time.March, 1), 4, []string{models.CategoryActivity}, 5)
		ledger.add(completion(1, day(2025, time.March, 1), models.CategorySleep, 5))

		evaluator := NewEvaluators(ledger, 365)[models.KindMonthly]
		event := achievedEvent(1, day(2025, time.March, 4), models.CategorySleep, 5)

		badge := monthlyTemplate("sleep-march", 3, 2025, func(c *models.MonthlyCriteria) {
			c.Category = strPtr("sleep")
			c.ExpectedCount = intPtr(2)
		})
		met, err := evaluator.Evaluate(ctx, event, badge)
		require.NoError(t, err)
		assert.False(t, met, "only 1 sleep completion despite 5 total")
	})

	t.Run("unique day threshold counts days not completions", func(t *testing.T) {
		ledger := &fakeLedger{}
		// 8 completions across 2 distinct days.
		fillDays(ledger, 1, day(2025, time.March, 1), 2, models.DailyCategories(), 1)

		evaluator := NewEvaluators(ledger, 365)[models.KindMonthly]
		event := achievedEvent(1, day(2025, time.March, 2), models.CategoryActivity, 1)

		badge := monthlyTemplate("days-march", 3, 2025, func(c *models.MonthlyCriteria) {
			c.UniqueDayCount = intPtr(3)
		})
		met, err := evaluator.Evaluate(ctx, event, badge)
		require.NoError(t, err)
		assert.False(t, met)

		badge = monthlyTemplate("days-march-b", 3, 2025, func(c *models.MonthlyCriteria) {
			c.UniqueDayCount = intPtr(2)
		})
		met, err = evaluator.Evaluate(ctx, event, badge)
		require.NoError(t, err)
		assert.True(t, met)
	})
}
