package services

import (
	"testing"
	"time"

	"badgeforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func completion(userID int64, date time.Time, category string, points int) *models.Completion {
	return &models.Completion{
		UserID:       userID,
		AssignedDate: date,
		Category:     category,
		Points:       points,
		Achieved:     true,
		CompletedAt:  date.Add(18 * time.Hour),
	}
}

func TestDayKey_NextAcrossYearBoundary(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		want DayKey
	}{
		{"regular day", day(2025, time.March, 4), DayKey{2025, 64}},
		{"end of common year", day(2023, time.December, 31), DayKey{2024, 1}},
		{"end of leap year", day(2024, time.December, 31), DayKey{2025, 1}},
		{"leap day", day(2024, time.February, 29), DayKey{2024, 61}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewDayKey(tt.from).Next())
		})
	}
}

func TestDayKey_NoAdditiveCollision(t *testing.T) {
	// Day 1 of 2024 and day 366 of 2023 would collide under a year+dayOfYear
	// sum; the composite key keeps them distinct.
	a := NewDayKey(day(2024, time.January, 1))
	b := DayKey{Year: 2023, YearDay: 366}
	assert.NotEqual(t, a, b)
	assert.Positive(t, a.Compare(b))
}

func TestGroupByDay_OrdersAndBuckets(t *testing.T) {
	completions := []*models.Completion{
		completion(1, day(2025, time.March, 3), models.CategorySleep, 2),
		completion(1, day(2025, time.March, 1), models.CategoryActivity, 1),
		completion(1, day(2025, time.March, 1), models.CategoryNutrition, 3),
		completion(1, day(2025, time.March, 2), models.CategoryWellness, 1),
	}

	buckets := GroupByDay(completions)
	require.Len(t, buckets, 3)
	assert.Equal(t, day(2025, time.March, 1), buckets[0].Date)
	assert.Len(t, buckets[0].Completions, 2)
	assert.Equal(t, 4, buckets[0].PointSum())
	assert.Equal(t, day(2025, time.March, 3), buckets[2].Date)
}

func TestHasPresenceStreak_GapBreaksRun(t *testing.T) {
	// Days 1,2,3,5 with day 4 missing: no 5-day streak ending on day 5.
	var completions []*models.Completion
	for _, d := range []int{1, 2, 3, 5} {
		completions = append(completions, completion(1, day(2025, time.March, d), models.CategoryActivity, 1))
	}
	buckets := GroupByDay(completions)
	end := NewDayKey(day(2025, time.March, 5))

	assert.False(t, HasPresenceStreak(buckets, end, 5))

	// Filling day 4 completes the run.
	completions = append(completions, completion(1, day(2025, time.March, 4), models.CategorySleep, 1))
	buckets = GroupByDay(completions)
	assert.True(t, HasPresenceStreak(buckets, end, 5))
}

func TestHasPresenceStreak_WindowMustEndOnEvaluationDay(t *testing.T) {
	var completions []*models.Completion
	for d := 1; d <= 3; d++ {
		completions = append(completions, completion(1, day(2025, time.March, d), models.CategoryActivity, 1))
	}
	buckets := GroupByDay(completions)

	// A 3-day run exists, but not one ending on March 4.
	assert.True(t, HasPresenceStreak(buckets, NewDayKey(day(2025, time.March, 3)), 3))
	assert.False(t, HasPresenceStreak(buckets, NewDayKey(day(2025, time.March, 4)), 3))
}

func TestHasPresenceStreak_AcrossYearBoundary(t *testing.T) {
	completions := []*models.Completion{
		completion(1, day(2024, time.December, 30), models.CategoryActivity, 1),
		completion(1, day(2024, time.December, 31), models.CategoryActivity, 1),
		completion(1, day(2025, time.January, 1), models.CategoryActivity, 1),
	}
	buckets := GroupByDay(completions)
	assert.True(t, HasPresenceStreak(buckets, NewDayKey(day(2025, time.January, 1)), 3))
}

func TestIsFullDay_RequiresAllCategories(t *testing.T) {
	march1 := day(2025, time.March, 1)
	bucket := &DayBucket{
		Key:  NewDayKey(march1),
		Date: march1,
		Completions: []*models.Completion{
			completion(1, march1, models.CategoryActivity, 1),
			completion(1, march1, models.CategoryNutrition, 1),
			completion(1, march1, models.CategorySleep, 1),
		},
	}
	assert.False(t, bucket.IsFullDay(), "3 of 4 categories is not a full day")

	bucket.Completions = append(bucket.Completions, completion(1, march1, "wellness", 1))
	assert.True(t, bucket.IsFullDay(), "categories match case-insensitively")
}

func TestHasFullDayStreak_PartialDayBreaksRun(t *testing.T) {
	var completions []*models.Completion
	for d := 1; d <= 5; d++ {
		for _, cat := range models.DailyCategories() {
			if d == 3 && cat == models.CategorySleep {
				continue // day 3 misses one category
			}
			completions = append(completions, completion(1, day(2025, time.March, d), cat, 1))
		}
	}
	buckets := GroupByDay(completions)
	end := NewDayKey(day(2025, time.March, 5))

	assert.False(t, HasFullDayStreak(buckets, end, 5))
	// The partial day still counts for presence.
	assert.True(t, HasPresenceStreak(buckets, end, 5))
}

func TestUniqueDayCount(t *testing.T) {
	completions := []*models.Completion{
		completion(1, day(2025, time.March, 1), models.CategoryActivity, 1),
		completion(1, day(2025, time.March, 1), models.CategorySleep, 1),
		completion(1, day(2025, time.March, 7), models.CategoryActivity, 1),
	}
	assert.Equal(t, 2, UniqueDayCount(completions))
	assert.Equal(t, 0, UniqueDayCount(nil))
}
