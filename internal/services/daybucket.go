package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"badgeforge/internal/models"
	"badgeforge/internal/repositories"

	"golang.org/x/exp/slices"
)

// ===============================
// DAY KEYS
// ===============================

// DayKey identifies one calendar day without ambiguity across year
// boundaries. A (year, day-of-year) composite is used rather than any
// additive scheme: sums like year+dayOfYear collide (day 1 of year Y+1 and
// day 366 of year Y produce the same value for suitable Y).
type DayKey struct {
	Year    int
	YearDay int
}

// NewDayKey builds the key for the calendar day containing t.
func NewDayKey(t time.Time) DayKey {
	return DayKey{Year: t.Year(), YearDay: t.YearDay()}
}

// Next returns the key for the following calendar day.
func (k DayKey) Next() DayKey {
	if k.YearDay >= daysInYear(k.Year) {
		return DayKey{Year: k.Year + 1, YearDay: 1}
	}
	return DayKey{Year: k.Year, YearDay: k.YearDay + 1}
}

// Compare orders keys chronologically.
func (k DayKey) Compare(other DayKey) int {
	if k.Year != other.Year {
		return k.Year - other.Year
	}
	return k.YearDay - other.YearDay
}

func (k DayKey) String() string {
	return fmt.Sprintf("%04d-%03d", k.Year, k.YearDay)
}

func daysInYear(year int) int {
	if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
		return 366
	}
	return 365
}

// ===============================
// DAY BUCKETS
// ===============================

// DayBucket holds all achieved completions sharing one calendar day.
type DayBucket struct {
	Key         DayKey
	Date        time.Time
	Completions []*models.Completion
}

// PointSum returns the total points in the bucket.
func (b *DayBucket) PointSum() int {
	sum := 0
	for _, c := range b.Completions {
		sum += c.Points
	}
	return sum
}

// IsFullDay reports whether the bucket holds achieved completions for every
// expected daily category. Partial days (1-3 of 4) keep presence streaks
// alive but break full-day streaks.
func (b *DayBucket) IsFullDay() bool {
	seen := make(map[string]bool, models.DailyCategoryCount)
	for _, c := range b.Completions {
		seen[strings.ToLower(c.Category)] = true
	}
	for _, category := range models.DailyCategories() {
		if !seen[strings.ToLower(category)] {
			return false
		}
	}
	return true
}

// DayBucketAggregator groups a user's achieved completions into ordered
// calendar-day buckets and answers consecutive-run questions over them. It
// holds no state of its own: every call reconstructs buckets from the
// completion ledger, which keeps streak facts correct under retroactive
// completions and event redelivery.
type DayBucketAggregator struct {
	ledger repositories.CompletionLedger
}

// NewDayBucketAggregator creates a new aggregator over the given ledger.
func NewDayBucketAggregator(ledger repositories.CompletionLedger) *DayBucketAggregator {
	return &DayBucketAggregator{ledger: ledger}
}

// Buckets returns the user's achieved completions in [start, end] grouped by
// calendar day, ordered by date ascending. Days without achieved completions
// produce no bucket; consumers detect gaps via DayKey succession.
func (a *DayBucketAggregator) Buckets(ctx context.Context, userID int64, start, end time.Time) ([]*DayBucket, error) {
	completions, err := a.ledger.Query(ctx, userID, start, end, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load completions for bucketing: %w", err)
	}
	return GroupByDay(completions), nil
}

// GroupByDay buckets completions by calendar day, ordered ascending.
func GroupByDay(completions []*models.Completion) []*DayBucket {
	byKey := make(map[DayKey]*DayBucket)
	for _, c := range completions {
		key := NewDayKey(c.AssignedDate)
		bucket, ok := byKey[key]
		if !ok {
			bucket = &DayBucket{Key: key, Date: truncateToDay(c.AssignedDate)}
			byKey[key] = bucket
		}
		bucket.Completions = append(bucket.Completions, c)
	}

	buckets := make([]*DayBucket, 0, len(byKey))
	for _, bucket := range byKey {
		buckets = append(buckets, bucket)
	}
	slices.SortFunc(buckets, func(a, b *DayBucket) int {
		return a.Key.Compare(b.Key)
	})
	return buckets
}

// HasConsecutiveRun reports whether buckets cover a gap-free run of exactly
// `days` calendar days ending on endDay, with every bucket passing ok. Fewer
// buckets than days, any gap between adjacent buckets, or a failing bucket
// breaks the run.
func HasConsecutiveRun(buckets []*DayBucket, endDay DayKey, days int, ok func(*DayBucket) bool) bool {
	if days <= 0 || len(buckets) < days {
		return false
	}

	window := buckets[len(buckets)-days:]
	if window[len(window)-1].Key != endDay {
		return false
	}
	for i, bucket := range window {
		if i > 0 && window[i-1].Key.Next() != bucket.Key {
			return false
		}
		if !ok(bucket) {
			return false
		}
	}
	return true
}

// HasPresenceStreak reports a gap-free run of `days` days ending on endDay
// where every day has at least one achieved completion.
func HasPresenceStreak(buckets []*DayBucket, endDay DayKey, days int) bool {
	return HasConsecutiveRun(buckets, endDay, days, func(b *DayBucket) bool {
		return len(b.Completions) > 0
	})
}

// HasFullDayStreak reports a gap-free run of `days` days ending on endDay
// where every day has all expected categories achieved.
func HasFullDayStreak(buckets []*DayBucket, endDay DayKey, days int) bool {
	return HasConsecutiveRun(buckets, endDay, days, func(b *DayBucket) bool {
		return b.IsFullDay()
	})
}

// UniqueDayCount returns the number of distinct calendar days present.
func UniqueDayCount(completions []*models.Completion) int {
	days := make(map[DayKey]struct{})
	for _, c := range completions {
		days[NewDayKey(c.AssignedDate)] = struct{}{}
	}
	return len(days)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
