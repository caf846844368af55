package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"badgeforge/internal/config"
	"badgeforge/internal/events"
	"badgeforge/internal/models"
	"badgeforge/internal/repositories"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// WarriorBadgeSlug is the first-access badge, awarded outside the
// completion-event flow.
const WarriorBadgeSlug = "the-warrior"

// TemplateFailure records one template whose evaluation or award attempt
// failed. Failures are isolated: they never stop the other templates.
type TemplateFailure struct {
	Slug string
	Err  error
}

// EvaluationResult summarizes one completion event's processing.
type EvaluationResult struct {
	UserID    int64
	Evaluated int
	Awarded   []string
	Failures  []TemplateFailure
	Duration  time.Duration
}

// BadgeService is the evaluation dispatcher: the entry point invoked per
// completion event. It is stateless between invocations; every decision is
// reconstructed from the catalog and the completion ledger, and the earned
// badge ledger is the only thing it writes.
type BadgeService struct {
	catalog     repositories.BadgeCatalog
	store       repositories.EarnedBadgeStore
	evaluators  map[models.BadgeKind]Evaluator
	bus         events.EventBus
	validate    *validator.Validate
	logger      *zap.Logger
	concurrency int
	timeout     time.Duration
}

// NewBadgeService creates an evaluation dispatcher. bus may be nil when no
// downstream collaborator listens for badge.earned events.
func NewBadgeService(
	catalog repositories.BadgeCatalog,
	ledger repositories.CompletionLedger,
	store repositories.EarnedBadgeStore,
	bus events.EventBus,
	cfg *config.EngineConfig,
	logger *zap.Logger,
) *BadgeService {
	return &BadgeService{
		catalog:     catalog,
		store:       store,
		evaluators:  NewEvaluators(ledger, cfg.MaxStreakDays),
		bus:         bus,
		validate:    validator.New(),
		logger:      logger,
		concurrency: cfg.TemplateConcurrency,
		timeout:     cfg.TemplateTimeout,
	}
}

// OnCompletionEvent evaluates every relevant badge template against the
// event. Non-achieved events are no-ops; malformed events are dropped with a
// warning. The call returns only after every template has been evaluated,
// awarded, or skipped, so the caller can acknowledge delivery afterwards.
// Processing the same event twice produces the same ledger state: the
// multiplicity-aware award path absorbs redelivery.
func (s *BadgeService) OnCompletionEvent(ctx context.Context, event *models.CompletionEvent) (*EvaluationResult, error) {
	start := time.Now()

	if err := s.validate.Struct(event); err != nil {
		s.logger.Warn("Dropping malformed completion event",
			zap.Int64("user_id", event.UserID),
			zap.Error(err),
		)
		return nil, NewValidationError("malformed completion event", err)
	}

	result := &EvaluationResult{UserID: event.UserID}
	if !event.Achieved {
		result.Duration = time.Since(start)
		return result, nil
	}

	templates, err := s.relevantTemplates(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to load badge catalog: %w", err)
	}

	// Fan out over templates with bounded concurrency. No ordering exists
	// between templates; each one is isolated with its own timeout and
	// panic containment.
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, s.concurrency)
	)

	for _, template := range templates {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(template *models.BadgeTemplate) {
			defer wg.Done()
			defer func() { <-semaphore }()

			awarded, err := s.evaluateTemplate(ctx, event, template)

			mu.Lock()
			defer mu.Unlock()
			result.Evaluated++
			if err != nil {
				result.Failures = append(result.Failures, TemplateFailure{Slug: template.Slug, Err: err})
				return
			}
			if awarded {
				result.Awarded = append(result.Awarded, template.Slug)
			}
		}(template)
	}
	wg.Wait()

	result.Duration = time.Since(start)
	if len(result.Awarded) > 0 || len(result.Failures) > 0 {
		s.logger.Info("Completion event evaluated",
			zap.Int64("user_id", event.UserID),
			zap.Int("templates", result.Evaluated),
			zap.Strings("awarded", result.Awarded),
			zap.Int("failures", len(result.Failures)),
			zap.Duration("duration", result.Duration),
		)
	}
	return result, nil
}

// relevantTemplates filters the catalog for one event: monthly templates
// only when they cover the event's assigned date, everything else always.
func (s *BadgeService) relevantTemplates(ctx context.Context, event *models.CompletionEvent) ([]*models.BadgeTemplate, error) {
	all, err := s.catalog.List(ctx)
	if err != nil {
		return nil, err
	}

	relevant := make([]*models.BadgeTemplate, 0, len(all))
	for _, template := range all {
		switch template.Kind {
		case models.KindFirstAccess:
			// Awarded on onboarding, never probed by completion events.
			continue
		case models.KindMonthly:
			if template.Monthly == nil || !template.Monthly.Covers(event.AssignedDate) {
				continue
			}
		}
		relevant = append(relevant, template)
	}
	return relevant, nil
}

// evaluateTemplate runs one template's evaluator under a timeout and, on a
// met criterion, attempts the award.
func (s *BadgeService) evaluateTemplate(ctx context.Context, event *models.CompletionEvent, template *models.BadgeTemplate) (awarded bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Template evaluation panicked",
				zap.String("slug", template.Slug),
				zap.Any("panic", r),
			)
			err = NewInternalError(fmt.Sprintf("evaluation of badge %q panicked: %v", template.Slug, r))
		}
	}()

	evaluator, ok := s.evaluators[template.Kind]
	if !ok {
		s.logger.Error("No evaluator for badge kind",
			zap.String("slug", template.Slug),
			zap.String("kind", string(template.Kind)),
		)
		return false, NewConfigurationError(
			fmt.Sprintf("badge %q has unknown kind %q", template.Slug, template.Kind), nil)
	}

	evalCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	met, err := evaluator.Evaluate(evalCtx, event, template)
	if err != nil {
		if evalCtx.Err() == context.DeadlineExceeded {
			return false, NewTimeoutError(
				fmt.Sprintf("evaluation of badge %q timed out", template.Slug), err)
		}
		return false, err
	}
	if !met {
		return false, nil
	}

	return s.tryAward(evalCtx, event.UserID, template, event.AssignedDate)
}

// tryAward records the badge if multiplicity allows. Duplicate attempts and
// lost insert races surface as awarded=false, never as errors. The storage
// layer's unique indexes are the final arbiter under concurrency; the
// lookup here only avoids pointless inserts.
func (s *BadgeService) tryAward(ctx context.Context, userID int64, template *models.BadgeTemplate, evalDay time.Time) (bool, error) {
	latest, err := s.store.Latest(ctx, userID, template.Slug)
	if err != nil {
		return false, fmt.Errorf("failed to look up prior award of %q: %w", template.Slug, err)
	}

	if latest != nil {
		switch template.Multiplicity {
		case models.MultiplicityOnce:
			return false, nil
		case models.MultiplicityOncePerDay:
			if sameCalendarDay(latest.EarnedDate(), evalDay) {
				return false, nil
			}
		}
	}

	var earnedDay *time.Time
	if template.Multiplicity == models.MultiplicityOncePerDay {
		day := time.Date(evalDay.Year(), evalDay.Month(), evalDay.Day(), 0, 0, 0, 0, time.UTC)
		earnedDay = &day
	}

	earnedAt := time.Now()
	inserted, err := s.store.TryInsert(ctx, userID, template.Slug, earnedAt, earnedDay)
	if err != nil {
		return false, fmt.Errorf("failed to award badge %q: %w", template.Slug, err)
	}
	if !inserted {
		return false, nil
	}

	s.logger.Info("Badge awarded",
		zap.Int64("user_id", userID),
		zap.String("slug", template.Slug),
		zap.String("multiplicity", string(template.Multiplicity)),
	)

	if s.bus != nil {
		if err := s.bus.PublishAsync(ctx, events.NewBadgeEarnedEvent(userID, template.Slug, earnedAt)); err != nil {
			// The award is already durable; a full notification queue must
			// not fail the evaluation.
			s.logger.Warn("Failed to publish badge earned event",
				zap.String("slug", template.Slug),
				zap.Error(err),
			)
		}
	}
	return true, nil
}

// AssignWarriorBadge awards the first-access badge. Called by the onboarding
// flow, not by completion events.
func (s *BadgeService) AssignWarriorBadge(ctx context.Context, userID int64) (bool, error) {
	template, err := s.catalog.GetBySlug(ctx, WarriorBadgeSlug)
	if err != nil {
		return false, fmt.Errorf("failed to load warrior badge template: %w", err)
	}
	return s.tryAward(ctx, userID, template, time.Now())
}

// GetUserBadges returns the dashboard read model for a user.
func (s *BadgeService) GetUserBadges(ctx context.Context, userID int64) ([]*models.UserBadgeSummary, error) {
	if userID <= 0 {
		return nil, NewValidationError("user id must be positive", nil)
	}
	return s.store.SummarizeForUser(ctx, userID)
}

// ListTemplates returns the full active catalog.
func (s *BadgeService) ListTemplates(ctx context.Context) ([]*models.BadgeTemplate, error) {
	return s.catalog.List(ctx)
}

// sameCalendarDay compares two instants as calendar days.
func sameCalendarDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
