// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/shared"
	"github.com/alem-hub/study-progress/pkg/logger"
	"github.com/alem-hub/study-progress/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE SESSION COMMAND
// Applies one completed work session to the user's progress aggregate:
// read, run the engine, compare-and-swap commit, retry the whole pipeline on
// a version conflict. Events are published only after a successful commit.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteSessionCommand contains the data of a completed work session.
type CompleteSessionCommand struct {
	// UserID identifies the aggregate owner.
	UserID string

	// DurationSeconds is the session length; must be positive.
	DurationSeconds int64

	// CompletedAt is when the session ended; required.
	CompletedAt time.Time

	// ActivityLabel is a free-form category; empty means "general".
	ActivityLabel string

	// CorrelationID for tracing.
	CorrelationID string
}

func (c CompleteSessionCommand) session() progress.Session {
	return progress.Session{
		UserID:          c.UserID,
		DurationSeconds: c.DurationSeconds,
		CompletedAt:     c.CompletedAt,
		ActivityLabel:   c.ActivityLabel,
	}
}

// Validate validates the command without touching any state.
func (c CompleteSessionCommand) Validate() error {
	_, err := c.session().Normalize()
	return err
}

// CompleteSessionResult contains the result of applying a session.
type CompleteSessionResult struct {
	progress.Result

	// Progress is the committed aggregate.
	Progress *progress.UserProgress `json:"-"`

	// SessionXP is the breakdown of the session award.
	SessionXP progress.SessionXP `json:"-"`

	// Streak describes the day transition.
	Streak progress.StreakUpdate `json:"-"`

	// Attempts is how many pipeline runs the commit took.
	Attempts int `json:"-"`

	// Events contains the published domain events.
	Events []shared.Event `json:"-"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CompleteSessionHandler handles the CompleteSessionCommand.
type CompleteSessionHandler struct {
	engine       *progress.Engine
	store        progress.Store
	publisher    shared.EventPublisher
	log          *logger.Logger
	retrier      *retry.Retrier
	storeTimeout time.Duration
}

// CompleteSessionHandlerConfig contains configuration for the handler.
type CompleteSessionHandlerConfig struct {
	// MaxAttempts bounds pipeline runs on version conflicts.
	MaxAttempts int

	// InitialBackoff and MaxBackoff shape the jittered exponential backoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// StoreTimeout bounds every single Get and Commit. Zero disables it.
	StoreTimeout time.Duration

	// Sleep overrides the wait between attempts (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultCompleteSessionHandlerConfig returns default configuration.
func DefaultCompleteSessionHandlerConfig() CompleteSessionHandlerConfig {
	return CompleteSessionHandlerConfig{
		MaxAttempts:    5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		StoreTimeout:   2 * time.Second,
	}
}

// NewCompleteSessionHandler creates a new CompleteSessionHandler.
// publisher and log may be nil.
func NewCompleteSessionHandler(
	engine *progress.Engine,
	store progress.Store,
	publisher shared.EventPublisher,
	log *logger.Logger,
	config CompleteSessionHandlerConfig,
) *CompleteSessionHandler {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultCompleteSessionHandlerConfig().MaxAttempts
	}
	if log == nil {
		log = logger.Nop()
	}

	h := &CompleteSessionHandler{
		engine:       engine,
		store:        store,
		publisher:    publisher,
		log:          log.With(logger.Component("complete_session")),
		storeTimeout: config.StoreTimeout,
	}

	h.retrier = retry.ConflictRetrier(config.MaxAttempts, config.InitialBackoff, config.MaxBackoff, shared.IsConflict,
		retry.WithSleep(config.Sleep),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			h.log.Debug("version conflict, rerunning pipeline",
				logger.Attempt(attempt), logger.Duration("backoff", delay), logger.Err(err))
		}),
	)
	return h
}

// Handle executes the complete session command.
func (h *CompleteSessionHandler) Handle(ctx context.Context, cmd CompleteSessionCommand) (*CompleteSessionResult, error) {
	// Validation happens once, before any read or write.
	session, err := cmd.session().Normalize()
	if err != nil {
		return nil, fmt.Errorf("complete_session: %w", err)
	}

	log := h.log.With(logger.UserID(session.UserID))
	if cmd.CorrelationID != "" {
		log = log.WithRequestID(cmd.CorrelationID)
	}

	var (
		outcome  *progress.Outcome
		attempts int
	)
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		attempts = retry.AttemptFromContext(ctx)
		out, err := h.apply(ctx, session)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	if err != nil {
		if retry.IsExhausted(err) {
			log.Warn("giving up after version conflicts", logger.Attempt(attempts), logger.Err(err))
			return nil, fmt.Errorf("complete_session: %w: %w", shared.ErrRetriesExhausted, err)
		}
		log.Error("session not applied", logger.Attempt(attempts), logger.Err(err))
		return nil, fmt.Errorf("complete_session: %w", err)
	}

	for _, w := range outcome.Badges.Warnings {
		log.Warn("badge skipped", logger.BadgeID(w.BadgeID), logger.String("reason", w.Reason))
	}

	events := progressEvents(outcome, cmd.CorrelationID)
	h.publish(log, events)

	log.Info("session applied",
		logger.XPAmount(outcome.Result.XPGained),
		logger.UserLevel(outcome.Result.NewLevel),
		logger.Version(outcome.Progress.Version),
		logger.Attempt(attempts),
		logger.Strings("badges", outcome.Result.NewlyUnlockedBadgeIDs),
	)

	return &CompleteSessionResult{
		Result:    outcome.Result,
		Progress:  outcome.Progress,
		SessionXP: outcome.SessionXP,
		Streak:    outcome.Streak,
		Attempts:  attempts,
		Events:    events,
	}, nil
}

// apply is one full pipeline run: read, compute, compare-and-swap.
func (h *CompleteSessionHandler) apply(ctx context.Context, session progress.Session) (*progress.Outcome, error) {
	current, err := h.get(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	out, err := h.engine.Apply(current, session)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	if err := h.commit(ctx, out.Progress, out.ExpectedVersion); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *CompleteSessionHandler) get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	ctx, cancel := h.withStoreTimeout(ctx)
	defer cancel()

	p, err := h.store.Get(ctx, userID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, storeError("Get", err)
	}
	return p, nil
}

func (h *CompleteSessionHandler) commit(ctx context.Context, p *progress.UserProgress, expected int64) error {
	ctx, cancel := h.withStoreTimeout(ctx)
	defer cancel()

	if err := h.store.Commit(ctx, p, expected); err != nil {
		if shared.IsConflict(err) {
			return err
		}
		return storeError("Commit", err)
	}
	return nil
}

func (h *CompleteSessionHandler) withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.storeTimeout)
}

func storeError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.WrapError("store", op, shared.ErrTimeout, "store call timed out", err)
	}
	return shared.WrapError("store", op, shared.ErrServiceUnavailable, "store call failed", err)
}

func (h *CompleteSessionHandler) publish(log *logger.Logger, events []shared.Event) {
	if h.publisher == nil {
		return
	}
	for _, e := range events {
		if err := h.publisher.Publish(e); err != nil {
			log.Warn("event not published", logger.String("event_type", string(e.EventType())), logger.Err(err))
		}
	}
}

// progressEvents derives the domain events of a committed outcome.
func progressEvents(out *progress.Outcome, correlationID string) []shared.Event {
	p := out.Progress
	base := func(t shared.EventType) shared.BaseEvent {
		return shared.NewBaseEvent(t, p.UserID, p.Version, p.UpdatedAt).WithCorrelationID(correlationID)
	}

	events := []shared.Event{
		shared.SessionCompletedEvent{
			BaseEvent:       base(shared.EventSessionCompleted),
			UserID:          p.UserID,
			DurationSeconds: out.Session.DurationSeconds,
			ActivityLabel:   out.Session.ActivityLabel,
			CompletedAt:     out.Session.CompletedAt,
			XPGained:        out.Result.XPGained,
		},
	}

	if out.SessionAward.Delta > 0 {
		events = append(events, shared.XPGainedEvent{
			BaseEvent: base(shared.EventXPGained),
			UserID:    p.UserID,
			Amount:    out.SessionAward.Delta,
			NewTotal:  out.SessionAward.NewXP,
			Source:    shared.XPSourceSession,
		})
	}
	if out.Badges.Award.Delta > 0 {
		events = append(events, shared.XPGainedEvent{
			BaseEvent: base(shared.EventXPGained),
			UserID:    p.UserID,
			Amount:    out.Badges.Award.Delta,
			NewTotal:  out.Badges.Award.NewXP,
			Source:    shared.XPSourceBadges,
		})
	}

	if out.Streak.Broken() {
		events = append(events, shared.StreakBrokenEvent{
			BaseEvent:      base(shared.EventStreakBroken),
			UserID:         p.UserID,
			PreviousStreak: out.Streak.PreviousStreak,
			DaysMissed:     out.Streak.DaysMissed,
		})
	}
	if out.Streak.FirstSessionToday {
		events = append(events, shared.StreakUpdatedEvent{
			BaseEvent:     base(shared.EventStreakUpdated),
			UserID:        p.UserID,
			CurrentStreak: out.Streak.CurrentStreak,
			LongestStreak: out.Streak.LongestStreak,
			Milestone:     out.Streak.Milestone,
		})
	}

	if out.Result.LeveledUp {
		events = append(events, shared.LevelUpEvent{
			BaseEvent:    base(shared.EventLevelUp),
			UserID:       p.UserID,
			OldLevel:     out.Result.OldLevel,
			NewLevel:     out.Result.NewLevel,
			LevelsGained: out.Result.LevelsGained,
		})
	}

	for _, b := range out.Badges.Unlocked {
		events = append(events, shared.BadgeUnlockedEvent{
			BaseEvent: base(shared.EventBadgeUnlocked),
			UserID:    p.UserID,
			BadgeID:   b.ID,
			Name:      b.Name,
			Rarity:    string(b.Rarity),
			XPReward:  b.XPReward,
		})
	}

	return events
}
