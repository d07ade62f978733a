package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/keypad-relay/internal/convert"
	"github.com/and161185/keypad-relay/internal/errs"
	"github.com/and161185/keypad-relay/internal/model"
	"github.com/and161185/keypad-relay/internal/repository"
)

// DefaultRecentLimit caps how many events a history query returns.
const DefaultRecentLimit = 20

// EventLogService records and reads back component events.
type EventLogService interface {
	// Track appends an event stamped with the current server time.
	Track(ctx context.Context, userKey, component, value string) error
	// Recent returns flattened events for (component, userKey), newest first.
	// Items that cannot be encoded are skipped.
	Recent(ctx context.Context, component, userKey string, limit int) ([]map[string]any, error)
}

type EventLogServiceImpl struct {
	repo repository.EventRepository
	log  *zap.Logger
	now  func() time.Time
}

// NewEventLogService constructs EventLogService.
func NewEventLogService(repo repository.EventRepository, log *zap.Logger) *EventLogServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventLogServiceImpl{repo: repo, log: log, now: time.Now}
}

// Track validates input and appends the event.
func (s *EventLogServiceImpl) Track(ctx context.Context, userKey, component, value string) error {
	if userKey == "" || component == "" {
		return fmt.Errorf("%w: empty user key/component", errs.ErrValidation)
	}
	e := model.Event{
		UserKey:   userKey,
		Component: component,
		Value:     value,
		EventTime: s.now().UTC(),
	}
	if err := s.repo.Append(ctx, e); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Recent clamps limit to (0, DefaultRecentLimit] and flattens the result.
func (s *EventLogServiceImpl) Recent(ctx context.Context, component, userKey string, limit int) ([]map[string]any, error) {
	if userKey == "" || component == "" {
		return nil, fmt.Errorf("%w: empty user key/component", errs.ErrValidation)
	}
	if limit <= 0 || limit > DefaultRecentLimit {
		limit = DefaultRecentLimit
	}
	evs, err := s.repo.Recent(ctx, component, userKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return convert.FlattenAll(evs, func(i int, err error) {
		s.log.Error("skip event",
			zap.String("component", component),
			zap.Int("index", i),
			zap.Any("event", evs[i]),
			zap.Error(err),
		)
	}), nil
}
