package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/keypad-relay/internal/cache"
	"github.com/and161185/keypad-relay/internal/errs"
)

func stateKey(userKey, itemType string) string { return userKey + "#" + itemType }
func commandsKey(userKey string) string        { return userKey + "##Cmds" }

// MailboxService is the per-(user key, item type) ephemeral store.
// Entries may be evicted at any time. Append and drain are read-then-write
// sequences without locking: concurrent producers can lose commands.
type MailboxService interface {
	// PutState overwrites the entry for (userKey, itemType).
	PutState(ctx context.Context, userKey, itemType string, payload []byte) error
	// GetState returns the entry or errs.ErrNotFound; clear deletes it after the read.
	GetState(ctx context.Context, userKey, itemType string, clear bool) ([]byte, error)
	// AppendCommand adds cmd to the end of the user's command queue.
	AppendCommand(ctx context.Context, userKey string, cmd json.RawMessage) error
	// DrainCommands returns the queued commands in order; clear deletes the queue.
	DrainCommands(ctx context.Context, userKey string, clear bool) ([]json.RawMessage, error)
}

type MailboxServiceImpl struct {
	cache cache.Cache
	log   *zap.Logger
}

// NewMailboxService constructs MailboxService over the given cache.
func NewMailboxService(c cache.Cache, log *zap.Logger) *MailboxServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailboxServiceImpl{cache: c, log: log}
}

// PutState stores payload with no expiry of its own.
func (s *MailboxServiceImpl) PutState(ctx context.Context, userKey, itemType string, payload []byte) error {
	if userKey == "" || itemType == "" {
		return fmt.Errorf("%w: empty user key/item type", errs.ErrValidation)
	}
	if err := s.cache.Set(ctx, stateKey(userKey, itemType), payload, 0); err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	return nil
}

// GetState reads the entry. A failing cache read is logged and reported as absent.
func (s *MailboxServiceImpl) GetState(ctx context.Context, userKey, itemType string, clear bool) ([]byte, error) {
	if userKey == "" || itemType == "" {
		return nil, fmt.Errorf("%w: empty user key/item type", errs.ErrValidation)
	}
	key := stateKey(userKey, itemType)
	b, found := s.read(ctx, key)
	if !found {
		return nil, errs.ErrNotFound
	}
	if clear {
		if err := s.cache.Del(ctx, key); err != nil {
			return nil, fmt.Errorf("clear state: %w", err)
		}
	}
	return b, nil
}

// AppendCommand reads the queue, appends cmd and writes it back.
func (s *MailboxServiceImpl) AppendCommand(ctx context.Context, userKey string, cmd json.RawMessage) error {
	if userKey == "" {
		return fmt.Errorf("%w: empty user key", errs.ErrValidation)
	}
	if !json.Valid(cmd) {
		return fmt.Errorf("%w: command is not JSON", errs.ErrValidation)
	}
	key := commandsKey(userKey)

	var queue []json.RawMessage
	b, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		if err := json.Unmarshal(b, &queue); err != nil {
			return fmt.Errorf("decode command queue: %w", err)
		}
	case errors.Is(err, cache.ErrMiss):
	default:
		// Treating this as empty would overwrite pending commands.
		return fmt.Errorf("read command queue: %w", err)
	}

	queue = append(queue, cmd)
	out, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("encode command queue: %w", err)
	}
	if err := s.cache.Set(ctx, key, out, 0); err != nil {
		return fmt.Errorf("write command queue: %w", err)
	}
	return nil
}

// DrainCommands returns the queue (empty when absent). Commands appended after
// the read are not returned and, with clear, may be deleted along with the queue.
func (s *MailboxServiceImpl) DrainCommands(ctx context.Context, userKey string, clear bool) ([]json.RawMessage, error) {
	if userKey == "" {
		return nil, fmt.Errorf("%w: empty user key", errs.ErrValidation)
	}
	key := commandsKey(userKey)
	b, found := s.read(ctx, key)
	if !found {
		return []json.RawMessage{}, nil
	}
	queue := []json.RawMessage{}
	if err := json.Unmarshal(b, &queue); err != nil {
		return nil, fmt.Errorf("decode command queue: %w", err)
	}
	if queue == nil {
		queue = []json.RawMessage{}
	}
	if clear {
		if err := s.cache.Del(ctx, key); err != nil {
			return nil, fmt.Errorf("clear command queue: %w", err)
		}
	}
	return queue, nil
}

func (s *MailboxServiceImpl) read(ctx context.Context, key string) ([]byte, bool) {
	b, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn("mailbox read", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return b, true
}
