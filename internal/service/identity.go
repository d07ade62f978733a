// Package service contains application services for identity, mailbox and event log.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/keypad-relay/internal/cache"
	"github.com/and161185/keypad-relay/internal/errs"
	"github.com/and161185/keypad-relay/internal/model"
	"github.com/and161185/keypad-relay/internal/repository"
)

// validityKey holds the JSON snapshot of every enrolled user key.
const validityKey = "UserList"

func accountKey(account string) string { return "user#" + account }

// EnrollPolicy decides what enrolling an already known account does.
type EnrollPolicy string

const (
	// EnrollDuplicate always issues a fresh user key; older keys stay valid.
	EnrollDuplicate EnrollPolicy = "duplicate"
	// EnrollReuse returns the account's existing user key when there is one.
	EnrollReuse EnrollPolicy = "reuse"
)

// ParseEnrollPolicy validates a policy name; empty selects EnrollDuplicate.
func ParseEnrollPolicy(s string) (EnrollPolicy, error) {
	switch EnrollPolicy(s) {
	case "", EnrollDuplicate:
		return EnrollDuplicate, nil
	case EnrollReuse:
		return EnrollReuse, nil
	default:
		return "", fmt.Errorf("%w: unknown enroll policy %q", errs.ErrValidation, s)
	}
}

// IdentityService issues user keys and answers identity questions through the cache.
type IdentityService interface {
	// Enroll binds a new (or, per policy, existing) user key to the account.
	Enroll(ctx context.Context, account string) (string, error)
	// Resolve returns the account's user key; false means "no session".
	Resolve(ctx context.Context, account string) (string, bool)
	// IsValid reports whether userKey is in the current validity snapshot.
	IsValid(ctx context.Context, userKey string) (bool, error)
}

type IdentityServiceImpl struct {
	users       repository.UserRepository
	cache       cache.Cache
	log         *zap.Logger
	validityTTL time.Duration
	policy      EnrollPolicy
}

// NewIdentityService constructs IdentityService.
// validityTTL bounds how stale the validity snapshot may get; 0 leaves it to cache eviction.
func NewIdentityService(users repository.UserRepository, c cache.Cache, log *zap.Logger, validityTTL time.Duration, policy EnrollPolicy) *IdentityServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if policy == "" {
		policy = EnrollDuplicate
	}
	return &IdentityServiceImpl{users: users, cache: c, log: log, validityTTL: validityTTL, policy: policy}
}

// Enroll creates a user record for the account.
// The validity snapshot is not invalidated; the new key may be rejected until it refreshes.
func (s *IdentityServiceImpl) Enroll(ctx context.Context, account string) (string, error) {
	if account == "" {
		return "", fmt.Errorf("%w: empty account", errs.ErrValidation)
	}
	if s.policy == EnrollReuse {
		key, err := s.users.GetUserKey(ctx, account)
		switch {
		case err == nil:
			return key, nil
		case !errors.Is(err, errs.ErrNotFound):
			return "", fmt.Errorf("lookup account: %w", err)
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	u := &model.User{UserKey: id.String(), Account: account}
	if err := s.users.Create(ctx, u); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return u.UserKey, nil
}

// Resolve looks the account up in the cache, falling back to the store.
// Store failures are logged and reported as "no session".
func (s *IdentityServiceImpl) Resolve(ctx context.Context, account string) (string, bool) {
	if account == "" {
		return "", false
	}
	key := accountKey(account)
	if b, err := s.cache.Get(ctx, key); err == nil && len(b) > 0 {
		return string(b), true
	} else if err != nil && !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("identity cache read", zap.String("key", key), zap.Error(err))
	}

	userKey, err := s.users.GetUserKey(ctx, account)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("identity store lookup", zap.String("account", account), zap.Error(err))
		}
		return "", false
	}
	if err := s.cache.Set(ctx, key, []byte(userKey), 0); err != nil {
		s.log.Warn("identity cache write", zap.String("key", key), zap.Error(err))
	}
	return userKey, true
}

// IsValid tests membership in the cached snapshot, reloading it from the store on miss.
// Concurrent cold misses may each reload; the last write wins.
func (s *IdentityServiceImpl) IsValid(ctx context.Context, userKey string) (bool, error) {
	if userKey == "" {
		return false, nil
	}
	keys, ok := s.cachedSnapshot(ctx)
	if !ok {
		var err error
		keys, err = s.users.ListUserKeys(ctx)
		if err != nil {
			return false, fmt.Errorf("reload user keys: %w", err)
		}
		s.storeSnapshot(ctx, keys)
	}
	for _, k := range keys {
		if k == userKey {
			return true, nil
		}
	}
	return false, nil
}

func (s *IdentityServiceImpl) cachedSnapshot(ctx context.Context) ([]string, bool) {
	b, err := s.cache.Get(ctx, validityKey)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn("validity snapshot read", zap.Error(err))
		}
		return nil, false
	}
	var keys []string
	if err := json.Unmarshal(b, &keys); err != nil {
		s.log.Warn("validity snapshot corrupt", zap.Error(err))
		return nil, false
	}
	return keys, true
}

func (s *IdentityServiceImpl) storeSnapshot(ctx context.Context, keys []string) {
	if keys == nil {
		keys = []string{}
	}
	b, err := json.Marshal(keys)
	if err != nil {
		s.log.Error("validity snapshot encode", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, validityKey, b, s.validityTTL); err != nil {
		s.log.Warn("validity snapshot write", zap.Error(err))
	}
}
