// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/keypad-relay/internal/model"
)

// UserRepository is the durable identity store.
type UserRepository interface {
	// Create inserts a new account -> user key binding. Duplicate accounts are allowed.
	Create(ctx context.Context, u *model.User) error
	// GetUserKey returns the earliest user key enrolled for the account.
	GetUserKey(ctx context.Context, account string) (string, error)
	// ListUserKeys returns every enrolled user key.
	ListUserKeys(ctx context.Context) ([]string, error)
}
