// Package storage defines the local key-value persistence contract for relayer state.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates a requested key is absent.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates Create lost to an existing value.
	ErrAlreadyExists = errors.New("record already exists")
)

// Keys used for persisted relayer state.
const (
	// KeyRelayer stores the relayer (bundler) secret seed.
	KeyRelayer = "sp:bundler"
	// KeyCredentialID stores the base64url passkey credential id.
	KeyCredentialID = "sp:id"
	// KeyDeployedAccount stores the smart-account contract address.
	KeyDeployedAccount = "sp:deployee"
)

// Entry is one key-value pair of a SetMany batch.
type Entry struct {
	Key   string
	Value string
}

// Store is a small synchronous key-value repository.
type Store interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) (string, error)
	// Set writes value, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// SetMany writes every entry or none of them.
	SetMany(ctx context.Context, entries ...Entry) error
	// Create writes value only when key is absent, returning ErrAlreadyExists otherwise.
	Create(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}
