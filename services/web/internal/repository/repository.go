package repository

import (
	"context"
	"errors"

	apperrors "github.com/TP-Master1-GL/TERRABIA/pkg/errors"
)

// Keys of the per-browser session namespace.
const (
	KeyToken        = "token"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// SessionKeys lists every key a session namespace may hold.
func SessionKeys() []string {
	return []string{KeyToken, KeyRefreshToken, KeyUser}
}

// SessionStore is durable key-value storage partitioned by browser session.
type SessionStore interface {
	// Get returns the value stored under key, or an ErrNotFound error.
	Get(ctx context.Context, namespace, key string) (string, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, namespace, key, value string) error

	// Delete removes all given keys in a single operation.
	Delete(ctx context.Context, namespace string, keys ...string) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// Namespace binds a SessionStore to one browser session.
type Namespace struct {
	store SessionStore
	id    string
}

// NewNamespace returns a view of store restricted to the given session ID.
func NewNamespace(store SessionStore, id string) Namespace {
	return Namespace{store: store, id: id}
}

// ID returns the browser session ID.
func (n Namespace) ID() string {
	return n.id
}

// Get returns the value for key and whether it was present. A missing key is
// not an error.
func (n Namespace) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := n.store.Get(ctx, n.id, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// Set stores value under key.
func (n Namespace) Set(ctx context.Context, key, value string) error {
	return n.store.Set(ctx, n.id, key, value)
}

// Delete removes keys in one operation.
func (n Namespace) Delete(ctx context.Context, keys ...string) error {
	return n.store.Delete(ctx, n.id, keys...)
}
