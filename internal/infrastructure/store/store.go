// Package store persists durable session records behind a simple keyed
// record interface.
package store

import (
	"context"
	"errors"

	"sidechat/internal/domain/session"
)

// ErrSessionNotFound is returned when a session is not found.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the keyed record store the reconciler writes to.
type SessionStore interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Save(ctx context.Context, sess *session.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*session.Session, error)
}
