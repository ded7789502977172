// Package repository declares the local persistence interfaces.
//
// The only state this client keeps on disk is the provider SDK's credential
// cache: the last session, so a restarted process can restore it.
package repository

import (
	"context"

	"github.com/sakif/framez/internal/model"
)

// SessionRepository stores at most one session per storage key.
//
// LoadSession returns an apperror.ErrNotFound error when nothing is stored.
type SessionRepository interface {
	SaveSession(ctx context.Context, key string, session *model.Session) error
	LoadSession(ctx context.Context, key string) (*model.Session, error)
	DeleteSession(ctx context.Context, key string) error
}
