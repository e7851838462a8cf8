package kiosk

import (
	"context"
	"time"

	domain "frontdesk/internal/domain/kiosk"
)

// Store persists the agent instances attached to one store file.
type Store interface {
	Save(ctx context.Context, s domain.Session) error
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.Session, error)
	DeleteSeenBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
