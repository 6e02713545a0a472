package session

import (
	"context"

	"backend-trailmates/internal/apperr"
)

// Store persists whole session aggregates. Update is a compare-and-set on
// Version: it fails with VersionConflict when the stored version moved on.
type Store interface {
	Insert(ctx context.Context, s Session) (Session, error)
	Active(ctx context.Context, activityID string) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	Update(ctx context.Context, s Session) (Session, error)
	History(ctx context.Context, activityID string) ([]Session, error)
}

var (
	errAlreadyActive = apperr.New(apperr.KindConflict, apperr.CodeSessionAlreadyActive, "session already active")
	errNoActive      = apperr.New(apperr.KindConflict, apperr.CodeNoActiveSession, "no active session")
	errNotFound      = apperr.New(apperr.KindNotFound, apperr.CodeNotFound, "session not found")
	errVersion       = apperr.New(apperr.KindConflict, apperr.CodeVersionConflict, "session modified concurrently")
)
