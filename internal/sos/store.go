package sos

import (
	"context"

	"backend-trailmates/internal/apperr"
)

// Store persists alerts. AppendResponse and Resolve only apply to unresolved
// alerts and fail with AlertAlreadyResolved otherwise.
type Store interface {
	Insert(ctx context.Context, a Alert) error
	Get(ctx context.Context, id string) (Alert, error)
	AppendResponse(ctx context.Context, id string, r Response) (Alert, error)
	Resolve(ctx context.Context, id string, res Resolution) (Alert, error)
	ListOpen(ctx context.Context, activityID string) ([]Alert, error)
}

var (
	errNotFound        = apperr.New(apperr.KindNotFound, apperr.CodeNotFound, "alert not found")
	errAlreadyResolved = apperr.New(apperr.KindConflict, apperr.CodeAlertAlreadyResolved, "alert already resolved")
)
