package sos

import (
	"context"
	"strings"
	"time"

	"backend-trailmates/internal/activity"
	"backend-trailmates/internal/apperr"
	"backend-trailmates/internal/logger"
	"backend-trailmates/internal/notify"
	"backend-trailmates/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Directory interface {
	Membership(ctx context.Context, activityID string) (activity.Membership, error)
}

// Sessions resolves the active session an alert belongs to. Optional.
type Sessions interface {
	ActiveSession(ctx context.Context, activityID string) (session.Session, error)
}

var errNotParticipant = apperr.New(apperr.KindAuthorization, apperr.CodeNotAParticipant, "not a participant of this activity")

type Service struct {
	store    Store
	dir      Directory
	sessions Sessions
	notifier *notify.Dispatcher
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store Store, dir Directory, sessions Sessions, notifier *notify.Dispatcher, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		dir:      dir,
		sessions: sessions,
		notifier: notifier,
		logger:   logger.OrNop(log),
		now:      time.Now,
	}
}

// Trigger raises a critical alert on behalf of a participant and notifies
// every other participant of the activity.
func (s *Service) Trigger(ctx context.Context, in TriggerInput) (Alert, error) {
	if !in.Location.Valid() {
		return Alert{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidLocation, "location out of range")
	}
	m, err := s.dir.Membership(ctx, in.ActivityID)
	if err != nil {
		return Alert{}, err
	}
	if !m.IsParticipant(in.UserID) {
		return Alert{}, errNotParticipant
	}

	notified := []string{}
	for _, id := range m.UserIDs() {
		if !activity.SameUser(id, in.UserID) {
			notified = append(notified, id)
		}
	}
	typ := in.Type
	if typ != TypeAutomatic {
		typ = TypeManual
	}

	a := Alert{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		ActivityID:    in.ActivityID,
		Location:      in.Location,
		Type:          typ,
		Reason:        strings.TrimSpace(in.Reason),
		Severity:      SeverityCritical,
		NotifiedUsers: notified,
		Responses:     []Response{},
		CreatedAt:     s.now(),
	}
	if s.sessions != nil {
		if sess, err := s.sessions.ActiveSession(ctx, in.ActivityID); err == nil {
			a.SessionID = sess.ID
		}
	}

	if err := s.store.Insert(ctx, a); err != nil {
		return Alert{}, err
	}
	s.logger.Warn("sos triggered",
		zap.String("alert_id", a.ID),
		zap.String("activity_id", a.ActivityID),
		zap.String("user_id", a.UserID),
		zap.Int("notified", len(a.NotifiedUsers)))
	s.notifier.Dispatch(notify.Event{
		Kind:       notify.KindSOSTriggered,
		ActivityID: a.ActivityID,
		UserID:     a.UserID,
		Recipients: a.NotifiedUsers,
		Payload:    a,
		At:         a.CreatedAt,
	})
	return a, nil
}

// Respond records a participant's answer to an open alert.
func (s *Service) Respond(ctx context.Context, alertID, userID, kind, notes string) (Alert, Response, error) {
	if !ValidResponseKind(kind) {
		return Alert{}, Response{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "response must be on_way, contacted or handled")
	}
	if _, err := s.Get(ctx, alertID, userID); err != nil {
		return Alert{}, Response{}, err
	}
	r := Response{UserID: userID, Kind: kind, Notes: strings.TrimSpace(notes), At: s.now()}
	a, err := s.store.AppendResponse(ctx, alertID, r)
	if err != nil {
		return Alert{}, Response{}, err
	}
	s.logger.Info("sos response",
		zap.String("alert_id", alertID), zap.String("user_id", userID), zap.String("response", kind))
	return a, r, nil
}

// Resolve closes the alert. Only the user who raised it or the activity
// organizer may resolve, and only once.
func (s *Service) Resolve(ctx context.Context, alertID, userID, notes string) (Alert, error) {
	a, err := s.store.Get(ctx, alertID)
	if err != nil {
		return Alert{}, err
	}
	if !activity.SameUser(a.UserID, userID) {
		m, err := s.dir.Membership(ctx, a.ActivityID)
		if err != nil {
			return Alert{}, err
		}
		if !m.IsOrganizer(userID) {
			return Alert{}, apperr.New(apperr.KindAuthorization, apperr.CodeForbidden, "only the reporter or the organizer can resolve")
		}
	}

	resolved, err := s.store.Resolve(ctx, alertID, Resolution{By: userID, Notes: strings.TrimSpace(notes), At: s.now()})
	if err != nil {
		return Alert{}, err
	}
	s.logger.Info("sos resolved", zap.String("alert_id", alertID), zap.String("resolved_by", userID))
	s.notifier.Dispatch(notify.Event{
		Kind:       notify.KindSOSResolved,
		ActivityID: resolved.ActivityID,
		UserID:     userID,
		Recipients: resolved.NotifiedUsers,
		Payload:    resolved,
		At:         *resolved.ResolvedAt,
	})
	return resolved, nil
}

// Get returns an alert to a participant of its activity.
func (s *Service) Get(ctx context.Context, alertID, requesterID string) (Alert, error) {
	a, err := s.store.Get(ctx, alertID)
	if err != nil {
		return Alert{}, err
	}
	if err := s.requireParticipant(ctx, a.ActivityID, requesterID); err != nil {
		return Alert{}, err
	}
	return a, nil
}

func (s *Service) ActiveForActivity(ctx context.Context, activityID, requesterID string) ([]Alert, error) {
	if err := s.requireParticipant(ctx, activityID, requesterID); err != nil {
		return nil, err
	}
	return s.store.ListOpen(ctx, activityID)
}

func (s *Service) requireParticipant(ctx context.Context, activityID, userID string) error {
	m, err := s.dir.Membership(ctx, activityID)
	if err != nil {
		return err
	}
	if !m.IsParticipant(userID) {
		return errNotParticipant
	}
	return nil
}
