package session

import (
	"context"
	"time"

	"backend-trailmates/internal/activity"
	"backend-trailmates/internal/apperr"
	"backend-trailmates/internal/logger"
	"backend-trailmates/internal/shared/geo"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxWriteAttempts = 3

// Directory is the activity collaborator the session service depends on.
type Directory interface {
	Membership(ctx context.Context, activityID string) (activity.Membership, error)
	SetStatus(ctx context.Context, activityID, status string) error
}

type Service struct {
	store  Store
	dir    Directory
	locks  *keyedMutex
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, dir Directory, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		dir:    dir,
		locks:  newKeyedMutex(),
		logger: logger.OrNop(log),
		now:    time.Now,
	}
}

// StartSession opens the live session of an activity, seeded with every
// current member. Only the organizer may start it.
func (s *Service) StartSession(ctx context.Context, activityID, requesterID string) (Session, error) {
	unlock := s.locks.Lock(activityID)
	defer unlock()

	m, err := s.dir.Membership(ctx, activityID)
	if err != nil {
		return Session{}, err
	}
	if !m.IsOrganizer(requesterID) {
		return Session{}, apperr.New(apperr.KindAuthorization, apperr.CodeForbidden, "only the organizer can start the session")
	}
	if _, err := s.store.Active(ctx, activityID); err == nil {
		return Session{}, errAlreadyActive
	} else if !apperr.Is(err, apperr.CodeNoActiveSession) {
		return Session{}, err
	}

	now := s.now()
	sess := Session{
		ID:         uuid.NewString(),
		ActivityID: activityID,
		StartedAt:  now,
		Status:     StatusActive,
	}
	for _, id := range m.UserIDs() {
		sess.Participants = append(sess.Participants, newParticipant(activity.Member{
			UserID:      id,
			DisplayName: m.DisplayName(id),
		}))
	}

	created, err := s.store.Insert(ctx, sess)
	if err != nil {
		return Session{}, err
	}
	if err := s.dir.SetStatus(ctx, activityID, activity.StatusLive); err != nil {
		s.logger.Warn("activity status not updated",
			zap.String("activity_id", activityID), zap.String("status", activity.StatusLive), zap.Error(err))
	}
	s.logger.Info("session started",
		zap.String("activity_id", activityID),
		zap.String("session_id", created.ID),
		zap.Int("participants", len(created.Participants)))
	return created, nil
}

// UpsertParticipantLocation appends point to the participant's route, merges
// patch into their stats and recomputes the group aggregate in the same write.
func (s *Service) UpsertParticipantLocation(ctx context.Context, activityID, userID, displayName string, point geo.Point, patch StatsPatch) (Session, error) {
	if !point.Valid() {
		return Session{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidLocation, "location out of range")
	}
	return s.mutate(ctx, activityID, func(sess *Session, now time.Time) error {
		sess.upsertLocation(userID, displayName, point, patch, now)
		Recompute(sess, now)
		return nil
	})
}

func (s *Service) SetParticipantStatus(ctx context.Context, activityID, userID, status string) (Session, error) {
	if !ValidParticipantStatus(status) {
		return Session{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "unknown participant status")
	}
	return s.mutate(ctx, activityID, func(sess *Session, now time.Time) error {
		p := sess.Participant(userID)
		if p == nil {
			return apperr.New(apperr.KindNotFound, apperr.CodeNotFound, "participant not in session")
		}
		p.Status = status
		Recompute(sess, now)
		return nil
	})
}

// EndSession freezes the group aggregate and completes the session. A second
// call fails with NoActiveSession.
func (s *Service) EndSession(ctx context.Context, activityID, requesterID string) (Session, error) {
	m, err := s.dir.Membership(ctx, activityID)
	if err != nil {
		return Session{}, err
	}
	if !m.IsOrganizer(requesterID) {
		return Session{}, apperr.New(apperr.KindAuthorization, apperr.CodeForbidden, "only the organizer can end the session")
	}

	ended, err := s.mutate(ctx, activityID, func(sess *Session, now time.Time) error {
		Recompute(sess, now)
		end := now
		sess.EndedAt = &end
		sess.Status = StatusCompleted
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	if err := s.dir.SetStatus(ctx, activityID, activity.StatusCompleted); err != nil {
		s.logger.Warn("activity status not updated",
			zap.String("activity_id", activityID), zap.String("status", activity.StatusCompleted), zap.Error(err))
	}
	s.logger.Info("session ended",
		zap.String("activity_id", activityID),
		zap.String("session_id", ended.ID),
		zap.Float64("total_distance_m", ended.GroupStats.TotalDistanceM))
	return ended, nil
}

func (s *Service) ActiveSession(ctx context.Context, activityID string) (Session, error) {
	return s.store.Active(ctx, activityID)
}

// ActiveSessionFor is ActiveSession restricted to participants of the activity.
func (s *Service) ActiveSessionFor(ctx context.Context, activityID, requesterID string) (Session, error) {
	if err := s.requireParticipant(ctx, activityID, requesterID); err != nil {
		return Session{}, err
	}
	return s.store.Active(ctx, activityID)
}

func (s *Service) LiveParticipants(ctx context.Context, activityID, requesterID string) ([]Participant, error) {
	sess, err := s.ActiveSessionFor(ctx, activityID, requesterID)
	if err != nil {
		return nil, err
	}
	return sess.Participants, nil
}

func (s *Service) History(ctx context.Context, activityID, requesterID string) ([]Session, error) {
	if err := s.requireParticipant(ctx, activityID, requesterID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, activityID)
}

func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) requireParticipant(ctx context.Context, activityID, userID string) error {
	m, err := s.dir.Membership(ctx, activityID)
	if err != nil {
		return err
	}
	if !m.IsParticipant(userID) {
		return apperr.New(apperr.KindAuthorization, apperr.CodeNotAParticipant, "not a participant of this activity")
	}
	return nil
}

// mutate runs a read-modify-write of the active session under the activity
// lock. The version check covers writers in other processes; on conflict the
// session is re-read and fn re-applied.
func (s *Service) mutate(ctx context.Context, activityID string, fn func(*Session, time.Time) error) (Session, error) {
	unlock := s.locks.Lock(activityID)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		sess, err := s.store.Active(ctx, activityID)
		if err != nil {
			return Session{}, err
		}
		if err := fn(&sess, s.now()); err != nil {
			return Session{}, err
		}
		updated, err := s.store.Update(ctx, sess)
		if err == nil {
			return updated, nil
		}
		if !apperr.Is(err, apperr.CodeVersionConflict) {
			return Session{}, err
		}
		lastErr = err
		s.logger.Debug("session version conflict, retrying",
			zap.String("activity_id", activityID), zap.Int("attempt", attempt))
	}
	return Session{}, lastErr
}
