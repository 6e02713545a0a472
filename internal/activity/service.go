package activity

import (
	"context"

	"backend-trailmates/internal/apperr"
	"backend-trailmates/internal/db"
)

// Service reads activity membership and moves activities through their
// upcoming → live → completed lifecycle. Activity CRUD lives elsewhere.
type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

var errActivityNotFound = apperr.New(apperr.KindNotFound, apperr.CodeNotFound, "activity not found")

func (s *Service) Get(ctx context.Context, id string) (Activity, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, title, organizer_id, status, COALESCE(starts_at, created_at), created_at
		FROM activities WHERE id=$1
	`, id)
	var a Activity
	if err := row.Scan(&a.ID, &a.Title, &a.OrganizerID, &a.Status, &a.StartsAt, &a.CreatedAt); err != nil {
		if db.IsNoRows(err) {
			return Activity{}, errActivityNotFound
		}
		return Activity{}, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	return a, nil
}

func (s *Service) Members(ctx context.Context, activityID string) ([]Member, error) {
	rows, err := s.db.Query(ctx, `
		SELECT activity_id, user_id, display_name, role, joined_at
		FROM activity_members WHERE activity_id=$1
		ORDER BY joined_at
	`, activityID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ActivityID, &m.UserID, &m.DisplayName, &m.Role, &m.JoinedAt); err != nil {
			return nil, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	return members, nil
}

func (s *Service) Membership(ctx context.Context, activityID string) (Membership, error) {
	a, err := s.Get(ctx, activityID)
	if err != nil {
		return Membership{}, err
	}
	members, err := s.Members(ctx, activityID)
	if err != nil {
		return Membership{}, err
	}
	return Membership{Activity: a, Members: members}, nil
}

func (s *Service) SetStatus(ctx context.Context, activityID, status string) error {
	tag, err := s.db.Exec(ctx, `UPDATE activities SET status=$2 WHERE id=$1`, activityID, status)
	if err != nil {
		return apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	if tag.RowsAffected() == 0 {
		return errActivityNotFound
	}
	return nil
}
