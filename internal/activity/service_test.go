package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-trailmates/internal/apperr"

	"github.com/pashagolub/pgxmock/v3"
)

var errQuery = errors.New("query error")

func TestMembership(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, title, organizer_id, status`).
		WithArgs("act-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "organizer_id", "status", "starts_at", "created_at"}).
			AddRow("act-1", "Rinjani summit", "org-1", StatusUpcoming, now, now))
	mock.ExpectQuery(`SELECT activity_id, user_id, display_name, role, joined_at`).
		WithArgs("act-1").
		WillReturnRows(pgxmock.NewRows([]string{"activity_id", "user_id", "display_name", "role", "joined_at"}).
			AddRow("act-1", "user-1", "Ayu", RoleMember, now).
			AddRow("act-1", "user-2", "Budi", RoleMember, now))

	svc := NewService(mock)
	m, err := svc.Membership(context.Background(), "act-1")
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if len(m.Members) != 2 || m.Activity.OrganizerID != "org-1" {
		t.Fatalf("unexpected membership: %+v", m)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, title, organizer_id, status`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "organizer_id", "status", "starts_at", "created_at"}))

	_, err = NewService(mock).Get(context.Background(), "missing")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMembersQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT activity_id, user_id, display_name, role, joined_at`).
		WithArgs("act-err").
		WillReturnError(errQuery)

	_, err = NewService(mock).Members(context.Background(), "act-err")
	if !apperr.Retryable(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`UPDATE activities SET status`).
		WithArgs("act-1", StatusLive).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE activities SET status`).
		WithArgs("missing", StatusLive).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	svc := NewService(mock)
	if err := svc.SetStatus(context.Background(), "act-1", StatusLive); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := svc.SetStatus(context.Background(), "missing", StatusLive); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMembershipRules(t *testing.T) {
	m := Membership{
		Activity: Activity{ID: "act-1", OrganizerID: "Org-1"},
		Members: []Member{
			{UserID: "user-1", DisplayName: "Ayu"},
			{UserID: "org-1", DisplayName: "Organizer"},
		},
	}
	if !m.IsParticipant(" ORG-1 ") {
		t.Fatalf("organizer is an implicit participant")
	}
	if !m.IsParticipant("USER-1") || m.IsParticipant("user-9") || m.IsParticipant("") {
		t.Fatalf("unexpected participant check")
	}
	if !m.IsOrganizer("org-1") || m.IsOrganizer("user-1") {
		t.Fatalf("unexpected organizer check")
	}
	if m.DisplayName("user-1") != "Ayu" || m.DisplayName("nobody") != "" {
		t.Fatalf("unexpected display name")
	}
	ids := m.UserIDs()
	if len(ids) != 2 || ids[0] != "Org-1" || ids[1] != "user-1" {
		t.Fatalf("unexpected user ids: %v", ids)
	}
}
