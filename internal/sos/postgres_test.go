package sos

import (
	"context"
	"testing"
	"time"

	"backend-trailmates/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

var alertCols = []string{"id", "user_id", "activity_id", "session_id", "lng", "lat", "type", "reason", "severity",
	"notified_users", "responses", "resolved", "resolved_by", "resolved_at", "resolution_notes", "created_at"}

func alertRow(resolved bool) *pgxmock.Rows {
	var resolvedAt *time.Time
	if resolved {
		now := time.Now()
		resolvedAt = &now
	}
	return pgxmock.NewRows(alertCols).AddRow("alert-1", "user-1", "act-1", "sess-1", 116.4, -8.4, TypeManual, "fall",
		SeverityCritical, []byte(`["org-1"]`), []byte(`[]`), resolved, "", resolvedAt, "", time.Now())
}

func TestPostgresInsertAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()
	store := NewPostgresStore(mock)

	mock.ExpectExec(`INSERT INTO sos_alerts`).
		WithArgs("alert-1", "user-1", "act-1", "", 116.4, -8.4, TypeManual, "fall", SeverityCritical,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	a := Alert{ID: "alert-1", UserID: "user-1", ActivityID: "act-1", Type: TypeManual, Reason: "fall", Severity: SeverityCritical}
	a.Location.Lng, a.Location.Lat = 116.4, -8.4
	if err := store.Insert(context.Background(), a); err != nil {
		t.Fatalf("insert: %v", err)
	}

	mock.ExpectQuery(`SELECT id, user_id, activity_id`).WithArgs("alert-1").WillReturnRows(alertRow(false))
	got, err := store.Get(context.Background(), "alert-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NotifiedUsers[0] != "org-1" || got.Location.Lat != -8.4 || got.Resolved {
		t.Fatalf("unexpected alert: %+v", got)
	}

	mock.ExpectQuery(`SELECT id, user_id, activity_id`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	if _, err := store.Get(context.Background(), "nope"); !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresResolveIsConditional(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()
	store := NewPostgresStore(mock)
	res := Resolution{By: "org-1", At: time.Now()}

	mock.ExpectQuery(`UPDATE sos_alerts SET resolved=true`).
		WithArgs("alert-1", "org-1", pgxmock.AnyArg(), "").
		WillReturnRows(alertRow(true))
	if a, err := store.Resolve(context.Background(), "alert-1", res); err != nil || !a.Resolved {
		t.Fatalf("resolve: %v %+v", err, a)
	}

	mock.ExpectQuery(`UPDATE sos_alerts SET resolved=true`).
		WithArgs("alert-1", "org-1", pgxmock.AnyArg(), "").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT id, user_id, activity_id`).WithArgs("alert-1").WillReturnRows(alertRow(true))
	if _, err := store.Resolve(context.Background(), "alert-1", res); !apperr.Is(err, apperr.CodeAlertAlreadyResolved) {
		t.Fatalf("expected AlertAlreadyResolved, got %v", err)
	}

	mock.ExpectQuery(`UPDATE sos_alerts SET responses`).
		WithArgs("missing", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT id, user_id, activity_id`).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	if _, err := store.AppendResponse(context.Background(), "missing", Response{UserID: "u2", Kind: ResponseOnWay}); !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresListOpen(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM sos_alerts WHERE activity_id=\$1 AND resolved=false`).
		WithArgs("act-1").
		WillReturnRows(alertRow(false))
	alerts, err := NewPostgresStore(mock).ListOpen(context.Background(), "act-1")
	if err != nil || len(alerts) != 1 {
		t.Fatalf("list open: %v %d", err, len(alerts))
	}
}
