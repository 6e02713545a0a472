package sos

import (
	"context"
	"encoding/json"

	"backend-trailmates/internal/apperr"
	"backend-trailmates/internal/db"
)

const alertColumns = `id, user_id, activity_id, session_id, lng, lat, type, reason, severity,
	notified_users, responses, resolved, resolved_by, resolved_at, resolution_notes, created_at`

type PostgresStore struct {
	db db.Querier
}

func NewPostgresStore(db db.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, a Alert) error {
	notified, err := json.Marshal(a.NotifiedUsers)
	if err != nil {
		return err
	}
	responses, err := json.Marshal(a.Responses)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO sos_alerts (id, user_id, activity_id, session_id, lng, lat, type, reason, severity,
			notified_users, responses, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, a.ID, a.UserID, a.ActivityID, a.SessionID, a.Location.Lng, a.Location.Lat, a.Type, a.Reason, a.Severity,
		notified, responses, a.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Alert, error) {
	row := p.db.QueryRow(ctx, `SELECT `+alertColumns+` FROM sos_alerts WHERE id=$1`, id)
	a, err := scanAlert(row)
	if err != nil {
		if db.IsNoRows(err) {
			return Alert{}, errNotFound
		}
		return Alert{}, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	return a, nil
}

func (p *PostgresStore) AppendResponse(ctx context.Context, id string, r Response) (Alert, error) {
	entry, err := json.Marshal([]Response{r})
	if err != nil {
		return Alert{}, err
	}
	row := p.db.QueryRow(ctx, `
		UPDATE sos_alerts SET responses = responses || $2::jsonb
		WHERE id=$1 AND resolved=false
		RETURNING `+alertColumns, id, entry)
	return p.conditional(ctx, id, row)
}

func (p *PostgresStore) Resolve(ctx context.Context, id string, res Resolution) (Alert, error) {
	row := p.db.QueryRow(ctx, `
		UPDATE sos_alerts SET resolved=true, resolved_by=$2, resolved_at=$3, resolution_notes=$4
		WHERE id=$1 AND resolved=false
		RETURNING `+alertColumns, id, res.By, res.At, res.Notes)
	return p.conditional(ctx, id, row)
}

// conditional scans the result of a guarded update. No row means the alert
// either does not exist or is already resolved.
func (p *PostgresStore) conditional(ctx context.Context, id string, row scanner) (Alert, error) {
	a, err := scanAlert(row)
	if err == nil {
		return a, nil
	}
	if !db.IsNoRows(err) {
		return Alert{}, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	if _, err := p.Get(ctx, id); err != nil {
		return Alert{}, err
	}
	return Alert{}, errAlreadyResolved
}

func (p *PostgresStore) ListOpen(ctx context.Context, activityID string) ([]Alert, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+alertColumns+`
		FROM sos_alerts WHERE activity_id=$1 AND resolved=false
		ORDER BY created_at DESC
	`, activityID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	return alerts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (Alert, error) {
	var (
		a                   Alert
		notified, responses []byte
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.ActivityID, &a.SessionID, &a.Location.Lng, &a.Location.Lat,
		&a.Type, &a.Reason, &a.Severity, &notified, &responses, &a.Resolved, &a.ResolvedBy,
		&a.ResolvedAt, &a.ResolutionNotes, &a.CreatedAt); err != nil {
		return Alert{}, err
	}
	if err := json.Unmarshal(notified, &a.NotifiedUsers); err != nil {
		return Alert{}, err
	}
	if err := json.Unmarshal(responses, &a.Responses); err != nil {
		return Alert{}, err
	}
	return a, nil
}
