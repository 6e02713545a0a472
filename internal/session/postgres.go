package session

import (
	"context"
	"encoding/json"

	"backend-trailmates/internal/apperr"
	"backend-trailmates/internal/db"
)

// PostgresStore keeps each session as a JSONB document in live_sessions.
// status, ended_at and version are mirrored into columns for the partial
// unique index and the compare-and-set.
type PostgresStore struct {
	db db.Querier
}

func NewPostgresStore(db db.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, s Session) (Session, error) {
	s.Version = 1
	doc, err := json.Marshal(s)
	if err != nil {
		return Session{}, err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO live_sessions (id, activity_id, status, started_at, ended_at, version, doc)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, s.ID, s.ActivityID, s.Status, s.StartedAt, s.EndedAt, s.Version, doc)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Session{}, errAlreadyActive
		}
		return Session{}, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	return s, nil
}

func (p *PostgresStore) Active(ctx context.Context, activityID string) (Session, error) {
	row := p.db.QueryRow(ctx, `
		SELECT doc, version FROM live_sessions
		WHERE activity_id=$1 AND status='active'
	`, activityID)
	s, err := scanDoc(row)
	if err != nil {
		if db.IsNoRows(err) {
			return Session{}, errNoActive
		}
		return Session{}, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	return s, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	row := p.db.QueryRow(ctx, `SELECT doc, version FROM live_sessions WHERE id=$1`, id)
	s, err := scanDoc(row)
	if err != nil {
		if db.IsNoRows(err) {
			return Session{}, errNotFound
		}
		return Session{}, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	return s, nil
}

func (p *PostgresStore) Update(ctx context.Context, s Session) (Session, error) {
	expected := s.Version
	s.Version = expected + 1
	doc, err := json.Marshal(s)
	if err != nil {
		return Session{}, err
	}
	tag, err := p.db.Exec(ctx, `
		UPDATE live_sessions
		SET status=$3, ended_at=$4, version=$5, doc=$6
		WHERE id=$1 AND version=$2
	`, s.ID, expected, s.Status, s.EndedAt, s.Version, doc)
	if err != nil {
		return Session{}, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	if tag.RowsAffected() == 0 {
		return Session{}, errVersion
	}
	return s, nil
}

func (p *PostgresStore) History(ctx context.Context, activityID string) ([]Session, error) {
	rows, err := p.db.Query(ctx, `
		SELECT doc, version FROM live_sessions
		WHERE activity_id=$1
		ORDER BY started_at DESC
	`, activityID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanDoc(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindTransient, apperr.CodeStorage)
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDoc(row scanner) (Session, error) {
	var (
		doc     []byte
		version int64
	)
	if err := row.Scan(&doc, &version); err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(doc, &s); err != nil {
		return Session{}, err
	}
	s.Version = version
	return s, nil
}
