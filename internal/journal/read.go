package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by ReadSession for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

// Sessions returns every session in the order they were opened.
func (j *Journal) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, org_id, principal_id
		FROM sessions
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.OrgID, &s.PrincipalID); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadSession returns one session.
func (j *Journal) ReadSession(ctx context.Context, id string) (Session, error) {
	var s Session
	err := j.db.QueryRowContext(ctx, `
		SELECT id, org_id, principal_id FROM sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.OrgID, &s.PrincipalID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	return s, nil
}

// Entries returns a session's entries ordered by seq.
//
// Returns an empty slice (not nil) if the session has none.
func (j *Journal) Entries(ctx context.Context, sessionID string) ([]Entry, error) {
	return j.queryEntries(ctx, `
		SELECT session_id, seq, org_id, event, entity_id, hash, outcome, detail, effects
		FROM entries
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
}

// EntriesByHash returns every delivery of one envelope, across sessions,
// in the order recorded. More than one row means the broker redelivered.
func (j *Journal) EntriesByHash(ctx context.Context, hash string) ([]Entry, error) {
	return j.queryEntries(ctx, `
		SELECT session_id, seq, org_id, event, entity_id, hash, outcome, detail, effects
		FROM entries
		WHERE hash = ?
		ORDER BY rowid ASC
	`, hash)
}

func (j *Journal) queryEntries(ctx context.Context, query string, arg string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e       Entry
		effects string
	)
	if err := rows.Scan(
		&e.Session,
		&e.Seq,
		&e.OrgID,
		&e.Event,
		&e.EntityID,
		&e.Hash,
		&e.Outcome,
		&e.Detail,
		&effects,
	); err != nil {
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	list, err := unmarshalEffects(effects)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s/%d: %w", e.Session, e.Seq, err)
	}
	e.Effects = list
	return e, nil
}
