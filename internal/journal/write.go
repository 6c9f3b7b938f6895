package journal

import (
	"context"
	"fmt"
)

// OpenSession records a new subscription. Uses ON CONFLICT(id) DO NOTHING
// so reopening a known session is a no-op.
func (j *Journal) OpenSession(ctx context.Context, s Session) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, org_id, principal_id)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, s.ID, s.OrgID, s.PrincipalID)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	return nil
}

// Append records a processed event. The session must already be open.
// Duplicate (session, seq) pairs are silently ignored.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	effects, err := marshalEffects(e.Effects)
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO entries
		(session_id, seq, org_id, event, entity_id, hash, outcome, detail, effects)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`,
		e.Session,
		e.Seq,
		e.OrgID,
		e.Event,
		e.EntityID,
		e.Hash,
		e.Outcome,
		e.Detail,
		effects,
	)
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}
