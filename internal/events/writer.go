package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends trace events to the append-only log. Every agent call,
// round, and commit of a generation run is journaled under its trace id.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, traceID, entityKind, entityID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,trace_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(traceID), entityKind, nullable(entityID), string(data))
	return err
}

// Log writes one event outside any transaction, for failure paths that
// must not join the round commit.
func (w Writer) Log(ctx context.Context, evtType, traceID, entityKind, entityID string, payload EventPayload) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evtType, traceID, entityKind, entityID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
